package main

import (
	"errors"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"marksportal/internal/csvrec"
	"marksportal/internal/ingest"
	"marksportal/internal/notice"
	"marksportal/internal/records"
)

// handleRecordSave upserts a single record of the given entity, the same
// path a CSV row takes but for one form submission.
func (s *server) handleRecordSave(c *gin.Context) {
	tr, ok := records.ByEntity[c.Param("entity")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown entity"})
		return
	}

	var rec csvrec.Record
	if err := c.ShouldBindJSON(&rec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	key := tr.Key(rec)
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "record is missing its key fields"})
		return
	}

	fields := tr.Fields(rec, s.store.ServerTimestamp())
	if err := s.store.SetByKey(c.Request.Context(), tr.Collection(), key, fields, true); err != nil {
		s.log.WithError(err).Error("record save failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key})
}

// handleCSVUpload ingests a CSV either as a multipart "file" field or as
// the raw request body.
func (s *server) handleCSVUpload(c *gin.Context) {
	tr, ok := records.ByEntity[c.Param("entity")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown entity"})
		return
	}

	var text string
	switch {
	case strings.Contains(c.ContentType(), "multipart/form-data"):
		file, _, err := c.Request.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file field required"})
			return
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "read file failed"})
			return
		}
		text = string(data)
	default:
		data, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "read body failed"})
			return
		}
		text = string(data)
	}

	rep, err := s.ingest.Ingest(c.Request.Context(), text, tr, nil)
	if err != nil {
		if errors.Is(err, ingest.ErrNoRecords) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "csv has no data rows"})
			return
		}
		// Partial progress is still useful to the caller.
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "report": rep})
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": rep})
}

// handleOverview returns document counts per collection for the admin
// dashboard. A collection that cannot be counted reports -1 rather than
// failing the whole view.
func (s *server) handleOverview(c *gin.Context) {
	collections := []string{
		records.CollStudents, records.CollFaculty, records.CollSubjects,
		records.CollAssignments, records.CollMarks, records.CollNotices,
	}
	counts := make(map[string]int, len(collections))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, coll := range collections {
		wg.Add(1)
		go func(coll string) {
			defer wg.Done()
			docs, err := s.store.QueryAll(c.Request.Context(), coll, 0)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.log.WithError(err).WithField("collection", coll).Warn("overview count failed")
				counts[coll] = -1
				return
			}
			counts[coll] = len(docs)
		}(coll)
	}
	wg.Wait()
	c.JSON(http.StatusOK, gin.H{"counts": counts})
}

func (s *server) handleRoleAssign(c *gin.Context) {
	var req struct {
		UID   string `json:"uid" binding:"required"`
		Email string `json:"email"`
		Role  string `json:"role" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.gate.Assign(c.Request.Context(), req.UID, req.Email, req.Role); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"uid": req.UID})
}

func (s *server) handleNoticeCreate(c *gin.Context) {
	var in notice.CreateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	key, err := s.notices.Create(c.Request.Context(), in)
	if err != nil {
		if errors.Is(err, notice.ErrTitleRequired) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.log.WithError(err).Error("notice create failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"key": key})
}

func (s *server) handleNoticeList(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	notices, err := s.notices.Recent(c.Request.Context(), limit)
	if err != nil {
		s.log.WithError(err).Error("notice list failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"notices": notices})
}

func (s *server) handlePurgeSummary(c *gin.Context) {
	summary, err := s.notices.Summarize(c.Request.Context())
	if err != nil {
		s.log.WithError(err).Error("purge summary failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "summary failed"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *server) handlePurge(c *gin.Context) {
	rep, err := s.notices.Purge(c.Request.Context(), nil)
	if err != nil {
		s.log.WithError(err).Error("purge failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "report": rep})
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (s *server) handlePurgeLogs(c *gin.Context) {
	docs, err := s.store.QueryAll(c.Request.Context(), records.CollPurgeLogs, 0)
	if err != nil {
		s.log.WithError(err).Error("purge log list failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
		return
	}
	type logEntry struct {
		RanAt        time.Time `json:"ranAt"`
		DeletedCount int       `json:"deletedCount"`
		Mode         string    `json:"mode"`
		Errors       []string  `json:"errors,omitempty"`
	}
	entries := make([]logEntry, 0, len(docs))
	for _, d := range docs {
		var e logEntry
		if t, ok := d.Fields["ranAt"].(time.Time); ok {
			e.RanAt = t
		}
		switch v := d.Fields["deletedCount"].(type) {
		case int64:
			e.DeletedCount = int(v)
		case float64:
			e.DeletedCount = int(v)
		case int:
			e.DeletedCount = v
		}
		e.Mode, _ = d.Fields["mode"].(string)
		if raw, ok := d.Fields["errors"].([]any); ok {
			for _, item := range raw {
				if msg, ok := item.(string); ok {
					e.Errors = append(e.Errors, msg)
				}
			}
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].RanAt.After(entries[j].RanAt) })
	c.JSON(http.StatusOK, gin.H{"logs": entries})
}
