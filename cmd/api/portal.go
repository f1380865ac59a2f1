package main

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"marksportal/internal/auth"
	"marksportal/internal/marks"
	"marksportal/internal/notice"
	"marksportal/internal/records"
)

// handleTicker serves the footer ticker for any authenticated principal.
// Store trouble degrades to an empty list so the page still renders.
func (s *server) handleTicker(c *gin.Context) {
	notices, err := s.notices.Ticker(c.Request.Context(), notice.DefaultTickerLimit)
	if err != nil {
		s.log.WithError(err).Warn("ticker fetch failed")
		c.JSON(http.StatusOK, gin.H{"notices": []notice.Notice{}, "degraded": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{"notices": notices})
}

// facultyFor resolves which faculty id a request acts as: the caller's
// own UID, or an explicit override for admins.
func facultyFor(c *gin.Context, claims auth.Claims) string {
	if claims.Role == records.RoleAdmin {
		if v := c.Query("facultyId"); v != "" {
			return v
		}
	}
	return claims.Subject
}

func (s *server) handleAssignedSubjects(c *gin.Context) {
	claims, _ := auth.FromContext(c)
	refs, err := s.marks.AssignedSubjects(c.Request.Context(), facultyFor(c, claims))
	if err != nil {
		s.log.WithError(err).Error("assignment list failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"subjects": refs})
}

func (s *server) handleRoster(c *gin.Context) {
	branch := c.Query("branch")
	if branch == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "branch is required"})
		return
	}
	roster, err := s.marks.ClassRoster(c.Request.Context(), branch, c.Query("semester"), c.Query("section"))
	if err != nil {
		s.log.WithError(err).Error("roster failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "roster failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"students": roster})
}

func (s *server) handleGridMarks(c *gin.Context) {
	subjectCode := c.Query("subjectCode")
	if subjectCode == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "subjectCode is required"})
		return
	}
	grid, err := s.marks.GridMarks(c.Request.Context(), subjectCode, c.Query("section"), c.Query("examType"))
	if err != nil {
		s.log.WithError(err).Error("grid fetch failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "grid failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"marks": grid})
}

func (s *server) handleGridSave(c *gin.Context) {
	claims, _ := auth.FromContext(c)

	var in marks.GridInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	in.FacultyID = claims.Subject

	saved, err := s.marks.SaveGrid(c.Request.Context(), in, claims.Role == records.RoleAdmin)
	if err != nil {
		if errors.Is(err, marks.ErrNotAssigned) {
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
			return
		}
		s.log.WithError(err).Error("grid save failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "saved": saved})
		return
	}
	c.JSON(http.StatusOK, gin.H{"saved": saved})
}

// rollFor resolves which student a request reads: the caller's own UID
// (rolls double as principal UIDs for students), or an admin override.
func rollFor(c *gin.Context, claims auth.Claims) string {
	if claims.Role == records.RoleAdmin {
		if v := c.Query("roll"); v != "" {
			return v
		}
	}
	return claims.Subject
}

func (s *server) handleStudentProfile(c *gin.Context) {
	claims, _ := auth.FromContext(c)
	profile, err := s.marks.Profile(c.Request.Context(), rollFor(c, claims))
	if err != nil {
		if errors.Is(err, marks.ErrStudentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "student not found"})
			return
		}
		s.log.WithError(err).Error("profile fetch failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "profile failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": profile})
}

func (s *server) handleStudentMarks(c *gin.Context) {
	claims, _ := auth.FromContext(c)
	reports, err := s.marks.StudentMarks(c.Request.Context(), rollFor(c, claims))
	if err != nil {
		s.log.WithError(err).Error("marks fetch failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "marks failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"semesters": reports})
}
