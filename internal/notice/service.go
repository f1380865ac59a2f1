// Package notice manages the notice lifecycle: creation with optional
// expiry and pinning, recent listings, the footer ticker, and the manual
// dual-criteria purge.
package notice

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"marksportal/internal/metrics"
	"marksportal/internal/queue"
	"marksportal/internal/records"
	"marksportal/internal/store"
)

const (
	// DefaultMaxAge is the age past which a notice becomes purge-eligible
	// regardless of explicit expiry.
	DefaultMaxAge = 30 * 24 * time.Hour

	// DefaultPurgeChunk stays below the store's batch ceiling.
	DefaultPurgeChunk = 499

	// DefaultTickerLimit caps the footer ticker.
	DefaultTickerLimit = 5
)

var ErrTitleRequired = errors.New("notice title is required")

// Notice is a stored notice document.
type Notice struct {
	Key       string     `json:"key"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	Active    bool       `json:"active"`
	Pinned    bool       `json:"pinned"`
	CreatedAt time.Time  `json:"createdAt"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// CreateInput carries a new notice. Active defaults to true unless
// explicitly false; ExpiresAt is a human-entered YYYY-MM-DD date converted
// to end of day in the deployment's reference timezone.
type CreateInput struct {
	Title     string `json:"title"`
	Message   string `json:"message"`
	Active    *bool  `json:"active"`
	Pinned    bool   `json:"pinned"`
	ExpiresAt string `json:"expiresAt"`
}

// Summary reports purge eligibility. Eligible is the union of the two
// criteria, deduplicated by document key.
type Summary struct {
	OldByAge      int `json:"oldByAge"`
	ExpiredByDate int `json:"expiredByDate"`
	Eligible      int `json:"eligible"`
	Active        int `json:"active"`
}

// PurgeReport accumulates a purge run.
type PurgeReport struct {
	Eligible int `json:"eligible"`
	Deleted  int `json:"deleted"`
	Chunks   int `json:"chunks"`
}

// PurgeLog is the best-effort record appended after a purge run.
type PurgeLog struct {
	RanAt        time.Time `json:"ranAt"`
	DeletedCount int       `json:"deletedCount"`
	Mode         string    `json:"mode"`
	Errors       []string  `json:"errors,omitempty"`
}

// Service implements the notice lifecycle over the store gateway. The
// purge log travels through the queue to the worker; losing it never fails
// a purge.
type Service struct {
	store      store.Gateway
	logQueue   queue.Queue
	loc        *time.Location
	maxAge     time.Duration
	purgeChunk int
	now        func() time.Time
	log        *logrus.Entry
}

func NewService(gw store.Gateway, logQueue queue.Queue, loc *time.Location, maxAge time.Duration, purgeChunk int, log *logrus.Entry) *Service {
	if loc == nil {
		loc = time.UTC
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	if purgeChunk <= 0 || purgeChunk > store.MaxBatchOps {
		purgeChunk = DefaultPurgeChunk
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Service{
		store:      gw,
		logQueue:   logQueue,
		loc:        loc,
		maxAge:     maxAge,
		purgeChunk: purgeChunk,
		now:        func() time.Time { return time.Now().UTC() },
		log:        log,
	}
}

// Create stores a new notice and returns its generated key. CreatedAt is
// always server-assigned.
func (s *Service) Create(ctx context.Context, in CreateInput) (string, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return "", ErrTitleRequired
	}

	active := true
	if in.Active != nil {
		active = *in.Active
	}

	fields := map[string]any{
		"title":     title,
		"message":   in.Message,
		"active":    active,
		"pinned":    in.Pinned,
		"createdAt": s.store.ServerTimestamp(),
	}
	if in.ExpiresAt != "" {
		if exp, ok := s.endOfDay(in.ExpiresAt); ok {
			fields["expiresAt"] = exp
		} else {
			s.log.WithField("expiresAt", in.ExpiresAt).Warn("notice: unparseable expiry date ignored")
		}
	}
	return s.store.AddWithGeneratedKey(ctx, records.CollNotices, fields)
}

// endOfDay converts a YYYY-MM-DD date to 23:59:59 in the reference zone.
func (s *Service) endOfDay(date string) (time.Time, bool) {
	d, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(date), s.loc)
	if err != nil {
		return time.Time{}, false
	}
	return d.Add(23*time.Hour + 59*time.Minute + 59*time.Second), true
}

// Recent lists notices most-recent-first, capped to limit.
func (s *Service) Recent(ctx context.Context, limit int) ([]Notice, error) {
	docs, err := s.store.QueryAll(ctx, records.CollNotices, 0)
	if err != nil {
		return nil, err
	}
	notices := decodeAll(docs)
	sort.SliceStable(notices, func(i, j int) bool {
		return notices[i].CreatedAt.After(notices[j].CreatedAt)
	})
	if limit > 0 && len(notices) > limit {
		notices = notices[:limit]
	}
	return notices, nil
}

// Ticker returns active, unexpired notices for the footer,
// most-urgent-expiry-first; notices without an explicit expiry sort last.
// Pinned notices come before unpinned ones.
func (s *Service) Ticker(ctx context.Context, limit int) ([]Notice, error) {
	if limit <= 0 {
		limit = DefaultTickerLimit
	}
	docs, err := s.store.QueryEqual(ctx, records.CollNotices, "active", true, 0)
	if err != nil {
		return nil, err
	}
	now := s.now()
	var notices []Notice
	for _, n := range decodeAll(docs) {
		if n.ExpiresAt != nil && n.ExpiresAt.Before(now) {
			continue
		}
		notices = append(notices, n)
	}
	sort.SliceStable(notices, func(i, j int) bool {
		a, b := notices[i], notices[j]
		if a.Pinned != b.Pinned {
			return a.Pinned
		}
		switch {
		case a.ExpiresAt == nil && b.ExpiresAt == nil:
			return a.CreatedAt.After(b.CreatedAt)
		case a.ExpiresAt == nil:
			return false
		case b.ExpiresAt == nil:
			return true
		default:
			return a.ExpiresAt.Before(*b.ExpiresAt)
		}
	})
	if len(notices) > limit {
		notices = notices[:limit]
	}
	return notices, nil
}

// Summarize computes purge eligibility with three independent queries run
// concurrently and merged client-side; the store cannot OR these
// predicates natively.
func (s *Service) Summarize(ctx context.Context) (Summary, error) {
	old, expired, active, err := s.eligibilityQueries(ctx, true)
	if err != nil {
		return Summary{}, err
	}
	return Summary{
		OldByAge:      len(old),
		ExpiredByDate: len(expired),
		Eligible:      len(unionKeys(old, expired)),
		Active:        len(active),
	}, nil
}

// Purge re-runs the eligibility queries (the summary view may be stale),
// unions the results by key, and deletes them in atomic chunks. Zero
// eligible documents is a success no-op. The purge log is appended best
// effort and never affects the reported outcome.
func (s *Service) Purge(ctx context.Context, progress func(deleted, total int)) (PurgeReport, error) {
	old, expired, _, err := s.eligibilityQueries(ctx, false)
	if err != nil {
		return PurgeReport{}, err
	}

	keys := unionKeys(old, expired)
	sort.Strings(keys)
	rep := PurgeReport{Eligible: len(keys)}

	var purgeErr error
	for start := 0; start < len(keys) && purgeErr == nil; start += s.purgeChunk {
		end := start + s.purgeChunk
		if end > len(keys) {
			end = len(keys)
		}
		batch := s.store.NewBatch()
		for _, k := range keys[start:end] {
			batch.Delete(records.CollNotices, k)
		}
		if err := batch.Commit(ctx); err != nil {
			purgeErr = err
			break
		}
		rep.Chunks++
		rep.Deleted = end
		metrics.NoticesPurged.Add(float64(end - start))
		if progress != nil {
			progress(rep.Deleted, rep.Eligible)
		}
	}

	s.appendLog(ctx, rep, purgeErr)

	if purgeErr != nil {
		s.log.WithFields(logrus.Fields{
			"deleted":  rep.Deleted,
			"eligible": rep.Eligible,
		}).WithError(purgeErr).Error("notice: purge stopped on chunk failure")
		return rep, purgeErr
	}
	s.log.WithFields(logrus.Fields{
		"deleted": rep.Deleted,
		"chunks":  rep.Chunks,
	}).Info("notice: purge complete")
	return rep, nil
}

// eligibilityQueries fans out the age, expiry and (optionally) active
// queries and merges their results.
func (s *Service) eligibilityQueries(ctx context.Context, withActive bool) (old, expired, active []store.Doc, err error) {
	now := s.now()
	cutoff := now.Add(-s.maxAge)

	var wg sync.WaitGroup
	var oldErr, expErr, actErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		old, oldErr = s.store.QueryLessThan(ctx, records.CollNotices, "createdAt", cutoff, 0)
	}()
	go func() {
		defer wg.Done()
		expired, expErr = s.store.QueryLessThan(ctx, records.CollNotices, "expiresAt", now, 0)
	}()
	if withActive {
		wg.Add(1)
		go func() {
			defer wg.Done()
			active, actErr = s.store.QueryEqual(ctx, records.CollNotices, "active", true, 0)
		}()
	}
	wg.Wait()

	for _, e := range []error{oldErr, expErr, actErr} {
		if e != nil {
			return nil, nil, nil, e
		}
	}
	return old, expired, active, nil
}

// appendLog publishes the purge log through the queue. Best effort: a
// publish failure is logged and swallowed.
func (s *Service) appendLog(ctx context.Context, rep PurgeReport, purgeErr error) {
	entry := PurgeLog{
		RanAt:        s.now(),
		DeletedCount: rep.Deleted,
		Mode:         "manual",
	}
	if purgeErr != nil {
		entry.Errors = []string{purgeErr.Error()}
	}
	body, err := json.Marshal(entry)
	if err != nil {
		s.log.WithError(err).Warn("notice: purge log marshal failed")
		return
	}
	if s.logQueue == nil {
		return
	}
	if err := s.logQueue.Publish(ctx, queue.Message{Type: queue.TypePurgeLog, Body: body}); err != nil {
		s.log.WithError(err).Warn("notice: purge log publish failed")
	}
}

// unionKeys merges document sets by key; a document matching both
// criteria counts once.
func unionKeys(sets ...[]store.Doc) []string {
	seen := make(map[string]struct{})
	var keys []string
	for _, set := range sets {
		for _, d := range set {
			if _, ok := seen[d.Key]; ok {
				continue
			}
			seen[d.Key] = struct{}{}
			keys = append(keys, d.Key)
		}
	}
	return keys
}

// decode maps a stored document onto a Notice, tolerating missing fields.
func decode(d store.Doc) Notice {
	n := Notice{
		Key:     d.Key,
		Title:   fieldString(d.Fields, "title"),
		Message: fieldString(d.Fields, "message"),
	}
	if v, ok := d.Fields["active"].(bool); ok {
		n.Active = v
	}
	if v, ok := d.Fields["pinned"].(bool); ok {
		n.Pinned = v
	}
	if v, ok := d.Fields["createdAt"].(time.Time); ok {
		n.CreatedAt = v
	}
	if v, ok := d.Fields["expiresAt"].(time.Time); ok {
		n.ExpiresAt = &v
	}
	return n
}

func decodeAll(docs []store.Doc) []Notice {
	notices := make([]Notice, 0, len(docs))
	for _, d := range docs {
		notices = append(notices, decode(d))
	}
	return notices
}

func fieldString(fields map[string]any, key string) string {
	s, _ := fields[key].(string)
	return s
}
