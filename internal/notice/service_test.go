package notice

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"marksportal/internal/queue"
	"marksportal/internal/records"
	"marksportal/internal/store"
)

var now = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) (*Service, *store.Memory, *queue.InMemory) {
	t.Helper()
	mem := store.NewMemory()
	mem.Now = func() time.Time { return now }
	q := queue.NewInMemory(8)
	svc := NewService(mem, q, time.UTC, DefaultMaxAge, 2, nil)
	svc.now = func() time.Time { return now }
	return svc, mem, q
}

func seedNotice(t *testing.T, mem *store.Memory, key, title string, createdAt time.Time, expiresAt *time.Time, active bool) {
	t.Helper()
	fields := map[string]any{
		"title":     title,
		"message":   "",
		"active":    active,
		"pinned":    false,
		"createdAt": createdAt,
	}
	if expiresAt != nil {
		fields["expiresAt"] = *expiresAt
	}
	require.NoError(t, mem.SetByKey(context.Background(), records.CollNotices, key, fields, false))
}

func TestCreateRequiresTitle(t *testing.T) {
	svc, _, _ := newFixture(t)
	_, err := svc.Create(context.Background(), CreateInput{Title: "   "})
	require.ErrorIs(t, err, ErrTitleRequired)
}

func TestCreateDefaultsAndExpiry(t *testing.T) {
	svc, mem, _ := newFixture(t)

	key, err := svc.Create(context.Background(), CreateInput{
		Title:     "Exam schedule",
		ExpiresAt: "2026-09-15",
	})
	require.NoError(t, err)

	doc, ok, err := mem.GetByKey(context.Background(), records.CollNotices, key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, true, doc.Fields["active"])
	require.Equal(t, false, doc.Fields["pinned"])
	require.Equal(t, now, doc.Fields["createdAt"])
	require.Equal(t,
		time.Date(2026, 9, 15, 23, 59, 59, 0, time.UTC),
		doc.Fields["expiresAt"])
}

func TestCreateExplicitInactiveAndBadExpiry(t *testing.T) {
	svc, mem, _ := newFixture(t)

	inactive := false
	key, err := svc.Create(context.Background(), CreateInput{
		Title:     "Draft",
		Active:    &inactive,
		ExpiresAt: "not-a-date",
	})
	require.NoError(t, err)

	doc, _, _ := mem.GetByKey(context.Background(), records.CollNotices, key)
	require.Equal(t, false, doc.Fields["active"])
	_, hasExpiry := doc.Fields["expiresAt"]
	require.False(t, hasExpiry)
}

func TestEndOfDayUsesReferenceZone(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	svc := NewService(store.NewMemory(), nil, loc, DefaultMaxAge, 0, nil)

	exp, ok := svc.endOfDay("2026-09-15")
	require.True(t, ok)
	require.Equal(t, "2026-09-15T23:59:59+05:30", exp.Format(time.RFC3339))
}

func TestRecentOrdersNewestFirst(t *testing.T) {
	svc, mem, _ := newFixture(t)
	seedNotice(t, mem, "n1", "first", now.Add(-3*time.Hour), nil, true)
	seedNotice(t, mem, "n2", "second", now.Add(-1*time.Hour), nil, true)
	seedNotice(t, mem, "n3", "third", now.Add(-2*time.Hour), nil, false)

	got, err := svc.Recent(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "second", got[0].Title)
	require.Equal(t, "third", got[1].Title)
}

func TestTickerFiltersAndOrders(t *testing.T) {
	svc, mem, _ := newFixture(t)
	soon := now.Add(24 * time.Hour)
	later := now.Add(72 * time.Hour)
	past := now.Add(-time.Hour)

	seedNotice(t, mem, "a", "expires soon", now.Add(-time.Hour), &soon, true)
	seedNotice(t, mem, "b", "expires later", now.Add(-time.Hour), &later, true)
	seedNotice(t, mem, "c", "already expired", now.Add(-time.Hour), &past, true)
	seedNotice(t, mem, "d", "inactive", now.Add(-time.Hour), &soon, false)
	seedNotice(t, mem, "e", "no expiry", now.Add(-time.Hour), nil, true)

	got, err := svc.Ticker(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, "expires soon", got[0].Title)
	require.Equal(t, "expires later", got[1].Title)
	require.Equal(t, "no expiry", got[2].Title)
}

func TestTickerCapAndPinnedFirst(t *testing.T) {
	svc, mem, _ := newFixture(t)
	for i, key := range []string{"t1", "t2", "t3"} {
		exp := now.Add(time.Duration(i+1) * time.Hour)
		seedNotice(t, mem, key, key, now, &exp, true)
	}
	pinnedExp := now.Add(48 * time.Hour)
	require.NoError(t, mem.SetByKey(context.Background(), records.CollNotices, "pin", map[string]any{
		"title": "pinned", "active": true, "pinned": true,
		"createdAt": now, "expiresAt": pinnedExp,
	}, false))

	got, err := svc.Ticker(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "pinned", got[0].Title)
	require.Equal(t, "t1", got[1].Title)
}

func TestTickerEmptyAndError(t *testing.T) {
	svc, mem, _ := newFixture(t)

	got, err := svc.Ticker(context.Background(), 5)
	require.NoError(t, err)
	require.Empty(t, got)

	_ = mem // store-failure degradation is the HTTP handler's concern
}

// The canonical union property: A old by age only, B expired by date only,
// C both, D neither. Purge removes exactly {A,B,C}; totals never double
// count C.
func TestPurgeUnionSemantics(t *testing.T) {
	svc, mem, q := newFixture(t)

	oldTime := now.Add(-40 * 24 * time.Hour)
	freshTime := now.Add(-time.Hour)
	pastExpiry := now.Add(-2 * time.Hour)
	futureExpiry := now.Add(24 * time.Hour)

	seedNotice(t, mem, "A", "old by age", oldTime, &futureExpiry, true)
	seedNotice(t, mem, "B", "expired by date", freshTime, &pastExpiry, true)
	seedNotice(t, mem, "C", "both", oldTime, &pastExpiry, true)
	seedNotice(t, mem, "D", "neither", freshTime, &futureExpiry, true)

	sum, err := svc.Summarize(context.Background())
	require.NoError(t, err)
	require.Equal(t, Summary{OldByAge: 2, ExpiredByDate: 2, Eligible: 3, Active: 4}, sum)

	var progress [][2]int
	rep, err := svc.Purge(context.Background(), func(deleted, total int) {
		progress = append(progress, [2]int{deleted, total})
	})
	require.NoError(t, err)
	require.Equal(t, PurgeReport{Eligible: 3, Deleted: 3, Chunks: 2}, rep) // chunk size 2
	require.Equal(t, [][2]int{{2, 3}, {3, 3}}, progress)

	_, ok, _ := mem.GetByKey(context.Background(), records.CollNotices, "D")
	require.True(t, ok)
	for _, key := range []string{"A", "B", "C"} {
		_, ok, _ := mem.GetByKey(context.Background(), records.CollNotices, key)
		require.False(t, ok, "notice %s should be purged", key)
	}

	// Purge log went through the queue.
	msgs, err := q.Consume(context.Background())
	require.NoError(t, err)
	msg := <-msgs
	require.Equal(t, queue.TypePurgeLog, msg.Type)
	var entry PurgeLog
	require.NoError(t, json.Unmarshal(msg.Body, &entry))
	require.Equal(t, 3, entry.DeletedCount)
	require.Equal(t, "manual", entry.Mode)
	require.Empty(t, entry.Errors)
}

func TestPurgeZeroEligibleIsNoOp(t *testing.T) {
	svc, mem, _ := newFixture(t)
	seedNotice(t, mem, "D", "fresh", now.Add(-time.Hour), nil, true)

	rep, err := svc.Purge(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, PurgeReport{}, rep)
	require.Equal(t, 1, mem.Count(records.CollNotices))
}

func TestPurgeLogFailureDoesNotFailPurge(t *testing.T) {
	svc, mem, _ := newFixture(t)
	svc.logQueue = failingQueue{}
	old := now.Add(-40 * 24 * time.Hour)
	seedNotice(t, mem, "A", "old", old, nil, true)

	rep, err := svc.Purge(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, 1, rep.Deleted)
}

func TestPurgeChunkFailureReportsProgress(t *testing.T) {
	svc, mem, q := newFixture(t)
	old := now.Add(-40 * 24 * time.Hour)
	for _, key := range []string{"A", "B", "C", "D2", "E"} {
		seedNotice(t, mem, key, key, old, nil, true)
	}
	mem.CommitHook = func(commitNo int) error {
		if commitNo == 2 {
			return context.DeadlineExceeded
		}
		return nil
	}

	rep, err := svc.Purge(context.Background(), nil)
	require.Error(t, err)
	require.Equal(t, 2, rep.Deleted) // first chunk of 2 applied
	require.Equal(t, 1, rep.Chunks)

	// The best-effort log still records the partial run and the error.
	msgs, _ := q.Consume(context.Background())
	var entry PurgeLog
	require.NoError(t, json.Unmarshal((<-msgs).Body, &entry))
	require.Equal(t, 2, entry.DeletedCount)
	require.NotEmpty(t, entry.Errors)
}

type failingQueue struct{}

func (failingQueue) Publish(context.Context, queue.Message) error {
	return context.DeadlineExceeded
}

func (failingQueue) Consume(context.Context) (<-chan queue.Message, error) {
	return nil, context.DeadlineExceeded
}
