// Package ingest drives chunked, idempotent upsert of CSV records into the
// document store.
package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"marksportal/internal/csvrec"
	"marksportal/internal/metrics"
	"marksportal/internal/records"
	"marksportal/internal/store"
)

// DefaultChunkSize keeps headroom below the store's batch ceiling.
const DefaultChunkSize = 400

// ErrNoRecords means the input produced no records at all: no file, empty
// text, or a header-only file. Rejected before any store interaction.
var ErrNoRecords = errors.New("no records to ingest")

// Report accumulates the outcome of one ingestion run.
//
// Processed counts keyed rows durably committed; on a mid-run failure it
// reflects the chunks that did commit — earlier chunks stay applied, and
// re-submitting the same file is safe because upsert-by-key is idempotent.
type Report struct {
	Total     int `json:"total"`     // parsed rows
	Keyed     int `json:"keyed"`     // rows with a resolvable identity key
	Skipped   int `json:"skipped"`   // rows dropped for a missing key
	Processed int `json:"processed"` // rows committed
	Chunks    int `json:"chunks"`    // batch commits made
}

// Progress is reported after each successful chunk commit.
type Progress func(processed, total int)

// Engine commits transformed records in fixed-size atomic chunks. Chunks
// are independent: there is no cross-chunk atomicity.
type Engine struct {
	store store.Gateway
	chunk int
	log   *logrus.Entry
}

func NewEngine(gw store.Gateway, chunkSize int, log *logrus.Entry) *Engine {
	if chunkSize <= 0 || chunkSize >= store.MaxBatchOps {
		chunkSize = DefaultChunkSize
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Engine{store: gw, chunk: chunkSize, log: log}
}

// Ingest parses text and upserts every keyed row through tr. Rows whose
// identity key resolves to absent are counted and dropped, never fatal.
// On a chunk commit failure the engine stops and returns the counts so
// far; the caller may retry the whole file.
func (e *Engine) Ingest(ctx context.Context, text string, tr records.Transformer, progress Progress) (Report, error) {
	recs := csvrec.Parse(text)
	if len(recs) == 0 {
		return Report{}, ErrNoRecords
	}

	type keyedRec struct {
		key string
		rec csvrec.Record
	}
	rep := Report{Total: len(recs)}
	rows := make([]keyedRec, 0, len(recs))
	for _, r := range recs {
		k := tr.Key(r)
		if k == "" {
			rep.Skipped++
			continue
		}
		rows = append(rows, keyedRec{key: k, rec: r})
	}
	rep.Keyed = len(rows)
	metrics.RecordsSkipped.WithLabelValues(tr.Collection()).Add(float64(rep.Skipped))
	if len(rows) == 0 {
		e.log.WithFields(logrus.Fields{
			"collection": tr.Collection(),
			"total":      rep.Total,
			"skipped":    rep.Skipped,
		}).Warn("ingest: every row dropped for a missing key")
		return rep, nil
	}

	for start := 0; start < len(rows); start += e.chunk {
		end := start + e.chunk
		if end > len(rows) {
			end = len(rows)
		}

		batch := e.store.NewBatch()
		ts := e.store.ServerTimestamp()
		for _, row := range rows[start:end] {
			batch.Set(tr.Collection(), row.key, tr.Fields(row.rec, ts), true)
		}
		if err := batch.Commit(ctx); err != nil {
			e.log.WithFields(logrus.Fields{
				"collection": tr.Collection(),
				"processed":  rep.Processed,
				"remaining":  rep.Keyed - rep.Processed,
			}).WithError(err).Error("ingest: chunk commit failed, stopping")
			return rep, fmt.Errorf("chunk %d commit: %w", rep.Chunks+1, err)
		}

		rep.Chunks++
		rep.Processed = end
		metrics.RecordsIngested.WithLabelValues(tr.Collection()).Add(float64(end - start))
		metrics.ChunksCommitted.WithLabelValues(tr.Collection()).Inc()
		if progress != nil {
			progress(rep.Processed, rep.Keyed)
		}
	}

	e.log.WithFields(logrus.Fields{
		"collection": tr.Collection(),
		"processed":  rep.Processed,
		"skipped":    rep.Skipped,
		"chunks":     rep.Chunks,
	}).Info("ingest: complete")
	return rep, nil
}
