// Package metrics defines the portal's prometheus instruments, exposed on
// /metrics by cmd/api.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordsIngested counts records durably committed by bulk ingestion.
	RecordsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marksportal_records_ingested_total",
		Help: "Records committed by bulk CSV ingestion, per collection.",
	}, []string{"collection"})

	// RecordsSkipped counts rows dropped for an unresolvable identity key.
	RecordsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marksportal_records_skipped_total",
		Help: "CSV rows dropped because no identity key could be derived.",
	}, []string{"collection"})

	// ChunksCommitted counts atomic batch commits made by ingestion.
	ChunksCommitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marksportal_chunks_committed_total",
		Help: "Atomic batch commits made by bulk CSV ingestion, per collection.",
	}, []string{"collection"})

	// NoticesPurged counts notices deleted by purge runs.
	NoticesPurged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marksportal_notices_purged_total",
		Help: "Notices deleted by manual purge runs.",
	})
)
