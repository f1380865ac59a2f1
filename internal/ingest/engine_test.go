package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"marksportal/internal/records"
	"marksportal/internal/store"
)

func studentCSV(n int) string {
	var b strings.Builder
	b.WriteString("roll,name,branch,semester,section,phone,email\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "R%04d,Student %d,CSE,3,A,,\n", i, i)
	}
	return b.String()
}

func TestIngestRejectsEmptyInput(t *testing.T) {
	mem := store.NewMemory()
	eng := NewEngine(mem, 10, nil)

	for _, text := range []string{"", "roll,name\n", "\n \n"} {
		_, err := eng.Ingest(context.Background(), text, records.Student{}, nil)
		require.ErrorIs(t, err, ErrNoRecords)
	}
	require.Zero(t, mem.Count(records.CollStudents))
}

func TestIngestChunking(t *testing.T) {
	mem := store.NewMemory()
	eng := NewEngine(mem, 10, nil)

	var progress [][2]int
	rep, err := eng.Ingest(context.Background(), studentCSV(25), records.Student{}, func(p, total int) {
		progress = append(progress, [2]int{p, total})
	})
	require.NoError(t, err)

	require.Equal(t, 25, rep.Total)
	require.Equal(t, 25, rep.Processed)
	require.Equal(t, 3, rep.Chunks) // ceil(25/10)
	require.Zero(t, rep.Skipped)
	require.Equal(t, [][2]int{{10, 25}, {20, 25}, {25, 25}}, progress)
	require.Equal(t, 25, mem.Count(records.CollStudents))
}

func TestIngestIdempotentUpsert(t *testing.T) {
	mem := store.NewMemory()
	eng := NewEngine(mem, 10, nil)
	csv := studentCSV(12)

	_, err := eng.Ingest(context.Background(), csv, records.Student{}, nil)
	require.NoError(t, err)
	_, err = eng.Ingest(context.Background(), csv, records.Student{}, nil)
	require.NoError(t, err)

	require.Equal(t, 12, mem.Count(records.CollStudents))

	doc, ok, err := mem.GetByKey(context.Background(), records.CollStudents, "R0003")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Student 3", doc.Fields["name"])
}

func TestIngestMergePreservesAbsentFields(t *testing.T) {
	mem := store.NewMemory()
	eng := NewEngine(mem, 10, nil)

	_, err := eng.Ingest(context.Background(), "roll,name,phone\nR1,Alice,12345\n", records.Student{}, nil)
	require.NoError(t, err)

	// The student transformer always writes its full field set, so a
	// later file overwrites phone with empty. Merge semantics show up for
	// fields outside the transformer's set.
	require.NoError(t, mem.SetByKey(context.Background(), records.CollStudents, "R1",
		map[string]any{"counsellor": "Dr. Rao"}, true))

	_, err = eng.Ingest(context.Background(), "roll,name\nR1,Alice B\n", records.Student{}, nil)
	require.NoError(t, err)

	doc, _, _ := mem.GetByKey(context.Background(), records.CollStudents, "R1")
	require.Equal(t, "Alice B", doc.Fields["name"])
	require.Equal(t, "Dr. Rao", doc.Fields["counsellor"])
}

func TestIngestDropsRowsWithoutKey(t *testing.T) {
	mem := store.NewMemory()
	eng := NewEngine(mem, 10, nil)

	csv := "roll,name,branch,semester,section\n" +
		"R1,Alice,CSE,3,A\n" +
		",Ghost,CSE,3,A\n" +
		"R2,Bob,CSE,3,A\n"
	rep, err := eng.Ingest(context.Background(), csv, records.Student{}, nil)
	require.NoError(t, err)

	require.Equal(t, 3, rep.Total)
	require.Equal(t, 1, rep.Skipped)
	require.Equal(t, 2, rep.Processed)
	require.Equal(t, 2, mem.Count(records.CollStudents))
}

func TestIngestAllRowsDroppedIsNotAnError(t *testing.T) {
	mem := store.NewMemory()
	eng := NewEngine(mem, 10, nil)

	rep, err := eng.Ingest(context.Background(), "roll,name\n,Ghost\n,Spook\n", records.Student{}, nil)
	require.NoError(t, err)
	require.Equal(t, 2, rep.Skipped)
	require.Zero(t, rep.Processed)
	require.Zero(t, mem.Count(records.CollStudents))
}

func TestIngestStopsOnChunkFailure(t *testing.T) {
	mem := store.NewMemory()
	boom := errors.New("store unavailable")
	mem.CommitHook = func(commitNo int) error {
		if commitNo == 2 {
			return boom
		}
		return nil
	}
	eng := NewEngine(mem, 10, nil)

	rep, err := eng.Ingest(context.Background(), studentCSV(25), records.Student{}, nil)
	require.ErrorIs(t, err, boom)

	// First chunk stays durably applied; nothing after the failure ran.
	require.Equal(t, 10, rep.Processed)
	require.Equal(t, 1, rep.Chunks)
	require.Equal(t, 10, mem.Count(records.CollStudents))

	// Retrying the same file converges to the full set.
	mem.CommitHook = nil
	rep, err = eng.Ingest(context.Background(), studentCSV(25), records.Student{}, nil)
	require.NoError(t, err)
	require.Equal(t, 25, rep.Processed)
	require.Equal(t, 25, mem.Count(records.CollStudents))
}

func TestIngestInvalidRolesDropped(t *testing.T) {
	mem := store.NewMemory()
	eng := NewEngine(mem, 10, nil)

	csv := "uid,email,role\n" +
		"u1,a@uni.edu,admin\n" +
		"u2,b@uni.edu,wizard\n" +
		"u3,c@uni.edu,STUDENT\n"
	rep, err := eng.Ingest(context.Background(), csv, records.Role{}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, rep.Skipped)
	require.Equal(t, 2, rep.Processed)

	doc, ok, _ := mem.GetByKey(context.Background(), records.CollRoles, "u1")
	require.True(t, ok)
	require.Equal(t, "ADMIN", doc.Fields["role"])
	_, ok, _ = mem.GetByKey(context.Background(), records.CollRoles, "u2")
	require.False(t, ok)
}
