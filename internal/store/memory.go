package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Gateway for development and tests. It honors
// merge semantics, batch atomicity and the batch op ceiling, and resolves
// server-timestamp tokens against Now.
type Memory struct {
	mu   sync.Mutex
	data map[string]map[string]map[string]any

	// Now supplies the server clock; tests override it.
	Now func() time.Time

	// CommitHook, when set, runs before each batch commit with the 1-based
	// commit number; returning an error aborts that commit. Used by tests
	// to simulate store failures.
	CommitHook func(commitNo int) error

	commits int
}

// serverTS is the Memory store's server-timestamp token.
type serverTS struct{}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		data: make(map[string]map[string]map[string]any),
		Now:  func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) GetByKey(_ context.Context, collection, key string) (Doc, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fields, ok := m.data[collection][key]
	if !ok {
		return Doc{}, false, nil
	}
	return Doc{Key: key, Fields: copyFields(fields)}, true, nil
}

func (m *Memory) SetByKey(_ context.Context, collection, key string, fields map[string]any, merge bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apply(collection, key, fields, merge)
	return nil
}

func (m *Memory) DeleteByKey(_ context.Context, collection, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data[collection], key)
	return nil
}

func (m *Memory) AddWithGeneratedKey(_ context.Context, collection string, fields map[string]any) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := uuid.NewString()
	m.apply(collection, key, fields, false)
	return key, nil
}

func (m *Memory) QueryEqual(_ context.Context, collection, field string, value any, limit int) ([]Doc, error) {
	return m.query(collection, limit, func(fields map[string]any) bool {
		v, ok := fields[field]
		return ok && compare(v, value) == 0
	}), nil
}

func (m *Memory) QueryLessThan(_ context.Context, collection, field string, value any, limit int) ([]Doc, error) {
	return m.query(collection, limit, func(fields map[string]any) bool {
		v, ok := fields[field]
		return ok && compare(v, value) < 0
	}), nil
}

func (m *Memory) QueryGreaterThan(_ context.Context, collection, field string, value any, limit int) ([]Doc, error) {
	return m.query(collection, limit, func(fields map[string]any) bool {
		v, ok := fields[field]
		return ok && compare(v, value) > 0
	}), nil
}

func (m *Memory) QueryAll(_ context.Context, collection string, limit int) ([]Doc, error) {
	return m.query(collection, limit, func(map[string]any) bool { return true }), nil
}

func (m *Memory) NewBatch() Batch {
	return &memoryBatch{store: m}
}

func (m *Memory) ServerTimestamp() any {
	return serverTS{}
}

func (m *Memory) Close() error { return nil }

// Count returns the number of documents in a collection. Test helper.
func (m *Memory) Count(collection string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data[collection])
}

// apply writes fields under the lock, resolving timestamp tokens.
func (m *Memory) apply(collection, key string, fields map[string]any, merge bool) {
	coll, ok := m.data[collection]
	if !ok {
		coll = make(map[string]map[string]any)
		m.data[collection] = coll
	}
	dst := coll[key]
	if dst == nil || !merge {
		dst = make(map[string]any)
		coll[key] = dst
	}
	now := m.Now()
	for k, v := range fields {
		if _, ok := v.(serverTS); ok {
			v = now
		}
		dst[k] = v
	}
}

func (m *Memory) query(collection string, limit int, match func(map[string]any) bool) []Doc {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.data[collection]))
	for k := range m.data[collection] {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var docs []Doc
	for _, k := range keys {
		if !match(m.data[collection][k]) {
			continue
		}
		docs = append(docs, Doc{Key: k, Fields: copyFields(m.data[collection][k])})
		if limit > 0 && len(docs) == limit {
			break
		}
	}
	return docs
}

type memoryBatch struct {
	store *Memory
	ops   []func()
	count int
}

func (b *memoryBatch) Set(collection, key string, fields map[string]any, merge bool) {
	b.count++
	b.ops = append(b.ops, func() { b.store.apply(collection, key, fields, merge) })
}

func (b *memoryBatch) Delete(collection, key string) {
	b.count++
	b.ops = append(b.ops, func() { delete(b.store.data[collection], key) })
}

func (b *memoryBatch) Commit(_ context.Context) error {
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	if b.count > MaxBatchOps {
		return ErrBatchTooLarge
	}
	b.store.commits++
	if b.store.CommitHook != nil {
		if err := b.store.CommitHook(b.store.commits); err != nil {
			return err
		}
	}
	for _, op := range b.ops {
		op()
	}
	return nil
}

func copyFields(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// compare orders values of the types the portal stores: timestamps,
// numbers, strings and bools. Mismatched types compare by string form.
func compare(a, b any) int {
	if at, ok := a.(time.Time); ok {
		if bt, ok := b.(time.Time); ok {
			return at.Compare(bt)
		}
	}
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}
	if ab, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			if ab == bb {
				return 0
			}
			if !ab {
				return -1
			}
			return 1
		}
	}
	as, bs := str(a), str(b)
	return strings.Compare(as, bs)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func str(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
