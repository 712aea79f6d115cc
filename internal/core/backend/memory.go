package backend

import (
	"context"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/oklog/ulid/v2"

	"github.com/setsync/setsync/internal/core/events"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory Store used in tests and for single-device
// operation. Row IDs are ULIDs, so List order follows creation order.
// Updates that leave a row byte-identical are suppressed and emit no change
// notification.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[string]map[string]Row
	bus  *events.Bus
}

// NewMemoryStore creates an empty store publishing on the given bus.
func NewMemoryStore(bus *events.Bus) *MemoryStore {
	if bus == nil {
		bus = events.NewBus()
	}
	return &MemoryStore{
		rows: make(map[string]map[string]Row),
		bus:  bus,
	}
}

func (m *MemoryStore) List(_ context.Context, collection string) ([]Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Row, 0, len(m.rows[collection]))
	for _, r := range m.rows[collection] {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) Insert(_ context.Context, collection, id string, fields map[string]string) (Row, error) {
	if id == "" {
		id = ulid.Make().String()
	}
	row := Row{ID: id, Fields: make(map[string]string, len(fields))}
	for k, v := range fields {
		row.Fields[k] = v
	}

	m.mu.Lock()
	if m.rows[collection] == nil {
		m.rows[collection] = make(map[string]Row)
	}
	m.rows[collection][row.ID] = row
	m.mu.Unlock()

	_ = m.bus.Publish(collection)
	return row.Clone(), nil
}

func (m *MemoryStore) Update(_ context.Context, collection, id string, fields map[string]string) error {
	m.mu.Lock()
	row, ok := m.rows[collection][id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	before := fingerprint(row)
	for k, v := range fields {
		row.Fields[k] = v
	}
	m.rows[collection][id] = row
	changed := fingerprint(row) != before
	m.mu.Unlock()

	if changed {
		_ = m.bus.Publish(collection)
	}
	return nil
}

func (m *MemoryStore) Upsert(ctx context.Context, collection string, filter Filter, fields map[string]string) error {
	m.mu.RLock()
	var id string
	for _, r := range m.rows[collection] {
		if filter.Matches(r) {
			id = r.ID
			break
		}
	}
	m.mu.RUnlock()

	if id == "" {
		_, err := m.Insert(ctx, collection, "", fields)
		return err
	}
	return m.Update(ctx, collection, id, fields)
}

func (m *MemoryStore) Delete(_ context.Context, collection string, filter Filter) (int, error) {
	m.mu.Lock()
	var ids []string
	for id, r := range m.rows[collection] {
		if filter.Matches(r) {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		delete(m.rows[collection], id)
	}
	m.mu.Unlock()

	if len(ids) > 0 {
		_ = m.bus.Publish(collection)
	}
	return len(ids), nil
}

func (m *MemoryStore) Subscribe(collection string, handler events.Handler) (events.Subscription, error) {
	return m.bus.Subscribe(collection, handler)
}

// fingerprint hashes a row's fields in a stable order so no-op updates can
// be told apart from real changes.
func fingerprint(r Row) uint64 {
	keys := make([]string, 0, len(r.Fields))
	for k := range r.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := xxhash.New()
	for _, k := range keys {
		_, _ = h.WriteString(k)
		_, _ = h.WriteString("=")
		_, _ = h.WriteString(r.Fields[k])
		_, _ = h.WriteString("\x00")
	}
	return h.Sum64()
}
