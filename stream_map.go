package yamux

import (
	"sync"

	"github.com/ngrok/yamux/internal/frame"
)

const initMapCapacity = 128

// streamMap is the session's stream table (C3): stream id -> stream,
// guarded by a read/write lock so lookups from the reader goroutine don't
// contend with each other.
type streamMap struct {
	sync.RWMutex
	table map[frame.StreamId]*stream
}

func newStreamMap() *streamMap {
	return &streamMap{table: make(map[frame.StreamId]*stream, initMapCapacity)}
}

func (m *streamMap) Get(id frame.StreamId) (*stream, bool) {
	m.RLock()
	s, ok := m.table[id]
	m.RUnlock()
	return s, ok
}

func (m *streamMap) Set(id frame.StreamId, s *stream) {
	m.Lock()
	m.table[id] = s
	m.Unlock()
}

func (m *streamMap) Delete(id frame.StreamId) {
	m.Lock()
	delete(m.table, id)
	m.Unlock()
}

func (m *streamMap) Len() int {
	m.RLock()
	n := len(m.table)
	m.RUnlock()
	return n
}

// Each snapshots the table and invokes fn for every entry without holding
// the lock, so fn may itself touch the map (e.g. delete entries).
func (m *streamMap) Each(fn func(frame.StreamId, *stream)) {
	m.RLock()
	snapshot := make(map[frame.StreamId]*stream, len(m.table))
	for k, v := range m.table {
		snapshot[k] = v
	}
	m.RUnlock()

	for id, s := range snapshot {
		fn(id, s)
	}
}
