package yamux

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ngrok/yamux/internal/frame"
)

func TestStreamMapSetGetDelete(t *testing.T) {
	m := newStreamMap()

	st := &stream{id: 3}
	m.Set(3, st)

	got, ok := m.Get(3)
	require.True(t, ok)
	require.Same(t, st, got)
	require.Equal(t, 1, m.Len())

	m.Delete(3)
	_, ok = m.Get(3)
	require.False(t, ok)
	require.Equal(t, 0, m.Len())
}

func TestStreamMapEachSnapshotsWithoutDeadlock(t *testing.T) {
	m := newStreamMap()
	for i := frame.StreamId(1); i <= 5; i += 2 {
		m.Set(i, &stream{id: i})
	}

	visited := map[frame.StreamId]bool{}
	m.Each(func(id frame.StreamId, s *stream) {
		visited[id] = true
		// fn may itself mutate the map; this must not deadlock.
		m.Delete(id)
	})

	require.Len(t, visited, 3)
	require.Equal(t, 0, m.Len())
}
