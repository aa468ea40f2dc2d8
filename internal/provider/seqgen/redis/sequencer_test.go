package redis

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestSequencer(t *testing.T, mr *miniredis.Miniredis, key string) *Sequencer {
	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatal(err)
	}
	config := map[string]interface{}{
		"password": "",
		"addr":     mr.Addr(),
		"db":       "0",
	}
	if key != "" {
		config["key"] = key
	}
	s := NewSequencer(logger)
	err = s.Configure(context.Background(), config)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRedisSequencer(t *testing.T) {
	mr := miniredis.RunT(t)
	s := newTestSequencer(t, mr, "")

	for want := uint64(0); want < 5; want++ {
		id, err := s.NextID(context.Background())
		require.NoError(t, err)
		assert.Equal(t, want, id)
	}
	v, err := mr.Get(DefaultKey)
	require.NoError(t, err)
	assert.Equal(t, "5", v)
}

func TestRedisSequencerShared(t *testing.T) {
	mr := miniredis.RunT(t)
	s1 := newTestSequencer(t, mr, "types")
	s2 := newTestSequencer(t, mr, "types")
	other := newTestSequencer(t, mr, "other")

	const n = 50
	var (
		mu   sync.Mutex
		seen = map[uint64]bool{}
		wg   sync.WaitGroup
	)
	for _, s := range []*Sequencer{s1, s2} {
		wg.Add(1)
		go func(s *Sequencer) {
			defer wg.Done()
			for i := 0; i < n; i++ {
				id, err := s.NextID(context.Background())
				assert.NoError(t, err)
				mu.Lock()
				assert.False(t, seen[id], "id %d returned twice", id)
				seen[id] = true
				mu.Unlock()
			}
		}(s)
	}
	wg.Wait()
	assert.Len(t, seen, 2*n)

	id, err := other.NextID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), id)
}

func TestRedisSequencerBadDB(t *testing.T) {
	s := NewSequencer(zap.NewNop())
	err := s.Configure(context.Background(), map[string]interface{}{"addr": "127.0.0.1:0", "db": "x"})
	assert.Error(t, err)
}

func TestRedisSequencerUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	s := NewSequencer(zap.NewNop())
	err := s.Configure(context.Background(), map[string]interface{}{"addr": addr})
	assert.Error(t, err)
}
