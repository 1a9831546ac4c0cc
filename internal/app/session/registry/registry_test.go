package registry

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct{ name string }

func TestRegistry_GetOrCreate(t *testing.T) {
	r := New[*entry]()

	a := &entry{name: "a"}
	got, created, err := r.GetOrCreate("g1", func() (*entry, error) { return a, nil })
	require.NoError(t, err)
	assert.True(t, created)
	assert.Same(t, a, got)

	got, created, err = r.GetOrCreate("g1", func() (*entry, error) {
		t.Fatal("create called for a registered guild")
		return nil, nil
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, a, got)

	v, err := r.Get("g1")
	require.NoError(t, err)
	assert.Same(t, a, v)
	assert.Equal(t, 1, r.Count())
}

func TestRegistry_CreateErrorLeavesNoEntry(t *testing.T) {
	r := New[*entry]()
	boom := errors.New("connect failed")

	_, created, err := r.GetOrCreate("g1", func() (*entry, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, created)

	_, err = r.Get("g1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, r.Count())
}

func TestRegistry_ConcurrentCreateRunsOnce(t *testing.T) {
	r := New[*entry]()
	var calls atomic.Int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	results := make([]*entry, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, _, err := r.GetOrCreate("g1", func() (*entry, error) {
				calls.Add(1)
				<-release
				return &entry{name: "only"}, nil
			})
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}

	// another guild is not blocked by the pending creation
	other, created, err := r.GetOrCreate("g2", func() (*entry, error) { return &entry{name: "other"}, nil })
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "other", other.name)

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, v := range results {
		assert.Same(t, results[0], v)
	}
}

func TestRegistry_RemoveComparesEntry(t *testing.T) {
	r := New[*entry]()
	old := &entry{name: "old"}
	_, _, err := r.GetOrCreate("g1", func() (*entry, error) { return old, nil })
	require.NoError(t, err)

	assert.True(t, r.Remove("g1", old))
	assert.False(t, r.Remove("g1", old), "second remove is a no-op")

	replacement := &entry{name: "new"}
	_, _, err = r.GetOrCreate("g1", func() (*entry, error) { return replacement, nil })
	require.NoError(t, err)

	assert.False(t, r.Remove("g1", old), "a stale entry must not evict its replacement")
	v, err := r.Get("g1")
	require.NoError(t, err)
	assert.Same(t, replacement, v)
}

func TestRegistry_GuildIDs(t *testing.T) {
	r := New[*entry]()
	for _, id := range []string{"g3", "g1", "g2"} {
		_, _, err := r.GetOrCreate(id, func() (*entry, error) { return &entry{name: id}, nil })
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"g1", "g2", "g3"}, r.GuildIDs())
	assert.Len(t, r.All(), 3)
}
