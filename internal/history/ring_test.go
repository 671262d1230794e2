package history

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingEvictsOldestAfterCapacity(t *testing.T) {
	r := NewRing(Capacity)
	for i := 1; i <= Capacity+1; i++ {
		r.Record(fmt.Sprintf("cmd %d!", i), "ok")
	}

	require.Equal(t, Capacity, r.Len())
	all := r.Read(0)
	require.Len(t, all, Capacity)
	assert.Equal(t, "cmd 2!", all[0].Command)
	assert.Equal(t, "cmd 51!", all[len(all)-1].Command)
	for _, e := range all {
		assert.NotEqual(t, "cmd 1!", e.Command)
	}
}

func TestRingReadLimitReturnsMostRecentInOrder(t *testing.T) {
	r := NewRing(5)
	for i := 1; i <= 7; i++ {
		r.Record(fmt.Sprintf("c%d", i), "r")
	}

	got := r.Read(3)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"c5", "c6", "c7"}, []string{got[0].Command, got[1].Command, got[2].Command})

	assert.Len(t, r.Read(100), 5)
	assert.Len(t, r.Read(-1), 5)
}

func TestRingClear(t *testing.T) {
	r := NewRing(3)
	r.Record("a", "b")
	r.Record("c", "d")
	r.Clear()

	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Read(0))

	r.Record("e", "f")
	got := r.Read(0)
	require.Len(t, got, 1)
	assert.Equal(t, "e", got[0].Command)
}

func TestRingRecordFillsEntry(t *testing.T) {
	r := NewRing(2)
	r.now = func() time.Time { return time.Date(2024, 5, 1, 13, 4, 5, 0, time.Local) }

	r.Record("s power 1!", "power on")

	got := r.Read(1)
	require.Len(t, got, 1)
	assert.Equal(t, "13:04:05", got[0].Timestamp)
	assert.Equal(t, "power on", got[0].Response)
	assert.NotEmpty(t, got[0].ID)
}

func TestRingNotifiesListeners(t *testing.T) {
	var seen []Entry
	r := NewRing(2, func(e Entry) { seen = append(seen, e) })

	r.Record("a!", "ok")
	r.Record("b!", "No response")
	r.Record("c!", "ok")
	r.Close()

	require.Len(t, seen, 3)
	assert.Equal(t, "a!", seen[0].Command)
	assert.Equal(t, "c!", seen[2].Command)

	r.Record("d!", "ok")
	r.Close()
	assert.Len(t, seen, 3)
	assert.Equal(t, 2, r.Len())
}

func TestRingSlowListenerDoesNotBlockAppend(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var seen []string
	r := NewRing(Capacity, func(e Entry) {
		<-release
		mu.Lock()
		seen = append(seen, e.Command)
		mu.Unlock()
	})

	start := time.Now()
	for i := 0; i < 10; i++ {
		r.Record(fmt.Sprintf("c%d!", i), "ok")
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, 10, r.Len())

	close(release)
	r.Close()
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 10)
	assert.Equal(t, "c0!", seen[0])
	assert.Equal(t, "c9!", seen[9])
}

func TestRingConcurrentAccess(t *testing.T) {
	r := NewRing(Capacity)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				r.Record(fmt.Sprintf("%d-%d", i, j), "ok")
				r.Read(25)
				if j == 5 && i%7 == 0 {
					r.Clear()
				}
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, r.Len(), Capacity)
}
