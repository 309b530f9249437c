package progress

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTracker_BasicTransitions(t *testing.T) {
	tr := NewTracker(3)
	tr.Start()
	tr.Complete()
	tr.Start()
	tr.Fail()
	tr.Skip()

	snap := tr.Snapshot()
	assert.Equal(t, 3, snap.Total)
	assert.Equal(t, 1, snap.Completed)
	assert.Equal(t, 1, snap.Failed)
	assert.Equal(t, 1, snap.Skipped)
	assert.Equal(t, 0, snap.Running)
}

func TestTracker_ConcurrentUpdatesAreSafe(t *testing.T) {
	tr := NewTracker(100)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Start()
			tr.Complete()
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, tr.Snapshot().Completed)
}
