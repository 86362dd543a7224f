package ospbot

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestState_Toggles(t *testing.T) {
	t.Parallel()

	s := NewState()
	assert.Equal(t, StateSnapshot{}, s.Snapshot())

	assert.False(t, s.SetMaintenance(true))
	assert.True(t, s.Maintenance())
	assert.True(t, s.SetMaintenance(true))
	assert.True(t, s.SetMaintenance(false))
	assert.False(t, s.Maintenance())

	assert.False(t, s.SetNoPrefix(true))
	assert.True(t, s.NoPrefix())
	assert.Equal(t, StateSnapshot{NoPrefix: true}, s.Snapshot())
}

func TestState_MarkStartedOnce(t *testing.T) {
	t.Parallel()

	s := NewState()
	var won atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.MarkStarted() {
				won.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), won.Load())
	assert.True(t, s.Started())
	assert.False(t, s.MarkStarted())
}
