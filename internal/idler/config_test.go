package idler

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfig_Defaults(t *testing.T) {
	cfg := NewConfig(DefaultSettings())

	assert.Equal(t, Settings{
		IdleWorkloadThreshold: 5 * time.Millisecond,
		IdleWaitDuration:      500 * time.Millisecond,
		IdleWaitEvents:        25,
		DownDifferentialPct:   20,
		Active:                true,
	}, cfg.Snapshot())
}

func TestConfig_Setters(t *testing.T) {
	cfg := NewConfig(DefaultSettings())

	cfg.SetIdleWorkloadThreshold(7 * time.Millisecond)
	cfg.SetIdleWaitDuration(time.Second)
	cfg.SetIdleWaitEvents(10)
	cfg.SetDownDifferentialPct(24)
	cfg.SetActive(false)

	assert.Equal(t, Settings{
		IdleWorkloadThreshold: 7 * time.Millisecond,
		IdleWaitDuration:      time.Second,
		IdleWaitEvents:        10,
		DownDifferentialPct:   24,
		Active:                false,
	}, cfg.Snapshot())
}

func TestConfig_ConcurrentAccess(t *testing.T) {
	cfg := NewConfig(DefaultSettings())
	wg := sync.WaitGroup{}

	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				cfg.SetIdleWaitEvents(uint32(i*100 + j))
				cfg.SetActive(j%2 == 0)
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s := cfg.Snapshot()
				assert.Less(t, s.IdleWaitEvents, uint32(400))
			}
		}()
	}
	wg.Wait()
}
