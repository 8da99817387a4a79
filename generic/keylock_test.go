package generic_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/warp/payroll-ledger/generic"
)

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	// GIVEN: Many goroutines contending for one employee
	km := generic.NewKeyedMutex()
	var inside, maxInside int32
	var wg sync.WaitGroup

	// WHEN: Each holds the lock briefly
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("emp-1")
			defer unlock()
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
		}()
	}
	wg.Wait()

	// THEN: Never more than one at a time
	assert.Equal(t, int32(1), maxInside)
}

func TestKeyedMutex_DifferentKeysIndependent(t *testing.T) {
	km := generic.NewKeyedMutex()
	unlockA := km.Lock("emp-a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := km.Lock("emp-b")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different employee blocked")
	}
}

func TestWeekStart(t *testing.T) {
	tests := []struct {
		day  time.Time
		want time.Time
	}{
		{generic.Date(2025, time.March, 12), generic.Date(2025, time.March, 10)}, // Wednesday
		{generic.Date(2025, time.March, 10), generic.Date(2025, time.March, 10)}, // Monday
		{generic.Date(2025, time.March, 16), generic.Date(2025, time.March, 10)}, // Sunday
		{generic.Date(2025, time.January, 1), generic.Date(2024, time.December, 30)},
	}
	for _, tt := range tests {
		t.Run(generic.FormatDate(tt.day), func(t *testing.T) {
			assert.True(t, tt.want.Equal(generic.WeekStart(tt.day)))
		})
	}
}

func TestDay_TruncatesToUTCMidnight(t *testing.T) {
	in := time.Date(2025, time.June, 3, 23, 59, 0, 0, time.UTC)
	assert.True(t, generic.Date(2025, time.June, 3).Equal(generic.Day(in)))
	assert.True(t, generic.SameDay(in, generic.Date(2025, time.June, 3)))
}
