package keylock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSerializesSameKey(t *testing.T) {
	k := New()
	var mu sync.Mutex
	inside := 0
	peak := 0

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.LockMany("U")
			mu.Lock()
			inside++
			if inside > peak {
				peak = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, peak)
	assert.Equal(t, 0, k.Len())
}

func TestOppositeOrderDoesNotDeadlock(t *testing.T) {
	k := New()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			k.LockMany("A", "U")()
		}()
		go func() {
			defer wg.Done()
			k.LockMany("U", "A", "U", "")()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("deadlock")
	}
}

func TestDifferentKeysRunInParallel(t *testing.T) {
	k := New()
	unlockA := k.LockMany("A")
	defer unlockA()

	acquired := make(chan struct{})
	go func() {
		k.LockMany("B")()
		close(acquired)
	}()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("B waited for A")
	}
}
