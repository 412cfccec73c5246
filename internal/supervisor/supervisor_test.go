package supervisor

import (
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	km := newKeyedMutex()
	var counter int32
	var maxObserved int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.lockFor("same-hash")
			defer unlock()
			n := atomic.AddInt32(&counter, 1)
			if n > maxObserved {
				maxObserved = n
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&counter, -1)
		}()
	}
	wg.Wait()

	if maxObserved > 1 {
		t.Fatalf("observed %d concurrent holders of the same key, want 1", maxObserved)
	}
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	km := newKeyedMutex()
	start := time.Now()

	var wg sync.WaitGroup
	for _, key := range []string{"a", "b", "c"} {
		key := key
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.lockFor(key)
			defer unlock()
			time.Sleep(50 * time.Millisecond)
		}()
	}
	wg.Wait()

	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Fatalf("independent keys appear serialized: took %v", elapsed)
	}
}

func TestPidAliveCurrentProcess(t *testing.T) {
	if !pidAlive(os.Getpid()) {
		t.Fatal("expected the test process's own pid to be reported alive")
	}
}

func TestPidAliveInvalid(t *testing.T) {
	if pidAlive(0) || pidAlive(-1) {
		t.Fatal("expected non-positive pids to be reported not alive")
	}
}
