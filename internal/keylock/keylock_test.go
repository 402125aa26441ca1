package keylock

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestSameKeyIsExclusive(t *testing.T) {
	l := New()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "item")
			if err != nil {
				t.Errorf("Lock: %v", err)
				return
			}
			mu.Lock()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxSeen)
	}
	if l.Len() != 0 {
		t.Errorf("Len = %d after all released", l.Len())
	}
}

func TestDifferentKeysDoNotBlock(t *testing.T) {
	l := New()
	unlockA, err := l.Lock(context.Background(), "a")
	if err != nil {
		t.Fatalf("Lock a: %v", err)
	}
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := l.Lock(ctx, "b")
	if err != nil {
		t.Fatalf("Lock b: %v", err)
	}
	unlockB()
}

func TestLockHonoursContext(t *testing.T) {
	l := New()
	unlock, _ := l.Lock(context.Background(), "item")
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, "item"); err == nil {
		t.Fatal("expected context error while key is held")
	}
	if l.Len() != 1 {
		t.Errorf("Len = %d, want 1", l.Len())
	}
}
