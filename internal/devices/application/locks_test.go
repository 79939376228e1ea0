package application

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestDeviceLocks_SerializesSameDevice(t *testing.T) {
	locks := NewDeviceLocks()
	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("d1")
			defer unlock()
			v := counter
			counter = v + 1
		}()
	}
	wg.Wait()
	if counter != 50 {
		t.Fatalf("expected 50, got %d", counter)
	}
	if locks.Len() != 0 {
		t.Fatalf("expected lock table drained, got %d", locks.Len())
	}
}

func TestDeviceLocks_DoReleasesAfterPanic(t *testing.T) {
	locks := NewDeviceLocks()
	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("expected panic to propagate")
			}
		}()
		_ = locks.Do("d1", func() error {
			panic("boom")
		})
	}()
	if locks.Len() != 0 {
		t.Fatalf("expected lock released after panic, got %d held", locks.Len())
	}

	done := make(chan error, 1)
	go func() {
		done <- locks.Do("d1", func() error { return errors.New("second") })
	}()
	select {
	case err := <-done:
		if err == nil || err.Error() != "second" {
			t.Fatalf("expected fn error to be returned, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("device lock still held after panic")
	}
}
