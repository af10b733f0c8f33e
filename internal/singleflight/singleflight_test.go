package singleflight

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	g := New[string]()
	if g == nil {
		t.Fatal("New() returned nil")
	}
	if g.m == nil {
		t.Error("New() did not initialize map")
	}
}

func TestDo(t *testing.T) {
	g := New[string]()

	val, err, shared := g.Do(context.Background(), "key1", func(context.Context) (string, error) {
		return "hello", nil
	})

	if err != nil {
		t.Errorf("Do() returned error: %v", err)
	}
	if val != "hello" {
		t.Errorf("Do() returned %v, want hello", val)
	}
	if shared {
		t.Error("single caller should not report shared")
	}
}

func TestDoError(t *testing.T) {
	g := New[string]()
	expectedErr := errors.New("test error")

	val, err, _ := g.Do(context.Background(), "key1", func(context.Context) (string, error) {
		return "", expectedErr
	})

	if !errors.Is(err, expectedErr) {
		t.Errorf("Do() returned error %v, want %v", err, expectedErr)
	}
	if val != "" {
		t.Errorf("Do() returned %q, want empty", val)
	}
}

func TestDoDuplicateCalls(t *testing.T) {
	g := New[string]()

	var callCount int32
	release := make(chan struct{})
	fn := func(context.Context) (string, error) {
		atomic.AddInt32(&callCount, 1)
		<-release
		return "result", nil
	}

	const numCalls = 10
	var wg sync.WaitGroup
	results := make([]string, numCalls)
	errs := make([]error, numCalls)

	for i := 0; i < numCalls; i++ {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			results[index], errs[index], _ = g.Do(context.Background(), "same-key", fn)
		}(i)
	}

	// Let every goroutine attach before releasing the owner.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		g.mu.Lock()
		c := g.m["same-key"]
		attached := c != nil && c.dups == numCalls-1
		g.mu.Unlock()
		if attached {
			break
		}
		time.Sleep(time.Millisecond)
	}
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&callCount); got != 1 {
		t.Errorf("Function called %d times, want 1", got)
	}
	for i, result := range results {
		if errs[i] != nil {
			t.Errorf("Call %d returned error: %v", i, errs[i])
		}
		if result != "result" {
			t.Errorf("Call %d returned %v, want result", i, result)
		}
	}
}

func TestDoWaiterCancelDoesNotAbortCall(t *testing.T) {
	g := New[string]()
	release := make(chan struct{})
	var sawCancel int32

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err, _ := g.Do(ctx, "key", func(workCtx context.Context) (string, error) {
			<-release
			if workCtx.Err() != nil {
				atomic.StoreInt32(&sawCancel, 1)
			}
			return "done", nil
		})
		errCh <- err
	}()

	for !g.InFlight("key") {
		time.Sleep(time.Millisecond)
	}

	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled for the cancelled caller, got %v", err)
	}

	// A second caller attaches to the same, still running call.
	resultCh := make(chan string, 1)
	go func() {
		v, _, _ := g.Do(context.Background(), "key", func(context.Context) (string, error) {
			return "second", nil
		})
		resultCh <- v
	}()
	for {
		g.mu.Lock()
		attached := g.m["key"] != nil && g.m["key"].dups > 0
		g.mu.Unlock()
		if attached {
			break
		}
		time.Sleep(time.Millisecond)
	}
	close(release)

	if v := <-resultCh; v != "done" {
		t.Errorf("attached caller got %q, want done", v)
	}
	if atomic.LoadInt32(&sawCancel) != 0 {
		t.Error("shared work observed the cancelled caller's context")
	}
}

func TestDoAfterCompletionStartsFresh(t *testing.T) {
	g := New[int]()
	var n int32
	fn := func(context.Context) (int, error) {
		return int(atomic.AddInt32(&n, 1)), nil
	}

	first, _, _ := g.Do(context.Background(), "k", fn)
	second, _, _ := g.Do(context.Background(), "k", fn)
	if first != 1 || second != 2 {
		t.Errorf("expected sequential calls to run separately, got %d and %d", first, second)
	}
}

func TestDoRecoversPanic(t *testing.T) {
	g := New[string]()
	_, err, _ := g.Do(context.Background(), "boom", func(context.Context) (string, error) {
		panic("kaboom")
	})
	if err == nil {
		t.Fatal("expected error from panicking call")
	}
	if g.InFlight("boom") {
		t.Error("panicking call should not stay in flight")
	}
}

func TestTryDoInProgress(t *testing.T) {
	g := New[string]()
	release := make(chan struct{})

	go func() {
		_, _ = g.TryDo(context.Background(), "key1", func(context.Context) (string, error) {
			<-release
			return "first", nil
		})
	}()

	for !g.InFlight("key1") {
		time.Sleep(time.Millisecond)
	}

	val, err := g.TryDo(context.Background(), "key1", func(context.Context) (string, error) {
		return "second", nil
	})
	if !errors.Is(err, ErrInProgress) {
		t.Errorf("TryDo() returned error %v, want %v", err, ErrInProgress)
	}
	if val != "" {
		t.Errorf("TryDo() returned %q, want empty", val)
	}

	close(release)
}

func TestForget(t *testing.T) {
	g := New[string]()
	release := make(chan struct{})

	go func() {
		_, _, _ = g.Do(context.Background(), "key1", func(context.Context) (string, error) {
			<-release
			return "old", nil
		})
	}()
	for !g.InFlight("key1") {
		time.Sleep(time.Millisecond)
	}

	g.Forget("key1")

	val, err, _ := g.Do(context.Background(), "key1", func(context.Context) (string, error) {
		return "new-value", nil
	})
	close(release)

	if err != nil {
		t.Errorf("Do() after Forget returned error: %v", err)
	}
	if val != "new-value" {
		t.Errorf("Do() after Forget returned %v, want new-value", val)
	}
}

func TestErrInProgress(t *testing.T) {
	expected := "singleflight: call already in progress"
	if ErrInProgress.Error() != expected {
		t.Errorf("ErrInProgress.Error() = %q, want %q", ErrInProgress.Error(), expected)
	}
}

func BenchmarkDo(b *testing.B) {
	g := New[string]()
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = g.Do(ctx, "bench-key", func(context.Context) (string, error) {
			return "result", nil
		})
	}
}
