package registry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestGetOrCreateConstructsOnce(t *testing.T) {
	var built int32
	r := New(func(_ context.Context, key string) (*Instance, error) {
		atomic.AddInt32(&built, 1)
		return &Instance{}, nil
	})

	const workers = 32
	var wg sync.WaitGroup
	results := make([]*Instance, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			inst, err := r.GetOrCreate(context.Background(), "dep1")
			if err != nil {
				t.Error(err)
				return
			}
			results[i] = inst
		}(i)
	}
	wg.Wait()

	if n := atomic.LoadInt32(&built); n != 1 {
		t.Errorf("factory ran %d times, want 1", n)
	}
	for i := 1; i < workers; i++ {
		if results[i] != results[0] {
			t.Fatal("concurrent callers received different instances")
		}
	}
}

func TestGetOrCreateSeparateKeys(t *testing.T) {
	var built int32
	r := New(func(_ context.Context, key string) (*Instance, error) {
		atomic.AddInt32(&built, 1)
		return &Instance{}, nil
	})

	a, _ := r.GetOrCreate(context.Background(), "dep-a")
	b, _ := r.GetOrCreate(context.Background(), "dep-b")
	if a == b {
		t.Error("different keys share an instance")
	}
	if built != 2 {
		t.Errorf("factory ran %d times, want 2", built)
	}
}

func TestGetOrCreateFailureNotCached(t *testing.T) {
	fail := true
	r := New(func(_ context.Context, _ string) (*Instance, error) {
		if fail {
			return nil, errors.New("boot failure")
		}
		return &Instance{}, nil
	})

	if _, err := r.GetOrCreate(context.Background(), "dep1"); err == nil {
		t.Fatal("expected factory error to propagate")
	}
	if r.Len() != 0 {
		t.Fatal("failed construction was cached")
	}

	fail = false
	if _, err := r.GetOrCreate(context.Background(), "dep1"); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
}

func TestStopClosesInstance(t *testing.T) {
	closed := false
	r := New(func(_ context.Context, _ string) (*Instance, error) {
		return &Instance{Close: func() { closed = true }}, nil
	})

	if _, err := r.GetOrCreate(context.Background(), "dep1"); err != nil {
		t.Fatal(err)
	}
	r.Stop("dep1")
	if !closed {
		t.Error("Close not invoked on Stop")
	}
	if r.Len() != 0 {
		t.Error("instance still cached after Stop")
	}

	// A fresh GetOrCreate reconstructs.
	if _, err := r.GetOrCreate(context.Background(), "dep1"); err != nil {
		t.Fatal(err)
	}
	if r.Len() != 1 {
		t.Error("instance not rebuilt after Stop")
	}
}

func TestStopAll(t *testing.T) {
	var closedCount int32
	r := New(func(_ context.Context, _ string) (*Instance, error) {
		return &Instance{Close: func() { atomic.AddInt32(&closedCount, 1) }}, nil
	})

	r.GetOrCreate(context.Background(), "a")
	r.GetOrCreate(context.Background(), "b")
	r.StopAll()

	if closedCount != 2 {
		t.Errorf("closed %d instances, want 2", closedCount)
	}
	if r.Len() != 0 {
		t.Error("instances remain after StopAll")
	}
}
