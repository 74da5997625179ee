package gate

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestAcquireUpToCapacity(t *testing.T) {
	t.Parallel()

	g := New(3)
	ctx := context.Background()

	var releases []func()
	for i := 0; i < 3; i++ {
		release, err := g.Acquire(ctx)
		if err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		releases = append(releases, release)
	}
	if g.InUse() != 3 {
		t.Fatalf("in use = %d", g.InUse())
	}

	if _, ok := g.TryAcquire(); ok {
		t.Fatal("TryAcquire should fail at capacity")
	}

	for _, release := range releases {
		release()
	}
	if g.InUse() != 0 {
		t.Fatalf("in use after release = %d", g.InUse())
	}
}

func TestAcquireBlocksUntilRelease(t *testing.T) {
	t.Parallel()

	g := New(1)
	ctx := context.Background()

	release, err := g.Acquire(ctx)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		r, err := g.Acquire(ctx)
		if err != nil {
			t.Errorf("blocked acquire: %v", err)
			close(acquired)
			return
		}
		close(acquired)
		r()
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire should block while the slot is held")
	case <-time.After(50 * time.Millisecond):
	}

	release()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second acquire should proceed after release")
	}
}

func TestAcquireHonorsContextCancel(t *testing.T) {
	t.Parallel()

	g := New(1)
	release, err := g.Acquire(context.Background())
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := g.Acquire(ctx)
		errc <- err
	}()

	cancel()

	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled acquire should return promptly")
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	t.Parallel()

	g := New(2)
	release, err := g.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	release()
	release()
	release()

	if g.InUse() != 0 {
		t.Fatalf("double release corrupted the gate: in use = %d", g.InUse())
	}

	// Both slots must still be usable afterward.
	r1, err := g.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire after releases: %v", err)
	}
	r2, err := g.Acquire(context.Background())
	if err != nil {
		t.Fatalf("second acquire after releases: %v", err)
	}
	r1()
	r2()
}

func TestZeroCapacityFallsBackToOne(t *testing.T) {
	t.Parallel()

	g := New(0)
	if g.Capacity() != 1 {
		t.Fatalf("capacity = %d", g.Capacity())
	}
}
