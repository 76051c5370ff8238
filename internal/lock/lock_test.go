package lock

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLocalTryLock(t *testing.T) {
	ctx := context.Background()
	l := NewLocal()

	release, err := l.TryLock(ctx)
	if err != nil {
		t.Fatalf("TryLock() error = %v", err)
	}
	if _, err := l.TryLock(ctx); !errors.Is(err, ErrBusy) {
		t.Fatalf("second TryLock() error = %v, want ErrBusy", err)
	}

	release(ctx)
	release(ctx) // idempotent

	again, err := l.TryLock(ctx)
	if err != nil {
		t.Fatalf("TryLock() after release error = %v", err)
	}
	again(ctx)
}

type fakeLocker struct {
	busy     bool
	held     bool
	released int
}

func (f *fakeLocker) TryLock(context.Context) (Release, error) {
	if f.busy {
		return nil, ErrBusy
	}
	f.held = true
	return func(context.Context) error {
		f.held = false
		f.released++
		return nil
	}, nil
}

func TestChainReleasesOnBusy(t *testing.T) {
	ctx := context.Background()
	first := &fakeLocker{}
	second := &fakeLocker{busy: true}

	if _, err := (Chain{first, second}).TryLock(ctx); !errors.Is(err, ErrBusy) {
		t.Fatalf("Chain.TryLock() error = %v, want ErrBusy", err)
	}
	if first.held || first.released != 1 {
		t.Errorf("first locker held=%v released=%d, want released once", first.held, first.released)
	}
}

func TestChainHoldsAll(t *testing.T) {
	ctx := context.Background()
	a, b := &fakeLocker{}, &fakeLocker{}

	release, err := (Chain{a, b}).TryLock(ctx)
	if err != nil {
		t.Fatalf("Chain.TryLock() error = %v", err)
	}
	if !a.held || !b.held {
		t.Fatalf("expected both lockers held")
	}
	if err := release(ctx); err != nil {
		t.Fatalf("release error = %v", err)
	}
	if a.held || b.held {
		t.Errorf("expected both lockers released")
	}
}

func TestNewRedisFromURL(t *testing.T) {
	r, rdb, err := NewRedisFromURL("redis://localhost:6379/2", "kassa:tick", time.Minute)
	if err != nil {
		t.Fatalf("NewRedisFromURL() error = %v", err)
	}
	defer rdb.Close()
	if r.key != "kassa:tick" || r.ttl != time.Minute {
		t.Errorf("Redis = %+v", r)
	}
	if rdb.Options().DB != 2 {
		t.Errorf("DB = %d, want 2", rdb.Options().DB)
	}

	if _, _, err := NewRedisFromURL("http://nope", "k", time.Minute); err == nil {
		t.Errorf("NewRedisFromURL(http) expected error")
	}
}
