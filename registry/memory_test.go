package registry

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
)

func TestMemoryRegisterAndDiscover(t *testing.T) {
	reg := NewMemory()
	ctx := context.Background()

	if _, err := reg.Discover(ctx, "Engine"); !errors.Is(err, ErrNoInstances) {
		t.Fatalf("expected ErrNoInstances, got %v", err)
	}

	reg.Register(ctx, "Engine", ServiceInstance{Addr: "a:1", Weight: 1}, 10)
	reg.Register(ctx, "Engine", ServiceInstance{Addr: "b:1", Weight: 1}, 10)
	reg.Register(ctx, "Other", ServiceInstance{Addr: "c:1"}, 10)

	instances, err := reg.Discover(ctx, "Engine")
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 2 {
		t.Fatalf("expect 2 instances, got %d", len(instances))
	}

	reg.Deregister(ctx, "Engine", "a:1")
	instances, _ = reg.Discover(ctx, "Engine")
	if len(instances) != 1 || instances[0].Addr != "b:1" {
		t.Fatalf("unexpected instances after deregister: %v", instances)
	}
}

func TestMemoryWatch(t *testing.T) {
	reg := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())

	ch := reg.Watch(ctx, "Engine")
	reg.Register(ctx, "Engine", ServiceInstance{Addr: "a:1"}, 10)

	select {
	case instances := <-ch:
		if len(instances) != 1 || instances[0].Addr != "a:1" {
			t.Fatalf("unexpected update %v", instances)
		}
	case <-time.After(time.Second):
		t.Fatal("no watch update")
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			// A buffered update may still be drained before the close.
			if _, ok := <-ch; ok {
				t.Fatal("watch channel not closed")
			}
		}
	case <-time.After(time.Second):
		t.Fatal("watch channel not closed after cancel")
	}
}

func TestStatic(t *testing.T) {
	reg := NewStatic("127.0.0.1:50051")
	ctx := context.Background()

	instances, err := reg.Discover(ctx, "anything")
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 1 || instances[0].Addr != "127.0.0.1:50051" {
		t.Fatalf("unexpected instances %v", instances)
	}

	// Callers may not mutate the configured list.
	instances[0].Addr = "changed"
	again, _ := reg.Discover(ctx, "anything")
	if again[0].Addr != "127.0.0.1:50051" {
		t.Fatal("static list was mutated")
	}

	if _, err := NewStatic().Discover(ctx, "Engine"); !errors.Is(err, ErrNoInstances) {
		t.Fatalf("expected ErrNoInstances, got %v", err)
	}
}

func TestStaticWatchClosesWithContext(t *testing.T) {
	reg := NewStatic("127.0.0.1:50051")
	ctx, cancel := context.WithCancel(context.Background())
	ch := reg.Watch(ctx, "Engine")

	select {
	case instances := <-ch:
		if len(instances) != 1 {
			t.Fatalf("unexpected instances %v", instances)
		}
	case <-time.After(time.Second):
		t.Fatal("no initial list")
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected the channel to close")
		}
	case <-time.After(time.Second):
		t.Fatal("watch channel not closed after cancel")
	}
}
