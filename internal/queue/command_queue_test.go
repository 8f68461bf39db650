package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/openboatworks/nmea_bridge_simulator/internal/models"
)

func TestCommandQueue_ProcessesInOrder(t *testing.T) {
	q := NewCommandQueue(10)

	var mu sync.Mutex
	var seen []string
	done := make(chan struct{})
	q.StartProcessor(func(qc QueuedCommand) {
		mu.Lock()
		seen = append(seen, qc.Command.Name)
		if len(seen) == 3 {
			close(done)
		}
		mu.Unlock()
	})

	for _, name := range []string{"a", "b", "c"} {
		if !q.Enqueue("client-1", models.InjectedCommand{Name: name}) {
			t.Fatalf("Enqueue(%s) refused", name)
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("processor did not drain the queue")
	}
	mu.Lock()
	defer mu.Unlock()
	for i, want := range []string{"a", "b", "c"} {
		if seen[i] != want {
			t.Errorf("command %d: got %q, want %q", i, seen[i], want)
		}
	}
}

func TestCommandQueue_ShedsWhenFull(t *testing.T) {
	q := NewCommandQueue(1)
	if !q.Enqueue("c", models.InjectedCommand{Name: "first"}) {
		t.Fatal("first enqueue refused")
	}
	if q.Enqueue("c", models.InjectedCommand{Name: "second"}) {
		t.Error("full queue accepted a command")
	}
	if q.Len() != 1 {
		t.Errorf("Len: got %d, want 1", q.Len())
	}
}

func TestCommandQueue_CloseRefusesNewCommands(t *testing.T) {
	q := NewCommandQueue(10)
	q.Close()
	q.Close() // idempotent
	if q.Enqueue("c", models.InjectedCommand{Name: "late"}) {
		t.Error("closed queue accepted a command")
	}
}
