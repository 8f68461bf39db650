package queue

import (
	"sync"
	"time"

	"github.com/openboatworks/nmea_bridge_simulator/internal/models"
)

// QueuedCommand is one inbound command waiting to be applied.
type QueuedCommand struct {
	ClientID string
	Command  models.InjectedCommand
	Received time.Time
}

// CommandQueue serialises inbound commands from all transports into one
// FIFO applied by a single processor goroutine. Clients on different
// transports may send concurrently; the active data source sees commands
// one at a time, in arrival order.
type CommandQueue struct {
	commands chan QueuedCommand
	mu       sync.RWMutex
	closed   bool
}

// NewCommandQueue creates a queue with the given buffer size.
func NewCommandQueue(bufferSize int) *CommandQueue {
	return &CommandQueue{commands: make(chan QueuedCommand, bufferSize)}
}

// Enqueue adds a command. Returns false if the queue is closed or full;
// a full queue sheds commands rather than backpressuring a transport
// reader.
func (q *CommandQueue) Enqueue(clientID string, cmd models.InjectedCommand) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return false
	}
	select {
	case q.commands <- QueuedCommand{ClientID: clientID, Command: cmd, Received: time.Now()}:
		return true
	default:
		return false
	}
}

// ProcessorFunc applies one queued command.
type ProcessorFunc func(qc QueuedCommand)

// StartProcessor consumes the queue sequentially in a background
// goroutine.
func (q *CommandQueue) StartProcessor(processor ProcessorFunc) {
	go func() {
		for qc := range q.commands {
			processor(qc)
		}
	}()
}

// Close stops accepting commands and ends the processor once drained.
func (q *CommandQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.commands)
	}
}

// Len reports the commands currently buffered.
func (q *CommandQueue) Len() int {
	return len(q.commands)
}
