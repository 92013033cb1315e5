package command

import (
	"sync"
	"time"

	"github.com/lucaswhitaker22/specracer/model"
)

const rateWindow = time.Second

// Queued is one accepted command waiting for the engine.
type Queued struct {
	PlayerID   string
	Command    model.Command
	EnqueuedAt time.Time
}

// Queue is a bounded per-player FIFO with a sliding-window rate limit.
// A full queue evicts its oldest entry rather than rejecting; only the
// rate limit ever rejects. Safe for concurrent use.
type Queue struct {
	mu        sync.Mutex
	playerID  string
	items     []Queued
	window    []time.Time
	maxDepth  int
	maxPerSec int
	now       func() time.Time
}

// NewQueue creates a queue for one player. maxDepth and maxPerSec fall back
// to the defaults (10, 5) when zero.
func NewQueue(playerID string, maxDepth, maxPerSec int) *Queue {
	return NewQueueWithClock(playerID, maxDepth, maxPerSec, time.Now)
}

// NewQueueWithClock is NewQueue with an injected clock for the rate
// window, so callers driving simulated time can rate-limit against it.
func NewQueueWithClock(playerID string, maxDepth, maxPerSec int, now func() time.Time) *Queue {
	if maxDepth <= 0 {
		maxDepth = 10
	}
	if maxPerSec <= 0 {
		maxPerSec = 5
	}
	if now == nil {
		now = time.Now
	}
	return &Queue{
		playerID:  playerID,
		maxDepth:  maxDepth,
		maxPerSec: maxPerSec,
		now:       now,
	}
}

// Enqueue appends a command. If the player has already submitted
// maxPerSec commands within the trailing second the command is rejected
// with RATE_LIMITED and the queue is left untouched. If the queue is at
// capacity the oldest entry is evicted first.
func (q *Queue) Enqueue(cmd model.Command) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	q.pruneWindow(now)
	if len(q.window) >= q.maxPerSec {
		return &Error{Code: CodeRateLimited}
	}

	if len(q.items) >= q.maxDepth {
		q.items = q.items[1:]
	}
	q.items = append(q.items, Queued{PlayerID: q.playerID, Command: cmd, EnqueuedAt: now})
	q.window = append(q.window, now)
	return nil
}

// Dequeue removes and returns the oldest queued command.
func (q *Queue) Dequeue() (Queued, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Queued{}, false
	}
	head := q.items[0]
	q.items = q.items[1:]
	return head, true
}

// DrainLatest empties the queue and returns the newest entry. Commands
// superseded within a single tick are discarded; the engine acts on the
// player's most recent intent.
func (q *Queue) DrainLatest() (Queued, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Queued{}, false
	}
	last := q.items[len(q.items)-1]
	q.items = q.items[:0]
	return last, true
}

// Peek returns the oldest queued command without removing it.
func (q *Queue) Peek() (Queued, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Queued{}, false
	}
	return q.items[0], true
}

// Len returns the number of queued commands.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear empties the queue and the rate-window history.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = q.items[:0]
	q.window = q.window[:0]
}

// pruneWindow drops rate-window entries older than one second. Caller
// holds q.mu.
func (q *Queue) pruneWindow(now time.Time) {
	cutoff := now.Add(-rateWindow)
	i := 0
	for i < len(q.window) && !q.window[i].After(cutoff) {
		i++
	}
	if i > 0 {
		q.window = q.window[i:]
	}
}
