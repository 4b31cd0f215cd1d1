package core

import (
	"container/heap"
	"sync"
	"time"
)

// delayedEntry represents a task scheduled for the future.
type delayedEntry struct {
	runAt time.Time
	seq   uint64 // submission order, breaks runAt ties
	task  Task
	index int // for heap interface
}

// delayedHeap implements heap.Interface ordered by (runAt asc, seq asc).
type delayedHeap []*delayedEntry

func (h delayedHeap) Len() int { return len(h) }
func (h delayedHeap) Less(i, j int) bool {
	if h[i].runAt.Equal(h[j].runAt) {
		return h[i].seq < h[j].seq
	}
	return h[i].runAt.Before(h[j].runAt)
}
func (h delayedHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *delayedHeap) Push(x any) {
	n := len(*h)
	item := x.(*delayedEntry)
	item.index = n
	*h = append(*h, item)
}

func (h *delayedHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // avoid memory leak
	item.index = -1
	*h = old[0 : n-1]
	return item
}

func (h *delayedHeap) Peek() *delayedEntry {
	if len(*h) == 0 {
		return nil
	}
	return (*h)[0]
}

// DelayQueue orders pending delayed work by due time, with submission
// sequence as the deterministic tie-break. It is a passive structure; the
// owning runner's timer loop decides when to call ExtractDue.
type DelayQueue struct {
	mu      sync.Mutex
	pq      delayedHeap
	nextSeq uint64
}

func NewDelayQueue() *DelayQueue {
	q := &DelayQueue{pq: make(delayedHeap, 0)}
	heap.Init(&q.pq)
	return q
}

// Add schedules task to become eligible at runAt. A nil task is allowed;
// it occupies a slot and is extracted like any other entry.
// Returns true when the entry became the new head, meaning the owner's
// timer needs to be re-armed.
func (q *DelayQueue) Add(task Task, runAt time.Time) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	item := &delayedEntry{
		runAt: runAt,
		seq:   q.nextSeq,
		task:  task,
	}
	q.nextSeq++
	heap.Push(&q.pq, item)

	return item.index == 0
}

// ExtractDue removes every entry whose due time has arrived and returns the
// tasks in (runAt asc, seq asc) order.
func (q *DelayQueue) ExtractDue(now time.Time) []Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	var due []Task
	for q.pq.Len() > 0 {
		item := q.pq.Peek()
		if item.runAt.After(now) {
			break
		}
		heap.Pop(&q.pq)
		due = append(due, item.task)
	}
	return due
}

// NextRunAt reports the due time of the head entry, if any.
func (q *DelayQueue) NextRunAt() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	item := q.pq.Peek()
	if item == nil {
		return time.Time{}, false
	}
	return item.runAt, true
}

func (q *DelayQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pq)
}

// Clear drops all pending entries and releases task references.
func (q *DelayQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pq = make(delayedHeap, 0)
	heap.Init(&q.pq)
}
