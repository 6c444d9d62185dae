package session

// DefaultQueueCap bounds commands held while the session has no key.
const DefaultQueueCap = 10

type Command struct {
	Text   string `json:"text"`
	Source string `json:"source,omitempty"`
}

// Queue is a bounded FIFO that evicts its oldest entry on overflow. Newer
// input supersedes older input issued while disconnected, so eviction is
// silent.
type Queue struct {
	items []Command
	cap   int
}

func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCap
	}
	return &Queue{items: make([]Command, 0, capacity), cap: capacity}
}

// Enqueue appends c, returning the evicted command if the queue was full.
func (q *Queue) Enqueue(c Command) (evicted Command, ok bool) {
	if len(q.items) >= q.cap {
		evicted, ok = q.items[0], true
		copy(q.items, q.items[1:])
		q.items = q.items[:len(q.items)-1]
	}
	q.items = append(q.items, c)
	return evicted, ok
}

// Pop removes and returns the oldest command.
func (q *Queue) Pop() (Command, bool) {
	if len(q.items) == 0 {
		return Command{}, false
	}
	c := q.items[0]
	copy(q.items, q.items[1:])
	q.items = q.items[:len(q.items)-1]
	return c, true
}

// pushFront puts c back at the head; used when a send fails mid-flush.
// On a full queue the newest entry makes room, since c was submitted first.
func (q *Queue) pushFront(c Command) (dropped Command, ok bool) {
	if len(q.items) >= q.cap {
		dropped, ok = q.items[len(q.items)-1], true
		q.items = q.items[:len(q.items)-1]
	}
	q.items = append(q.items, Command{})
	copy(q.items[1:], q.items)
	q.items[0] = c
	return dropped, ok
}

func (q *Queue) Len() int { return len(q.items) }

func (q *Queue) Cap() int { return q.cap }

func (q *Queue) Items() []Command {
	return append([]Command(nil), q.items...)
}

func (q *Queue) Clear() {
	q.items = q.items[:0]
}
