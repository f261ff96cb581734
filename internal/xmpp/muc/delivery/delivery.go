// Package delivery defers batches of stanzas so that catch-up traffic does
// not leave together with the event that caused it.
package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/meszmate/mucd/internal/xmpp/element"
)

// DefaultInterval is the pause between two batches.
const DefaultInterval = 553 * time.Millisecond

// Order selects which pending batch is sent next
type Order int

const (
	// LIFO sends the most recently queued batch first.
	LIFO Order = iota
	// FIFO sends batches in the order they were queued.
	FIFO
)

// ParseOrder parses "lifo" or "fifo", "" meaning LIFO.
func ParseOrder(s string) Order {
	if s == "fifo" {
		return FIFO
	}
	return LIFO
}

// Sender delivers a stanza taken from the queue.
type Sender interface {
	SendDelayedPacket(el *element.Element) error
}

// Queue holds pending batches. Put and PutOne never block; a single Run
// loop drains at most one batch per tick.
type Queue struct {
	sender   Sender
	interval time.Duration
	order    Order
	log      hclog.Logger

	mu    sync.Mutex
	items [][]*element.Element
}

// NewQueue creates a queue delivering to sender. A non-positive interval
// uses DefaultInterval.
func NewQueue(sender Sender, interval time.Duration, order Order, logger hclog.Logger) *Queue {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Queue{
		sender:   sender,
		interval: interval,
		order:    order,
		log:      logger,
	}
}

// Put queues a batch. Empty batches are dropped.
func (q *Queue) Put(batch []*element.Element) {
	if len(batch) == 0 {
		return
	}
	b := make([]*element.Element, len(batch))
	copy(b, batch)

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.order == LIFO {
		q.items = append([][]*element.Element{b}, q.items...)
	} else {
		q.items = append(q.items, b)
	}
}

// PutOne queues a single stanza behind every pending batch.
func (q *Queue) PutOne(el *element.Element) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, []*element.Element{el})
}

// Len returns the number of pending batches
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) poll() []*element.Element {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	b := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return b
}

// Run sends one pending batch per interval until ctx is done. Batches
// still pending at that point are dropped.
func (q *Queue) Run(ctx context.Context) error {
	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if n := q.Len(); n > 0 {
				q.log.Debug("dropping undelivered batches", "count", n)
			}
			return ctx.Err()
		case <-ticker.C:
			q.flush()
		}
	}
}

func (q *Queue) flush() {
	batch := q.poll()
	for _, el := range batch {
		if err := q.sender.SendDelayedPacket(el); err != nil {
			q.log.Info("failed to send delayed packet", "to", el.AttributeValue("to"), "error", err)
		}
	}
}
