// Package jobs is a small in-process ticket queue: enqueue a unit of work,
// get a ticket back immediately, poll the ticket for the outcome. Workers
// drain a bounded channel; each ticket transitions exactly once from queued
// to done or error.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/prateekraj3711-alt/PwC/api/schemas"
	"github.com/prateekraj3711-alt/PwC/internal/config"
)

// ErrQueueFull indicates the work channel is at capacity.
var ErrQueueFull = errors.New("job queue full")

// Work is one unit of queued work. The context carries the per-job timeout.
type Work func(ctx context.Context) (any, error)

type job struct {
	ticketID string
	work     Work
}

// Queue executes queued work on a fixed worker pool and retains terminal
// tickets for polling, bounded by count and age.
type Queue struct {
	cfg    config.JobsConfig
	logger *zap.Logger

	jobs chan job

	mu      sync.Mutex
	tickets map[string]*schemas.Ticket
	order   []string
}

// NewQueue creates a stopped queue; call Start to launch the workers.
func NewQueue(cfg config.JobsConfig, logger *zap.Logger) *Queue {
	return &Queue{
		cfg:     cfg,
		logger:  logger.Named("jobs"),
		jobs:    make(chan job, cfg.QueueSize),
		tickets: make(map[string]*schemas.Ticket),
	}
}

// Start launches the worker pool. Workers exit when the context is
// cancelled; in-flight work finishes under its own job timeout.
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.cfg.Workers; i++ {
		go q.worker(ctx, i)
	}
	q.logger.Info("Job queue started",
		zap.Int("workers", q.cfg.Workers),
		zap.Int("capacity", q.cfg.QueueSize))
}

func (q *Queue) worker(ctx context.Context, n int) {
	log := q.logger.With(zap.Int("worker", n))
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-q.jobs:
			jobCtx, cancel := context.WithTimeout(ctx, q.cfg.JobTimeout)
			result, err := runGuarded(jobCtx, j.work)
			cancel()
			q.complete(j.ticketID, result, err)
			if err != nil {
				log.Warn("Job failed", zap.String("ticket_id", j.ticketID), zap.Error(err))
			} else {
				log.Debug("Job done", zap.String("ticket_id", j.ticketID))
			}
		}
	}
}

// runGuarded converts a panicking job into an error ticket instead of
// taking the worker down.
func runGuarded(ctx context.Context, work Work) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return work(ctx)
}

// Enqueue registers a ticket and hands the work to the pool without
// blocking the caller.
func (q *Queue) Enqueue(work Work) (string, error) {
	t := &schemas.Ticket{
		ID:        uuid.New().String(),
		Status:    schemas.TicketQueued,
		CreatedAt: time.Now(),
	}

	q.mu.Lock()
	q.evictLocked()
	q.tickets[t.ID] = t
	q.order = append(q.order, t.ID)
	q.mu.Unlock()

	select {
	case q.jobs <- job{ticketID: t.ID, work: work}:
	default:
		q.rollback(t.ID)
		return "", ErrQueueFull
	}

	q.logger.Info("Job enqueued", zap.String("ticket_id", t.ID))
	return t.ID, nil
}

// rollback withdraws a ticket whose work never made it onto the channel.
// Another Enqueue may have appended behind it in the meantime, so the id
// is located by scan rather than assumed to be last.
func (q *Queue) rollback(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.tickets, id)
	for i, other := range q.order {
		if other == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			return
		}
	}
}

// complete performs the single queued-to-terminal transition. A ticket
// already terminal (or evicted) is left untouched.
func (q *Queue) complete(ticketID string, result any, err error) {
	now := time.Now()
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tickets[ticketID]
	if !ok || t.Status.Terminal() {
		return
	}
	t.FinishedAt = &now
	if err != nil {
		t.Status = schemas.TicketError
		t.Error = err.Error()
		return
	}
	t.Status = schemas.TicketDone
	t.Result = result
}

// Status returns a copy of the ticket, so repeated polling of a terminal
// ticket is stable even while the queue mutates its table.
func (q *Queue) Status(ticketID string) (schemas.Ticket, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tickets[ticketID]
	if !ok {
		return schemas.Ticket{}, false
	}
	return *t, true
}

// evictLocked drops terminal tickets past the retention TTL, then trims
// oldest-first down to the max count. Queued tickets are never evicted;
// their work is still owed a transition.
func (q *Queue) evictLocked() {
	cutoff := time.Now().Add(-q.cfg.TicketTTL)
	kept := q.order[:0]
	for _, id := range q.order {
		t, ok := q.tickets[id]
		if !ok {
			// An id without a ticket was withdrawn; drop the entry.
			continue
		}
		if t.Status.Terminal() && t.FinishedAt != nil && t.FinishedAt.Before(cutoff) {
			delete(q.tickets, id)
			continue
		}
		kept = append(kept, id)
	}
	q.order = kept

	for len(q.order) >= q.cfg.MaxTickets {
		evicted := false
		for i, id := range q.order {
			if q.tickets[id].Status.Terminal() {
				delete(q.tickets, id)
				q.order = append(q.order[:i], q.order[i+1:]...)
				evicted = true
				break
			}
		}
		if !evicted {
			break
		}
	}
}
