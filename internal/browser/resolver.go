package browser

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Resolver turns a priority-ordered list of selector hypotheses into a
// single located control. Candidates are tried strictly in order across the
// main document and all nested frames; a less-specific candidate is never
// consulted until the more specific one has exhausted its timeout budget.
type Resolver struct {
	logger *zap.Logger
	// poll is the re-check interval while a candidate's budget lasts.
	poll time.Duration
}

// NewResolver creates a resolver with the standard 1s poll interval.
func NewResolver(logger *zap.Logger) *Resolver {
	return NewResolverWithPoll(logger, time.Second)
}

// NewResolverWithPoll creates a resolver with a custom poll interval.
func NewResolverWithPoll(logger *zap.Logger, poll time.Duration) *Resolver {
	return &Resolver{logger: logger.Named("resolver"), poll: poll}
}

// Locate tries each candidate in order, walking every frame of the page,
// and returns the first attached and visible match. Each candidate gets its
// own timeout budget; within the budget the frames are re-walked at the
// poll interval, because frames appear and disappear as the login UI
// settles.
func (r *Resolver) Locate(ctx context.Context, page Page, candidates []Candidate, perCandidate time.Duration) (Element, error) {
	for _, c := range candidates {
		el, err := r.locateOne(ctx, page, c, perCandidate)
		if err == nil {
			r.logger.Debug("Candidate matched",
				zap.String("candidate", c.Name),
				zap.String("frame", el.Frame().Name()))
			return el, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		r.logger.Debug("Candidate exhausted", zap.String("candidate", c.Name))
	}
	return nil, ErrNotFound
}

func (r *Resolver) locateOne(ctx context.Context, page Page, c Candidate, budget time.Duration) (Element, error) {
	deadline := time.Now().Add(budget)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		frames, err := page.Frames(ctx)
		if err != nil {
			return nil, err
		}
		for _, frame := range frames {
			el, err := frame.Find(ctx, c)
			if err == nil {
				return el, nil
			}
			if !errors.Is(err, ErrNotFound) {
				// A broken frame must not mask a match elsewhere.
				r.logger.Debug("Frame query failed",
					zap.String("frame", frame.Name()),
					zap.String("candidate", c.Name),
					zap.Error(err))
			}
		}
		if time.Now().After(deadline) {
			return nil, ErrNotFound
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.poll):
		}
	}
}

// Fill writes a value into the element, tolerating a transient
// not-interactable state with one visibility re-check and retry.
func (r *Resolver) Fill(ctx context.Context, el Element, value string) error {
	return r.withRetry(ctx, el, func() error { return el.Fill(ctx, value) })
}

// Click clicks the element with the same single-retry policy as Fill.
func (r *Resolver) Click(ctx context.Context, el Element) error {
	return r.withRetry(ctx, el, func() error { return el.Click(ctx) })
}

func (r *Resolver) withRetry(ctx context.Context, el Element, action func() error) error {
	visible, err := el.Visible(ctx)
	if err != nil {
		return err
	}
	if visible {
		if err := action(); err == nil {
			return nil
		}
	}
	// Transient overlays and re-renders settle quickly; one re-check is
	// the agreed tolerance before the step is declared failed.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(r.poll):
	}
	visible, err = el.Visible(ctx)
	if err != nil {
		return err
	}
	if !visible {
		return ErrNotFound
	}
	return action()
}

// Condition is one terminal state WaitForAny can observe.
type Condition struct {
	Name  string
	Check func(ctx context.Context) (bool, error)
}

// WaitForAny polls the conditions at a fixed 1s interval until one matches
// or the total timeout elapses. It returns the name of the first matching
// condition; conditions are checked in the given order on each tick, so
// earlier conditions win ties.
func (r *Resolver) WaitForAny(ctx context.Context, conds []Condition, total time.Duration) (string, error) {
	waitCtx, cancel := context.WithTimeout(ctx, total)
	defer cancel()

	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()

	for {
		for _, cond := range conds {
			ok, err := cond.Check(waitCtx)
			if err != nil {
				r.logger.Debug("Condition check failed", zap.String("condition", cond.Name), zap.Error(err))
				continue
			}
			if ok {
				return cond.Name, nil
			}
		}
		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", ErrTimeout
		case <-ticker.C:
		}
	}
}
