package subagent

import (
	"fmt"
	"sort"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/harun/rlm/pkg/outcome"
)

// Coordinator keeps the in-memory tree of agent runs of one process
type Coordinator struct {
	mu       sync.RWMutex
	runs     map[string]*RunRecord
	children map[string][]string

	subMu  sync.RWMutex
	subs   map[int]func(RunEvent)
	nextID int

	logger zerolog.Logger
}

func NewCoordinator(logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		runs:     make(map[string]*RunRecord),
		children: make(map[string][]string),
		subs:     make(map[int]func(RunEvent)),
		logger:   logger.With().Str("component", "coordinator").Logger(),
	}
}

// Register adds a pending run and links it under its parent
func (c *Coordinator) Register(p RunParams) (string, error) {
	id := p.ID
	if id == "" {
		generated, err := gonanoid.New()
		if err != nil {
			return "", fmt.Errorf("generate run id: %w", err)
		}
		id = generated
	}

	rec := &RunRecord{
		ID:          id,
		ParentRunID: p.ParentRunID,
		Task:        p.Task,
		Depth:       p.Depth,
		Context:     p.Context,
		Status:      StatusPending,
		StartedAt:   time.Now(),
	}

	c.mu.Lock()
	if _, dup := c.runs[id]; dup {
		c.mu.Unlock()
		return "", fmt.Errorf("run %s already registered", id)
	}
	c.runs[id] = rec
	c.children[p.ParentRunID] = append(c.children[p.ParentRunID], id)
	snap := *rec
	c.mu.Unlock()

	c.logger.Debug().Str("run_id", id).Str("parent_run_id", p.ParentRunID).Int("depth", p.Depth).Msg("Run registered")
	c.publish(RunEvent{Type: EventRegistered, Run: snap})
	return id, nil
}

// MarkRunning moves a pending run to running
func (c *Coordinator) MarkRunning(id string) error {
	return c.transition(id, StatusRunning, func(*RunRecord) {})
}

// Finish closes a run with the outcome its loop produced
func (c *Coordinator) Finish(id string, o outcome.Outcome) error {
	if o.IsCompleted() {
		return c.transition(id, StatusCompleted, func(r *RunRecord) { r.Result = o.Value })
	}
	return c.transition(id, StatusFailed, func(r *RunRecord) { r.Error = o.Reason })
}

// Abort closes a run that ended in a fault rather than an outcome
func (c *Coordinator) Abort(id string, cause error) error {
	return c.transition(id, StatusAborted, func(r *RunRecord) {
		if cause != nil {
			r.Error = cause.Error()
		}
	})
}

func (c *Coordinator) transition(id string, to RunStatus, apply func(*RunRecord)) error {
	c.mu.Lock()
	rec, ok := c.runs[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("run not found: %s", id)
	}
	if rec.Status.IsTerminal() {
		from := rec.Status
		c.mu.Unlock()
		return fmt.Errorf("run %s already %s", id, from)
	}

	rec.Status = to
	apply(rec)
	if to.IsTerminal() {
		now := time.Now()
		rec.CompletedAt = &now
	}
	snap := *rec
	c.mu.Unlock()

	c.logger.Debug().Str("run_id", id).Str("status", string(to)).Msg("Run status changed")
	c.publish(RunEvent{Type: EventStatusChanged, Run: snap})
	return nil
}

// Children returns the direct children of a run in start order. The empty ID
// lists root runs.
func (c *Coordinator) Children(id string) []RunRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.collect(id, false)
}

// Descendants returns every run nested under id, in start order
func (c *Coordinator) Descendants(id string) []RunRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.collect(id, true)
}

func (c *Coordinator) collect(id string, deep bool) []RunRecord {
	out := []RunRecord{}
	queue := append([]string(nil), c.children[id]...)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		rec, ok := c.runs[next]
		if !ok {
			continue
		}
		out = append(out, *rec)
		if deep {
			queue = append(queue, c.children[next]...)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

func (c *Coordinator) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Stats{TotalRuns: len(c.runs)}
	for _, rec := range c.runs {
		switch rec.Status {
		case StatusCompleted:
			s.CompletedRuns++
		case StatusFailed:
			s.FailedRuns++
		case StatusAborted:
			s.AbortedRuns++
		default:
			s.ActiveRuns++
		}
		if rec.Depth > s.MaxDepth {
			s.MaxDepth = rec.Depth
		}
	}
	return s
}

// Subscribe calls fn for every registration and status change until the
// returned function is called. fn runs on the goroutine making the change.
func (c *Coordinator) Subscribe(fn func(RunEvent)) (unsubscribe func()) {
	c.subMu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	c.subMu.Unlock()

	return func() {
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
	}
}

func (c *Coordinator) publish(e RunEvent) {
	c.subMu.RLock()
	fns := make([]func(RunEvent), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.subMu.RUnlock()

	for _, fn := range fns {
		fn(e)
	}
}
