// Copyright 2024 The bitcraps Authors
// This file is part of the bitcraps library.

package mesh

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bitcraps/bitcraps/log"
)

// TaskCategory orders cancellation priority on shutdown: // "cancellable in priority order on shutdown (UI -> Maintenance -> Network
// -> ConsensusLast)" — ConsensusLast is cancelled last, so it has the
// highest shutdownRank.
type TaskCategory int

const (
	TaskUI TaskCategory = iota
	TaskMaintenance
	TaskNetwork
	TaskConsensus
)

func (c TaskCategory) shutdownRank() int {
	switch c {
	case TaskUI:
		return 0
	case TaskMaintenance:
		return 1
	case TaskNetwork:
		return 2
	case TaskConsensus:
		return 3
	default:
		return 0
	}
}

func (c TaskCategory) String() string {
	switch c {
	case TaskUI:
		return "ui"
	case TaskMaintenance:
		return "maintenance"
	case TaskNetwork:
		return "network"
	case TaskConsensus:
		return "consensus"
	default:
		return "unknown"
	}
}

// Health is a task's self-reported status, polled by the operator console
// and the metrics package.
type Health struct {
	Healthy bool
	Detail  string
}

// task is one registered background worker.
type task struct {
	id        string
	name      string
	category  TaskCategory
	startTime time.Time
	cancel    context.CancelFunc
	health    func() Health
}

// TaskRegistry tracks every background worker with a correlation ID
// (github.com/google/uuid, "{name, category, start_time}"), and
// drives shutdown in priority order, cancelling each category's contexts
// and then allowing a grace window for those tasks to deregister.
type TaskRegistry struct {
	mu    sync.Mutex
	tasks map[string]*task
}

// NewTaskRegistry builds an empty registry.
func NewTaskRegistry() *TaskRegistry {
	return &TaskRegistry{tasks: make(map[string]*task)}
}

// Register creates a child context for a new task named name in category,
// returning its correlation ID and the context the task should observe for
// cancellation. healthFn may be nil if the task reports no health detail.
func (r *TaskRegistry) Register(parent context.Context, name string, category TaskCategory, healthFn func() Health) (id string, ctx context.Context) {
	ctx, cancel := context.WithCancel(parent)
	id = uuid.NewString()

	r.mu.Lock()
	r.tasks[id] = &task{
		id:        id,
		name:      name,
		category:  category,
		startTime: time.Now(),
		cancel:    cancel,
		health:    healthFn,
	}
	r.mu.Unlock()

	log.Info("task registered", "id", id, "name", name, "category", category.String())
	return id, ctx
}

// Deregister removes a completed task from the registry (it must already
// have observed cancellation or finished on its own).
func (r *TaskRegistry) Deregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tasks, id)
}

// StatusEntry is one task's snapshot for health/status reporting.
type StatusEntry struct {
	ID        string
	Name      string
	Category  TaskCategory
	StartTime time.Time
	Health    Health
}

// Status returns a snapshot of every registered task, sorted by category
// then name, for the operator console.
func (r *TaskRegistry) Status() []StatusEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]StatusEntry, 0, len(r.tasks))
	for _, t := range r.tasks {
		h := Health{Healthy: true}
		if t.health != nil {
			h = t.health()
		}
		out = append(out, StatusEntry{ID: t.id, Name: t.name, Category: t.category, StartTime: t.startTime, Health: h})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category.shutdownRank() < out[j].Category.shutdownRank()
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Shutdown cancels every registered task in priority order (UI first,
// ConsensusLast last), waiting up to grace for each wave of cancellations
// to be deregistered before moving to the next. Tasks still registered when
// a wave's grace runs out are left as they are; nothing further is done to
// stop them.
func (r *TaskRegistry) Shutdown(grace time.Duration) {
	for rank := 0; rank <= TaskConsensus.shutdownRank(); rank++ {
		r.cancelWave(rank)
		deadline := time.Now().Add(grace)
		for time.Now().Before(deadline) {
			if r.waveEmpty(rank) {
				break
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func (r *TaskRegistry) cancelWave(rank int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tasks {
		if t.category.shutdownRank() == rank {
			t.cancel()
		}
	}
}

func (r *TaskRegistry) waveEmpty(rank int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tasks {
		if t.category.shutdownRank() == rank {
			return false
		}
	}
	return true
}
