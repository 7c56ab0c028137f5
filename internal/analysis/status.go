package analysis

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lab-analysis-server/internal/domain"
)

// Task is the observable state of one document-analysis request. The
// historical design ran the pipeline detached from its request; modeling the
// request as an explicit task with a pollable state machine replaces that.
type Task struct {
	ID        string                            `json:"id"`
	State     domain.AnalysisState              `json:"state"`
	Error     string                            `json:"error,omitempty"`
	Result    *domain.CoordinatedAnalysisResult `json:"result,omitempty"`
	CreatedAt time.Time                         `json:"created_at"`
	UpdatedAt time.Time                         `json:"updated_at"`
}

// legalTransitions encodes
// pending -> dispatched -> (partial|complete) -> synthesized | failed.
var legalTransitions = map[domain.AnalysisState][]domain.AnalysisState{
	domain.StatePending:    {domain.StateDispatched, domain.StateFailed},
	domain.StateDispatched: {domain.StatePartial, domain.StateComplete, domain.StateFailed},
	domain.StatePartial:    {domain.StateSynthesized, domain.StateFailed},
	domain.StateComplete:   {domain.StateSynthesized, domain.StateFailed},
}

// TaskRegistry tracks in-flight and recently-finished analysis tasks so the
// caller can poll their state. All methods are safe for concurrent use.
type TaskRegistry struct {
	mu    sync.RWMutex
	tasks map[string]*Task
	log   *logrus.Logger
}

// NewTaskRegistry creates an empty registry.
func NewTaskRegistry(logger *logrus.Logger) *TaskRegistry {
	return &TaskRegistry{
		tasks: make(map[string]*Task),
		log:   logger,
	}
}

// Create registers a new task in the pending state.
func (r *TaskRegistry) Create(id string) *Task {
	now := time.Now().UTC()
	task := &Task{
		ID:        id,
		State:     domain.StatePending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	r.mu.Lock()
	r.tasks[id] = task
	r.mu.Unlock()

	return task
}

// Get returns a snapshot of the task, if known.
func (r *TaskRegistry) Get(id string) (Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	task, ok := r.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *task, true
}

// Transition moves the task to state, enforcing the legal transition set.
// Illegal transitions are logged and ignored; the state machine never goes
// backward.
func (r *TaskRegistry) Transition(id string, state domain.AnalysisState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[id]
	if !ok {
		return
	}

	if !transitionAllowed(task.State, state) {
		r.log.WithFields(logrus.Fields{
			"task_id": id,
			"from":    task.State,
			"to":      state,
		}).Warn("Ignoring illegal analysis state transition")
		return
	}

	task.State = state
	task.UpdatedAt = time.Now().UTC()
}

// Complete marks the task synthesized and attaches the coordinated result.
func (r *TaskRegistry) Complete(id string, result *domain.CoordinatedAnalysisResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[id]
	if !ok {
		return
	}
	if !transitionAllowed(task.State, domain.StateSynthesized) {
		return
	}

	task.State = domain.StateSynthesized
	task.Result = result
	task.UpdatedAt = time.Now().UTC()
}

// Fail marks the task failed with a reason.
func (r *TaskRegistry) Fail(id string, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[id]
	if !ok {
		return
	}
	if task.State.Terminal() {
		return
	}

	task.State = domain.StateFailed
	task.Error = reason
	task.UpdatedAt = time.Now().UTC()
}

func transitionAllowed(from, to domain.AnalysisState) bool {
	for _, allowed := range legalTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
