package server

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskStatus defines the possible states of a task.
type TaskStatus string

const (
	TaskStatusStarted   TaskStatus = "started"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// Task represents a long-running operation, such as an ingestion.
type Task struct {
	mu              sync.RWMutex
	id              string
	kind            string
	status          TaskStatus
	progressMessage string
	err             string
	result          any
	started         time.Time
	finished        time.Time
}

// TaskInfo is the JSON view of a Task.
type TaskInfo struct {
	ID              string     `json:"id"`
	Kind            string     `json:"kind"`
	Status          TaskStatus `json:"status"`
	ProgressMessage string     `json:"progress_message,omitempty"`
	Error           string     `json:"error,omitempty"`
	Result          any        `json:"result,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}

// TaskManager tracks all asynchronous tasks.
type TaskManager struct {
	tasks map[string]*Task
	mu    sync.RWMutex
	wg    sync.WaitGroup
}

// NewTaskManager creates a new task manager.
func NewTaskManager() *TaskManager {
	return &TaskManager{
		tasks: make(map[string]*Task),
	}
}

// NewTask creates a new task, registers it, and returns it.
func (tm *TaskManager) NewTask(kind string) *Task {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	task := &Task{
		id:      uuid.NewString(),
		kind:    kind,
		status:  TaskStatusStarted,
		started: time.Now(),
	}
	tm.tasks[task.id] = task
	return task
}

// Go runs fn for task in the background, marking it running and then
// completed or failed.
func (tm *TaskManager) Go(task *Task, fn func(*Task) (any, error)) {
	tm.wg.Add(1)
	go func() {
		defer tm.wg.Done()
		task.SetStatus(TaskStatusRunning)
		result, err := fn(task)
		if err != nil {
			task.SetError(err)
			return
		}
		task.complete(result)
	}()
}

// Wait blocks until every task started with Go has returned.
func (tm *TaskManager) Wait() {
	tm.wg.Wait()
}

// GetTask safely retrieves a task by its ID.
func (tm *TaskManager) GetTask(id string) (*Task, bool) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	task, found := tm.tasks[id]
	return task, found
}

// --- Methods for updating a Task ---

func (t *Task) ID() string {
	return t.id
}

// SetStatus updates the status of the task.
func (t *Task) SetStatus(status TaskStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = status
}

// SetError marks the task as failed and records the error message.
func (t *Task) SetError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = TaskStatusFailed
	t.err = err.Error()
	t.finished = time.Now()
}

// SetProgress updates the progress message for the task.
func (t *Task) SetProgress(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.progressMessage = message
}

func (t *Task) complete(result any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = TaskStatusCompleted
	t.result = result
	t.finished = time.Now()
}

// Info returns a consistent copy of the task state.
func (t *Task) Info() TaskInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	info := TaskInfo{
		ID:              t.id,
		Kind:            t.kind,
		Status:          t.status,
		ProgressMessage: t.progressMessage,
		Error:           t.err,
		Result:          t.result,
		StartedAt:       t.started,
	}
	if !t.finished.IsZero() {
		finished := t.finished
		info.FinishedAt = &finished
	}
	return info
}
