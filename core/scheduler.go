// core/scheduler.go
package core

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
)

// TaskType selects how a scheduled task is re-triggered, layering
// repeated invocation on top of the single-run Options/Result model.
type TaskType string

const (
	TaskTypeSchedule TaskType = "schedule"
	TaskTypeWatch    TaskType = "watch"
)

// TaskConfig is the Options a scheduled task repeatedly feeds to
// Run. It carries no compression, encryption, password, or algorithm
// field — this package copies data verbatim and never transforms it.
type TaskConfig struct {
	SourcePath      string    `json:"sourcePath"`
	TargetPath      string    `json:"targetPath"`
	Excludes        []string  `json:"excludes"`
	WatchDebounceMs int       `json:"watchDebounceMs"`
	CronExpr        string    `json:"cronExpr"`
	WatchPaths      []string  `json:"watchPaths"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// BackupTask is one scheduled or watched backup definition.
type BackupTask struct {
	ID      string     `json:"id"`
	Name    string     `json:"name"`
	Type    TaskType   `json:"type"`
	Enabled bool       `json:"enabled"`
	Config  TaskConfig `json:"config"`
}

// TaskExecutor runs one backup for task and reports its outcome. In
// production this wraps core.Run; tests substitute a stub.
type TaskExecutor func(ctx context.Context, task BackupTask) *Result

// Scheduler re-invokes a TaskExecutor on a cron expression or on a
// debounced filesystem event under a watched tree, one state machine per
// task ID behind a single mutex: a cron.Cron and an fsnotify.Watcher
// pairing with run/pending coalescing so a burst of filesystem events
// collapses into at most one pending re-run per task.
type Scheduler struct {
	mu       sync.Mutex
	tasks    map[string]*taskState
	executor TaskExecutor

	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

type taskState struct {
	task BackupTask

	cronEntry cron.EntryID

	watcher   *fsnotify.Watcher
	watchDone chan struct{}
	debounce  *time.Timer

	running bool
	pending bool
}

// NewScheduler returns a Scheduler that will invoke executor for every
// due task, once Start is called.
func NewScheduler(executor TaskExecutor) *Scheduler {
	return &Scheduler{
		tasks:    make(map[string]*taskState),
		executor: executor,
		cron:     cron.New(),
	}
}

// Start begins driving every currently-registered enabled task. Safe to
// call more than once; only the first call has an effect.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.started = true
	s.cron.Start()

	for id := range s.tasks {
		_ = s.applyTaskLocked(id)
	}
}

// Stop halts every cron entry and filesystem watcher and cancels any
// in-flight context. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}

	if s.cancel != nil {
		s.cancel()
	}
	s.cron.Stop()

	for id := range s.tasks {
		s.stopTaskLocked(id)
	}
	s.started = false
}

// Upsert registers task, replacing any existing task with the same ID,
// and (re)applies its schedule or watch if the scheduler is running.
func (s *Scheduler) Upsert(task BackupTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.tasks[task.ID]
	if !ok {
		st = &taskState{task: task}
		s.tasks[task.ID] = st
	} else {
		st.task = task
	}

	if s.started {
		return s.applyTaskLocked(task.ID)
	}
	return nil
}

// Remove stops and forgets taskID.
func (s *Scheduler) Remove(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTaskLocked(taskID)
	delete(s.tasks, taskID)
}

// RunNow triggers taskID immediately, outside its normal schedule.
func (s *Scheduler) RunNow(taskID string) {
	s.runTask(taskID)
}

// List returns every registered task.
func (s *Scheduler) List() []BackupTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]BackupTask, 0, len(s.tasks))
	for _, st := range s.tasks {
		out = append(out, st.task)
	}
	return out
}

func (s *Scheduler) applyTaskLocked(taskID string) error {
	st, ok := s.tasks[taskID]
	if !ok {
		return nil
	}

	s.stopTaskLocked(taskID)

	if !st.task.Enabled {
		return nil
	}

	switch st.task.Type {
	case TaskTypeSchedule:
		entryID, err := s.cron.AddFunc(st.task.Config.CronExpr, func() {
			s.runTask(taskID)
		})
		if err != nil {
			return err
		}
		st.cronEntry = entryID
	case TaskTypeWatch:
		if err := s.startWatchLocked(taskID); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported task type: %s", st.task.Type)
	}

	return nil
}

func (s *Scheduler) stopTaskLocked(taskID string) {
	st, ok := s.tasks[taskID]
	if !ok {
		return
	}

	if st.cronEntry != 0 {
		s.cron.Remove(st.cronEntry)
		st.cronEntry = 0
	}

	if st.debounce != nil {
		st.debounce.Stop()
		st.debounce = nil
	}

	if st.watcher != nil {
		close(st.watchDone)
		_ = st.watcher.Close()
		st.watcher = nil
	}
}

func (s *Scheduler) startWatchLocked(taskID string) error {
	st, ok := s.tasks[taskID]
	if !ok {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	paths := st.task.Config.WatchPaths
	if len(paths) == 0 {
		paths = []string{st.task.Config.SourcePath}
	}
	for _, p := range paths {
		if err := addWatchRecursive(watcher, p); err != nil {
			_ = watcher.Close()
			return err
		}
	}

	st.watcher = watcher
	st.watchDone = make(chan struct{})

	debounce := time.Duration(st.task.Config.WatchDebounceMs) * time.Millisecond
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	go func() {
		for {
			select {
			case <-st.watchDone:
				return
			case <-s.ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&fsnotify.Create != 0 {
					if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
						_ = addWatchRecursive(watcher, event.Name)
					}
				}
				s.requestRun(taskID, debounce)
			case <-watcher.Errors:
				// Watcher errors don't stop the task; it can still be
				// triggered on its next event or run manually.
			}
		}
	}()

	return nil
}

func addWatchRecursive(w *fsnotify.Watcher, root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return err
	}

	if !info.IsDir() {
		return w.Add(filepath.Dir(root))
	}

	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}

func (s *Scheduler) requestRun(taskID string, debounce time.Duration) {
	s.mu.Lock()
	st, ok := s.tasks[taskID]
	if !ok || !st.task.Enabled {
		s.mu.Unlock()
		return
	}

	if st.debounce != nil {
		st.debounce.Stop()
	}
	st.debounce = time.AfterFunc(debounce, func() {
		s.runTask(taskID)
	})
	s.mu.Unlock()
}

func (s *Scheduler) runTask(taskID string) {
	s.mu.Lock()
	st, ok := s.tasks[taskID]
	if !ok || !st.task.Enabled {
		s.mu.Unlock()
		return
	}
	if st.running {
		st.pending = true
		s.mu.Unlock()
		return
	}
	st.running = true
	taskCopy := st.task
	s.mu.Unlock()

	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	result := s.executor(ctx, taskCopy)
	if result != nil {
		log.Printf("task %s (%s): %s", taskCopy.ID, taskCopy.Name, result.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st.running = false

	if st.pending {
		st.pending = false
		go s.runTask(taskID)
	}
}
