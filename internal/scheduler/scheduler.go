// Package scheduler fires registered tasks on six-field cron triggers.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/stockcrawler/internal/metrics"
)

var (
	// ErrInvalidExpression reports a cron expression that does not parse.
	ErrInvalidExpression = errors.New("invalid cron expression")
	// ErrAlreadyStarted is returned when registering on, or starting, a running scheduler.
	ErrAlreadyStarted = errors.New("scheduler already started")
	// ErrStopped is returned by every mutating call after Stop.
	ErrStopped = errors.New("scheduler stopped")
	// ErrUnknownTask is returned by RunNow for a name nothing registered.
	ErrUnknownTask = errors.New("unknown task")
)

// parser accepts seconds|minute|hour|day-of-month|month|day-of-week.
var parser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Runnable is a unit of scheduled work.
type Runnable interface {
	Name() string
	Run(ctx context.Context) error
}

type funcTask struct {
	name string
	fn   func(ctx context.Context) error
}

func (f funcTask) Name() string                  { return f.name }
func (f funcTask) Run(ctx context.Context) error { return f.fn(ctx) }

// Func adapts a plain function to Runnable.
func Func(name string, fn func(ctx context.Context) error) Runnable {
	return funcTask{name: name, fn: fn}
}

// TriggerInfo describes one registered trigger.
type TriggerInfo struct {
	Expression string    `json:"expression"`
	Tasks      []string  `json:"tasks"`
	NextRun    time.Time `json:"next_run,omitzero"`
}

type trigger struct {
	expr     string
	schedule cron.Schedule
	tasks    []Runnable
	job      *gocron.Job
}

type state int

const (
	stateRegistered state = iota
	stateRunning
	stateStopped
)

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithSingleton skips a fire while the previous fire of the same trigger is
// still running. By default fires may overlap.
func WithSingleton() Option {
	return func(s *Scheduler) { s.singleton = true }
}

// Scheduler maps cron expressions to ordered task lists.
type Scheduler struct {
	loc       *time.Location
	logger    *zap.Logger
	singleton bool

	mu       sync.Mutex
	state    state
	cron     *gocron.Scheduler
	triggers []*trigger
	byExpr   map[string]*trigger
	byName   map[string]Runnable
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New builds a Scheduler evaluating expressions in loc (UTC when nil).
func New(loc *time.Location, logger *zap.Logger, opts ...Option) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cs := gocron.NewScheduler(loc)
	cs.WaitForScheduleAll()
	s := &Scheduler{
		loc:    loc,
		logger: logger.Named("scheduler"),
		cron:   cs,
		byExpr: make(map[string]*trigger),
		byName: make(map[string]Runnable),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register binds tasks to expr. Registering an expression again appends to
// its task list; tasks of one trigger run in registration order.
func (s *Scheduler) Register(expr string, tasks ...Runnable) error {
	sched, err := parser.Parse(expr)
	if err != nil {
		return fmt.Errorf("%w %q: %w", ErrInvalidExpression, expr, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case stateRunning:
		return ErrAlreadyStarted
	case stateStopped:
		return ErrStopped
	}

	t, ok := s.byExpr[expr]
	if !ok {
		t = &trigger{expr: expr, schedule: sched}
		s.byExpr[expr] = t
		s.triggers = append(s.triggers, t)
	}
	for _, task := range tasks {
		if task == nil {
			continue
		}
		t.tasks = append(t.tasks, task)
		s.byName[task.Name()] = task
	}
	return nil
}

// HasTask reports whether a task with name is registered.
func (s *Scheduler) HasTask(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byName[name]
	return ok
}

// Start schedules every trigger and returns. Fires stop when ctx ends or on Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case stateRunning:
		return ErrAlreadyStarted
	case stateStopped:
		return ErrStopped
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	for _, t := range s.triggers {
		builder := s.cron.CronWithSeconds(t.expr)
		if s.singleton {
			builder = builder.SingletonMode()
		}
		job, err := builder.Tag(t.expr).Do(s.fire, t)
		if err != nil {
			s.cron.Clear()
			s.cancel()
			return fmt.Errorf("%w %q: %w", ErrInvalidExpression, t.expr, err)
		}
		t.job = job
	}
	s.cron.StartAsync()
	s.state = stateRunning
	s.logger.Info("scheduler started", zap.Int("triggers", len(s.triggers)), zap.Stringer("location", s.loc))

	go func() {
		<-s.ctx.Done()
		s.Stop()
	}()
	return nil
}

// fire runs the tasks of t one after another. A failing task does not
// stop the ones after it.
func (s *Scheduler) fire(t *trigger) {
	if !s.beginFire() {
		return
	}
	defer s.wg.Done()
	metrics.ObserveSchedulerFire(t.expr)
	for _, task := range t.tasks {
		if s.ctx.Err() != nil {
			return
		}
		_ = s.runAndLog(s.ctx, task, "cron")
	}
}

// beginFire counts a fire in flight. Once Stop has been entered no new fire
// is admitted, so every Add happens before Stop's Wait.
func (s *Scheduler) beginFire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateRunning {
		return false
	}
	s.wg.Add(1)
	return true
}

// RunNow executes a registered task immediately and waits for it.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	task, ok := s.byName[name]
	stopped := s.state == stateStopped
	s.mu.Unlock()
	if stopped {
		return ErrStopped
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	return s.runAndLog(ctx, task, "manual")
}

func (s *Scheduler) runAndLog(ctx context.Context, task Runnable, trigger string) (err error) {
	logger := s.logger.With(zap.String("task", task.Name()), zap.String("trigger", trigger))
	start := time.Now()
	logger.Info("task started")

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", task.Name(), r)
		}
		result := "ok"
		if err != nil {
			result = "error"
			logger.Error("task failed", zap.Duration("duration", time.Since(start)), zap.Error(err))
		} else {
			logger.Info("task finished", zap.Duration("duration", time.Since(start)))
		}
		metrics.ObserveScheduledTask(task.Name(), result)
	}()

	return task.Run(ctx)
}

// Stop halts trigger evaluation and waits for in-progress fires. It is safe
// to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.state == stateStopped {
		s.mu.Unlock()
		return
	}
	wasRunning := s.state == stateRunning
	s.state = stateStopped
	s.mu.Unlock()

	if !wasRunning {
		return
	}
	s.cancel()
	s.cron.Stop()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// Triggers lists registered triggers in registration order. NextRun is
// computed from the expression when the scheduler is not running.
func (s *Scheduler) Triggers() []TriggerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().In(s.loc)
	out := make([]TriggerInfo, 0, len(s.triggers))
	for _, t := range s.triggers {
		info := TriggerInfo{Expression: t.expr}
		for _, task := range t.tasks {
			info.Tasks = append(info.Tasks, task.Name())
		}
		if t.job != nil && s.state == stateRunning {
			info.NextRun = t.job.NextRun()
		} else if s.state != stateStopped {
			info.NextRun = t.schedule.Next(now)
		}
		out = append(out, info)
	}
	return out
}

// TaskNames returns every registered task name, sorted.
func (s *Scheduler) TaskNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.byName))
	for name := range s.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
