// Package scheduler drives the execution loop: it polls the manager for
// due tasks, gates them on conditional triggers and hands them to a
// bounded worker pool.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"autotask/internal/executor"
	"autotask/internal/manager"
	"autotask/internal/task"
	"autotask/pkg/logx"

	"github.com/google/uuid"
)

const (
	defaultPollInterval = 10 * time.Second
	minPollInterval     = time.Second
	maxPollInterval     = 60 * time.Second

	defaultWorkers      = 5
	defaultRetryBackoff = 5 * time.Minute
)

// Config controls the scheduler loop.
type Config struct {
	// PollInterval is clamped to 1s..60s.
	PollInterval time.Duration
	// Workers bounds how many tasks run concurrently.
	Workers int
	// RetryBackoff scales linearly with the attempt number.
	RetryBackoff time.Duration
}

func (c Config) normalized() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.PollInterval < minPollInterval {
		c.PollInterval = minPollInterval
	}
	if c.PollInterval > maxPollInterval {
		c.PollInterval = maxPollInterval
	}
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = defaultRetryBackoff
	}
	return c
}

// ContextProvider supplies system snapshots for trigger evaluation.
type ContextProvider interface {
	Snapshot(ctx context.Context) (task.SystemContext, error)
}

// LogSink receives one record per completed run.
type LogSink interface {
	LogExecution(ctx context.Context, rec task.ExecutionLog) error
}

// Stats is a point-in-time view of the loop. LastPoll is zero until the
// first poll cycle has scanned for due tasks.
type Stats struct {
	Running    bool
	Paused     bool
	Dispatched uint64
	Succeeded  uint64
	Failed     uint64
	Retried    uint64
	Skipped    uint64
	QueueLen   int
	LastPoll   time.Time
}

// Service is the scheduler loop. Start and Stop are idempotent.
type Service struct {
	cfg  Config
	mgr  *manager.Manager
	exec *executor.Executor
	ctxp ContextProvider
	sink LogSink
	log  logx.Logger

	mu       sync.Mutex
	running  bool
	runCtx   context.Context
	cancel   context.CancelFunc
	stopCh   chan struct{}
	stopDone chan struct{}
	queue    chan *task.Task
	wg       sync.WaitGroup

	forceCh chan chan struct{}
	paused  atomic.Bool

	// sinkWarn throttles complaints about a broken history sink so a dead
	// disk cannot flood the log on every run.
	sinkWarn *rate.Limiter

	dispatched atomic.Uint64
	succeeded  atomic.Uint64
	failed     atomic.Uint64
	retried    atomic.Uint64
	skipped    atomic.Uint64
	lastPoll   atomic.Int64
}

// New wires the loop. ctxp and sink may be nil: without a provider every
// trigger falls back to its nil-context behavior, without a sink history
// is not recorded.
func New(cfg Config, mgr *manager.Manager, exec *executor.Executor, ctxp ContextProvider, sink LogSink, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:      cfg.normalized(),
		mgr:      mgr,
		exec:     exec,
		ctxp:     ctxp,
		sink:     sink,
		log:      log,
		forceCh:  make(chan chan struct{}, 1),
		sinkWarn: rate.NewLimiter(rate.Every(30*time.Second), 1),
	}
}

func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	if s.mgr == nil || s.exec == nil {
		return errors.New("scheduler needs a manager and an executor")
	}
	s.runCtx, s.cancel = context.WithCancel(context.Background())
	s.stopCh = make(chan struct{})
	s.stopDone = make(chan struct{})
	s.queue = make(chan *task.Task, s.cfg.Workers*2)
	s.running = true

	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	go s.loop()

	s.log.Info("scheduler started",
		logx.Duration("poll_interval", s.cfg.PollInterval),
		logx.Int("workers", s.cfg.Workers))
	return nil
}

// Stop cancels in-flight runs and waits for the loop and workers to
// drain.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.cancel()
	stopDone := s.stopDone
	s.mu.Unlock()

	<-stopDone
	s.wg.Wait()
	s.log.Info("scheduler stopped")
}

// Pause keeps the loop alive but stops dispatching new runs.
func (s *Service) Pause()  { s.paused.Store(true) }
func (s *Service) Resume() { s.paused.Store(false) }

// ForceCheck runs one poll cycle immediately and waits for its dispatch
// phase to finish. In-flight executions are not waited on.
func (s *Service) ForceCheck() {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return
	}
	done := make(chan struct{})
	select {
	case s.forceCh <- done:
	case <-s.stopCh:
		return
	}
	select {
	case <-done:
	case <-s.stopCh:
	}
}

func (s *Service) Snapshot() Stats {
	s.mu.Lock()
	running := s.running
	var qlen int
	if s.queue != nil {
		qlen = len(s.queue)
	}
	s.mu.Unlock()
	var lastPoll time.Time
	if ns := s.lastPoll.Load(); ns != 0 {
		lastPoll = time.Unix(0, ns)
	}
	return Stats{
		Running:    running,
		Paused:     s.paused.Load(),
		Dispatched: s.dispatched.Load(),
		Succeeded:  s.succeeded.Load(),
		Failed:     s.failed.Load(),
		Retried:    s.retried.Load(),
		Skipped:    s.skipped.Load(),
		QueueLen:   qlen,
		LastPoll:   lastPoll,
	}
}

func (s *Service) loop() {
	defer close(s.stopDone)
	defer close(s.queue)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick()
		case done := <-s.forceCh:
			s.tick()
			close(done)
		}
	}
}

// tick dispatches every due task whose trigger holds. Dispatch marks the
// task running first, so a task can never be queued twice.
func (s *Service) tick() {
	if s.paused.Load() {
		return
	}
	now := time.Now()
	s.lastPoll.Store(now.UnixNano())
	due := s.mgr.DueTasks(now)
	if len(due) == 0 {
		return
	}

	snap, snapErr := s.snapshotContext()

	for _, t := range due {
		trig := triggerOf(t)
		if trig != nil {
			if snapErr != nil {
				// Fail closed: no snapshot means no evidence the
				// condition holds.
				s.skipped.Add(1)
				s.log.Debug("trigger skipped: no system context",
					logx.String("task_id", t.ID),
					logx.Err(snapErr))
				continue
			}
			if !trig.Evaluate(snap) {
				s.skipped.Add(1)
				s.log.Debug("trigger condition not met",
					logx.String("task_id", t.ID),
					logx.String("condition", string(trig.Type)))
				continue
			}
		}

		claimed, err := s.mgr.BeginRun(t.ID)
		if err != nil {
			if !errors.Is(err, manager.ErrAlreadyRunning) {
				s.log.Warn("dispatch refused",
					logx.String("task_id", t.ID),
					logx.Err(err))
			}
			continue
		}
		select {
		case s.queue <- claimed:
			s.dispatched.Add(1)
		case <-s.stopCh:
			return
		}
	}
}

func (s *Service) snapshotContext() (task.SystemContext, error) {
	if s.ctxp == nil {
		return task.SystemContext{CurrentTime: time.Now()}, nil
	}
	ctx, cancel := context.WithTimeout(s.runCtx, 5*time.Second)
	defer cancel()
	return s.ctxp.Snapshot(ctx)
}

func (s *Service) worker() {
	defer s.wg.Done()
	for t := range s.queue {
		s.run(t)
	}
}

func (s *Service) run(t *task.Task) {
	ctx := s.runCtx
	started := time.Now()
	res := s.exec.ExecuteSequence(ctx, t.Sequence, t.Options, t.TargetApp)
	dur := time.Since(started)

	s.record(ctx, t, started, res, dur)

	if res.Success {
		s.succeeded.Add(1)
		if err := s.mgr.MarkExecuted(ctx, t.ID, started); err != nil {
			s.log.Warn("mark executed failed",
				logx.String("task_id", t.ID),
				logx.Err(err))
		}
		s.log.Info("task executed",
			logx.String("task_id", t.ID),
			logx.String("name", t.Name),
			logx.Duration("took", dur))
		return
	}

	s.failed.Add(1)
	if t.CanRetry() {
		attempt := t.RetryCount + 1
		at := time.Now().Add(s.cfg.RetryBackoff * time.Duration(attempt))
		if err := s.mgr.RecordFailure(ctx, t.ID, res.Message, &at); err != nil {
			s.log.Warn("record failure failed",
				logx.String("task_id", t.ID),
				logx.Err(err))
			return
		}
		s.retried.Add(1)
		s.log.Warn("task failed; retry scheduled",
			logx.String("task_id", t.ID),
			logx.String("name", t.Name),
			logx.Int("attempt", attempt),
			logx.Time("retry_at", at),
			logx.String("error", res.Message))
		return
	}

	if err := s.mgr.RecordFailure(ctx, t.ID, res.Message, nil); err != nil {
		s.log.Warn("record failure failed",
			logx.String("task_id", t.ID),
			logx.Err(err))
	}
	s.log.Error("task failed permanently",
		logx.String("task_id", t.ID),
		logx.String("name", t.Name),
		logx.Int("retries", t.RetryCount),
		logx.String("error", res.Message))
}

func (s *Service) record(ctx context.Context, t *task.Task, started time.Time, res task.ExecutionResult, dur time.Duration) {
	if s.sink == nil {
		return
	}
	rec := task.ExecutionLog{
		ID:         uuid.NewString(),
		TaskID:     t.ID,
		TaskName:   t.Name,
		ExecutedAt: started,
		Result:     res,
		Duration:   dur,
		RetryCount: t.RetryCount,
	}
	if err := s.sink.LogExecution(ctx, rec); err != nil && s.sinkWarn.Allow() {
		s.log.Warn("execution history write failed", logx.Err(err))
	}
}

func triggerOf(t *task.Task) *task.ConditionalTrigger {
	if t.Schedule == nil {
		return nil
	}
	tr := t.Schedule.Trigger
	if tr == nil || !tr.Enabled {
		return nil
	}
	return tr
}
