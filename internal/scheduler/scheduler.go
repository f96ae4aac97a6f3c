package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// JobFunc is the body of a scheduled job. The context is cancelled on Stop.
type JobFunc func(ctx context.Context) error

// Scheduler runs named jobs on cron schedules in UTC.
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	jobs    map[string]JobFunc
	started bool
}

func New() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron:   cron.New(cron.WithLocation(time.UTC)),
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]JobFunc),
	}
}

// Add registers fn under name with a standard five-field cron spec.
func (s *Scheduler) Add(name, spec string, fn JobFunc) error {
	if fn == nil {
		return fmt.Errorf("job %q: nil function", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[name]; dup {
		return fmt.Errorf("job %q already registered", name)
	}
	_, err := s.cron.AddFunc(spec, func() {
		log.Printf("🕘 Triggered job %s", name)
		if err := fn(s.ctx); err != nil {
			log.Printf("❌ Job %s failed: %v", name, err)
		}
	})
	if err != nil {
		return fmt.Errorf("job %q: invalid schedule %q: %w", name, spec, err)
	}
	s.jobs[name] = fn
	log.Printf("📅 Job %s scheduled at %q UTC", name, spec)
	return nil
}

// RunNow executes a registered job synchronously, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	fn, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %q not registered", name)
	}
	return fn(ctx)
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	if len(s.jobs) == 0 {
		log.Println("⚠️ No jobs registered, scheduler stays idle")
		return
	}
	s.cron.Start()
	s.started = true
	log.Printf("📅 Scheduler started with %d job(s)", len(s.jobs))
}

// Stop waits for running jobs to finish and cancels their context.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	started := s.started
	s.started = false
	s.mu.Unlock()
	if started {
		<-s.cron.Stop().Done()
	}
	s.cancel()
	log.Println("📅 Scheduler stopped")
}

func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}
