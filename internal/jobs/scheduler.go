package jobs

import (
	"context"
	"log"
	"sync"
	"time"
)

// Job is a maintenance task that runs on its own cadence
type Job interface {
	Name() string
	Run(ctx context.Context) error
	NextRun() time.Time
}

// Scheduler runs registered maintenance jobs on their own timers
type Scheduler struct {
	jobs    []Job
	timers  map[string]*time.Timer
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewScheduler creates a new maintenance job scheduler
func NewScheduler() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		timers: make(map[string]*time.Timer),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Register adds a job to the scheduler
func (s *Scheduler) Register(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs = append(s.jobs, job)
	log.Printf("✅ [JOBS] Registered job: %s", job.Name())
}

// Start begins running all registered jobs
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	log.Printf("🚀 [JOBS] Starting %d maintenance jobs", len(s.jobs))

	for _, job := range s.jobs {
		s.schedule(job)
	}
}

func (s *Scheduler) schedule(job Job) {
	next := job.NextRun()
	wait := time.Until(next)

	log.Printf("⏰ [JOBS] Job '%s' next run at %s (in %v)",
		job.Name(), next.Format(time.RFC3339), wait.Round(time.Second))

	s.timers[job.Name()] = time.AfterFunc(wait, func() {
		s.run(job)
	})
}

func (s *Scheduler) run(job Job) {
	s.wg.Add(1)
	defer s.wg.Done()

	start := time.Now()
	if err := job.Run(s.ctx); err != nil {
		log.Printf("❌ [JOBS] Job '%s' failed: %v", job.Name(), err)
	} else {
		log.Printf("✅ [JOBS] Job '%s' completed in %v", job.Name(), time.Since(start).Round(time.Millisecond))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.schedule(job)
	}
}

// RunNow runs the named job immediately, outside its schedule
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	var found Job
	for _, job := range s.jobs {
		if job.Name() == name {
			found = job
			break
		}
	}
	s.mu.Unlock()

	if found == nil {
		log.Printf("⚠️  [JOBS] Job '%s' not found", name)
		return nil
	}
	return found.Run(s.ctx)
}

// Stop gracefully stops all jobs and waits for running ones
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	for name, timer := range s.timers {
		timer.Stop()
		log.Printf("⏹️  [JOBS] Stopped job: %s", name)
	}
	s.timers = make(map[string]*time.Timer)
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	log.Println("✅ [JOBS] Scheduler stopped")
}
