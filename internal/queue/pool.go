package queue

import (
	"context"
	"log/slog"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Witriol/mediaq/internal/downloader"
	"github.com/Witriol/mediaq/internal/events"
	"github.com/Witriol/mediaq/internal/resolver"
)

// Recorder persists job transitions. *Store implements it.
type Recorder interface {
	Record(ctx context.Context, j Job) error
	AddEvent(ctx context.Context, jobID, level, msg string) error
}

type Config struct {
	Workers     int
	DownloadDir string
	FFmpegPath  string
	Caps        resolver.HostCaps
}

// Pool runs download jobs on a fixed number of workers, strictly in
// submission order.
type Pool struct {
	cfg      Config
	executor downloader.Executor
	events   events.Publisher
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	cond    *sync.Cond
	pending []string
	entries map[string]*entry
	closed  bool
	wg      sync.WaitGroup
}

type entry struct {
	job  atomic.Pointer[Job]
	done chan struct{}

	// guarded by Pool.mu
	claimed  bool
	canceled bool
	pinned   bool
	cancel   context.CancelFunc
}

type noopPublisher struct{}

func (noopPublisher) Publish(events.Event) {}

func NewPool(cfg Config, executor downloader.Executor, pub events.Publisher, rec Recorder, logger *slog.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.DownloadDir == "" {
		cfg.DownloadDir = os.TempDir()
	}
	if pub == nil {
		pub = noopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		cfg:      cfg,
		executor: executor,
		events:   pub,
		recorder: rec,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		entries:  map[string]*entry{},
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Start launches the workers. They stop when ctx is done or Stop is called.
func (p *Pool) Start(ctx context.Context) error {
	if err := os.MkdirAll(p.cfg.DownloadDir, 0o755); err != nil {
		return err
	}
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	go func() {
		<-ctx.Done()
		p.shutdown()
	}()
	p.logger.Info("pool started", "workers", p.cfg.Workers, "dir", p.cfg.DownloadDir)
	return nil
}

// Stop refuses new work and waits for running workers to return.
func (p *Pool) Stop() {
	p.shutdown()
	p.wg.Wait()
}

func (p *Pool) shutdown() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cond.Broadcast()
}

func (p *Pool) Workers() int {
	return p.cfg.Workers
}

// Submit validates req and enqueues it. It never waits for a free worker.
func (p *Pool) Submit(ctx context.Context, req Request) (string, error) {
	req, err := req.Normalize()
	if err != nil {
		return "", err
	}
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return "", ErrPoolClosed
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	job := &Job{
		ID:        id.String(),
		URL:       req.URL,
		Family:    req.Family,
		Quality:   req.Quality,
		Container: req.Container,
		Clip:      req.Clip,
		Status:    StatusPending,
		CreatedAt: p.now(),
	}
	e := &entry{done: make(chan struct{}), pinned: req.Pinned}
	e.job.Store(job)
	p.record(ctx, *job, "info", "queued")

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		finished := p.now()
		job.Status = StatusFailed
		job.Error = ErrPoolClosed.Error()
		job.FinishedAt = &finished
		p.record(context.WithoutCancel(ctx), *job, "error", job.Error)
		return "", ErrPoolClosed
	}
	p.entries[job.ID] = e
	p.pending = append(p.pending, job.ID)
	p.mu.Unlock()
	p.cond.Signal()
	p.logger.Info("job queued", "id", job.ID, "url", job.URL, "format", job.Family, "quality", job.Quality)
	return job.ID, nil
}

func (p *Pool) Get(id string) (Job, error) {
	p.mu.Lock()
	e, ok := p.entries[id]
	p.mu.Unlock()
	if !ok {
		return Job{}, ErrNotFound
	}
	return *e.job.Load(), nil
}

// List returns snapshots of all tracked jobs, oldest first.
func (p *Pool) List() []Job {
	p.mu.Lock()
	out := make([]Job, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, *e.job.Load())
	}
	p.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Wait blocks until the job is terminal or ctx is done.
func (p *Pool) Wait(ctx context.Context, id string) (Job, error) {
	p.mu.Lock()
	e, ok := p.entries[id]
	p.mu.Unlock()
	if !ok {
		return Job{}, ErrNotFound
	}
	select {
	case <-e.done:
		return *e.job.Load(), nil
	case <-ctx.Done():
		return *e.job.Load(), ctx.Err()
	}
}

// Cancel stops a pending or running job. The job ends failed with "canceled".
func (p *Pool) Cancel(ctx context.Context, id string) error {
	p.mu.Lock()
	e, ok := p.entries[id]
	if !ok {
		p.mu.Unlock()
		return ErrNotFound
	}
	if IsTerminal(e.job.Load().Status) || e.canceled {
		p.mu.Unlock()
		return ErrAlreadyFinished
	}
	e.canceled = true
	if e.claimed {
		if e.cancel != nil {
			e.cancel()
		}
		p.mu.Unlock()
		p.logger.Info("job cancel requested", "id", id)
		return nil
	}
	for i, pid := range p.pending {
		if pid == id {
			p.pending = append(p.pending[:i], p.pending[i+1:]...)
			break
		}
	}
	p.mu.Unlock()

	// Not claimed, so no worker will ever write this entry.
	p.finish(ctx, e, StatusFailed, ErrCanceled.Error(), "")
	p.logger.Info("job canceled", "id", id, "state", StatusPending)
	return nil
}

// Remove forgets a terminal job and deletes its output.
func (p *Pool) Remove(id string) error {
	p.mu.Lock()
	e, ok := p.entries[id]
	if !ok {
		p.mu.Unlock()
		return ErrNotFound
	}
	j := e.job.Load()
	if !IsTerminal(j.Status) {
		p.mu.Unlock()
		return ErrActionNotAllowed
	}
	delete(p.entries, id)
	p.mu.Unlock()
	removeArtifacts(p.cfg.DownloadDir, id)
	return nil
}

// Evict drops terminal, unpinned jobs that finished before now-olderThan and removes their files.
func (p *Pool) Evict(olderThan time.Duration) int {
	cutoff := p.now().Add(-olderThan)
	var ids []string
	p.mu.Lock()
	for id, e := range p.entries {
		j := e.job.Load()
		if e.pinned || !IsTerminal(j.Status) || j.FinishedAt == nil || j.FinishedAt.After(cutoff) {
			continue
		}
		delete(p.entries, id)
		ids = append(ids, id)
	}
	p.mu.Unlock()
	for _, id := range ids {
		removeArtifacts(p.cfg.DownloadDir, id)
	}
	if len(ids) > 0 {
		p.logger.Debug("jobs evicted", "count", len(ids))
	}
	return len(ids)
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for len(p.pending) == 0 && !p.closed {
			p.cond.Wait()
		}
		if p.closed {
			p.mu.Unlock()
			return
		}
		id := p.pending[0]
		p.pending = p.pending[1:]
		e := p.entries[id]
		jobCtx, cancel := context.WithCancel(ctx)
		e.claimed = true
		e.cancel = cancel
		p.mu.Unlock()

		p.run(jobCtx, e)
		cancel()
	}
}

func (p *Pool) run(ctx context.Context, e *entry) {
	started := p.now()
	job, _ := p.update(e, func(j *Job) {
		j.Status = StatusRunning
		j.StartedAt = &started
	})
	p.events.Publish(events.Event{Type: events.TypeJobStart, JobID: job.ID, URL: job.URL})
	p.record(ctx, job, "info", "started")

	inv := resolver.Select(job.URL, p.cfg.Caps)
	spec := downloader.Spec{
		URL:        job.URL,
		Family:     job.Family,
		Quality:    job.Quality,
		Container:  job.Container,
		OutputPath: outputPath(p.cfg.DownloadDir, job.ID, job.Container),
	}
	if job.Clip != nil {
		spec.ClipStart = job.Clip.Start
		spec.ClipEnd = job.Clip.End
	}
	cmd := downloader.BuildCommand(inv, spec, p.cfg.FFmpegPath)
	p.logger.Debug("job spawn", "id", job.ID, "platform", inv.Platform.String(), "cmd", cmd.String())

	proc, err := p.executor.Start(ctx, cmd)
	if err != nil {
		p.fail(ctx, e, err)
		return
	}
	scanErr := downloader.ScanLines(proc.Stdout(), func(line string) {
		pct, ok := downloader.ParseProgress(line)
		if !ok {
			return
		}
		if cur := e.job.Load(); pct <= cur.Progress {
			return
		}
		next, ok := p.update(e, func(j *Job) { j.Progress = pct })
		if ok {
			p.events.Publish(events.Event{Type: events.TypeJobProgress, JobID: next.ID, URL: next.URL, Percent: next.Progress})
		}
	})
	waitErr := proc.Wait()
	if waitErr == nil && scanErr != nil {
		waitErr = scanErr
	}
	if waitErr != nil {
		p.fail(ctx, e, waitErr)
		return
	}
	out := locateOutput(p.cfg.DownloadDir, job.ID, spec.OutputPath)
	p.finish(ctx, e, StatusCompleted, "", out)
	p.logger.Info("job completed", "id", job.ID, "path", out)
}

func (p *Pool) fail(ctx context.Context, e *entry, err error) {
	p.mu.Lock()
	canceled := e.canceled
	p.mu.Unlock()
	id := e.job.Load().ID
	if canceled {
		removeArtifacts(p.cfg.DownloadDir, id)
		p.finish(ctx, e, StatusFailed, ErrCanceled.Error(), "")
		p.logger.Info("job canceled", "id", id, "state", StatusRunning)
		return
	}
	p.finish(ctx, e, StatusFailed, err.Error(), "")
	p.logger.Warn("job failed", "id", id, "err", err)
}

// finish writes the terminal snapshot, publishes its event and releases waiters.
func (p *Pool) finish(ctx context.Context, e *entry, status, errMsg, output string) {
	finished := p.now()
	job, ok := p.update(e, func(j *Job) {
		j.Status = status
		j.Error = errMsg
		j.FinishedAt = &finished
		if status == StatusCompleted {
			j.Progress = 100
			j.OutputPath = output
			j.Filename = DownloadName(*j)
		}
	})
	if !ok {
		return
	}
	if status == StatusCompleted {
		p.events.Publish(events.Event{Type: events.TypeJobComplete, JobID: job.ID, URL: job.URL, Percent: 100})
		p.record(context.WithoutCancel(ctx), job, "info", "completed")
	} else {
		p.events.Publish(events.Event{Type: events.TypeJobError, JobID: job.ID, URL: job.URL, Error: errMsg})
		p.record(context.WithoutCancel(ctx), job, "error", errMsg)
	}
	close(e.done)
}

// update replaces the job snapshot when the status change is allowed.
// Only the owning worker (or Cancel for unclaimed jobs) calls it.
func (p *Pool) update(e *entry, mutate func(*Job)) (Job, bool) {
	cur := e.job.Load()
	next := *cur
	mutate(&next)
	if !canTransition(cur.Status, next.Status) {
		return *cur, false
	}
	e.job.Store(&next)
	return next, true
}

func (p *Pool) record(ctx context.Context, j Job, level, msg string) {
	if p.recorder == nil {
		return
	}
	if err := p.recorder.Record(ctx, j); err != nil {
		p.logger.Warn("history record failed", "id", j.ID, "err", err)
		return
	}
	if err := p.recorder.AddEvent(ctx, j.ID, level, msg); err != nil {
		p.logger.Warn("history event failed", "id", j.ID, "err", err)
	}
}
