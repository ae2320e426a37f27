package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Witriol/mediaq/internal/queue"
)

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"

	DefaultMaxItems = 50
)

var (
	ErrNotFound    = errors.New("batch_not_found")
	ErrNotReady    = errors.New("batch_not_ready")
	ErrBatchFailed = errors.New("batch_failed")
)

type Item struct {
	URL       string `json:"url"`
	StartTime string `json:"startTime,omitempty"`
	EndTime   string `json:"endTime,omitempty"`
	Format    string `json:"format"`
	Quality   string `json:"quality,omitempty"`
}

type Request struct {
	Items           []Item `json:"items"`
	OutputContainer string `json:"outputContainer"`
}

// Status is an immutable snapshot of a batch. The driver swaps it wholesale.
type Status struct {
	ID         string     `json:"jobId"`
	Status     string     `json:"status"`
	Progress   float64    `json:"progress"`
	Error      string     `json:"error,omitempty"`
	Total      int        `json:"total"`
	Completed  int        `json:"completed"`
	CreatedAt  time.Time  `json:"createdAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

func (s Status) terminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusFailed
}

// Downloader is the slice of the worker pool the driver needs.
type Downloader interface {
	Submit(ctx context.Context, req queue.Request) (string, error)
	Wait(ctx context.Context, id string) (queue.Job, error)
	Remove(id string) error
}

type Config struct {
	Dir      string
	MaxItems int
}

type Manager struct {
	cfg    Config
	dl     Downloader
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	ctx     context.Context
	batches map[string]*batch
	wg      sync.WaitGroup
}

type batch struct {
	status  atomic.Pointer[Status]
	items   []queue.Request
	archive string
}

func NewManager(cfg Config, dl Downloader, logger *slog.Logger) *Manager {
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = DefaultMaxItems
	}
	if cfg.Dir == "" {
		cfg.Dir = filepath.Join(os.TempDir(), "mediaq-archives")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:     cfg,
		dl:      dl,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		ctx:     context.Background(),
		batches: map[string]*batch{},
	}
}

// Start binds drivers to ctx so they stop with the daemon.
func (m *Manager) Start(ctx context.Context) error {
	if err := os.MkdirAll(m.cfg.Dir, 0o755); err != nil {
		return err
	}
	m.mu.Lock()
	m.ctx = ctx
	m.mu.Unlock()
	return nil
}

// Stop waits for running drivers to return.
func (m *Manager) Stop() {
	m.wg.Wait()
}

// Submit validates the batch, records it as pending and returns its id.
// The work happens in the background.
func (m *Manager) Submit(req Request) (string, error) {
	items, err := m.validate(req)
	if err != nil {
		return "", err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	b := &batch{items: items}
	b.status.Store(&Status{
		ID:        id.String(),
		Status:    StatusPending,
		Total:     len(items),
		CreatedAt: m.now(),
	})

	m.mu.Lock()
	m.batches[id.String()] = b
	ctx := m.ctx
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		m.drive(ctx, b)
	}()
	m.logger.Info("batch queued", "id", id.String(), "items", len(items))
	return id.String(), nil
}

func (m *Manager) validate(req Request) ([]queue.Request, error) {
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: batch has no items", queue.ErrValidation)
	}
	if len(req.Items) > m.cfg.MaxItems {
		return nil, fmt.Errorf("%w: batch has %d items, limit is %d", queue.ErrValidation, len(req.Items), m.cfg.MaxItems)
	}
	out := make([]queue.Request, 0, len(req.Items))
	for i, item := range req.Items {
		r := queue.Request{
			URL:       item.URL,
			Family:    item.Format,
			Quality:   item.Quality,
			Container: req.OutputContainer,
			Pinned:    true,
		}
		if item.StartTime != "" || item.EndTime != "" {
			r.Clip = &queue.ClipRange{Start: item.StartTime, End: item.EndTime}
		}
		norm, err := r.Normalize()
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i+1, err)
		}
		out = append(out, norm)
	}
	return out, nil
}

func (m *Manager) Status(id string) (Status, error) {
	b, ok := m.get(id)
	if !ok {
		return Status{}, ErrNotFound
	}
	return *b.status.Load(), nil
}

// List returns snapshots of all known batches.
func (m *Manager) List() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Status, 0, len(m.batches))
	for _, b := range m.batches {
		out = append(out, *b.status.Load())
	}
	return out
}

// Result opens the packaged archive. Only valid once the batch completed.
func (m *Manager) Result(id string) (*os.File, string, error) {
	b, ok := m.get(id)
	if !ok {
		return nil, "", ErrNotFound
	}
	st := b.status.Load()
	switch st.Status {
	case StatusCompleted:
	case StatusFailed:
		return nil, "", fmt.Errorf("%w: %s", ErrBatchFailed, st.Error)
	default:
		return nil, "", ErrNotReady
	}
	f, err := os.Open(b.archive)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", ErrNotFound
		}
		return nil, "", err
	}
	return f, st.ID + ".zip", nil
}

// Evict forgets terminal batches finished before now-olderThan and deletes their archives.
func (m *Manager) Evict(olderThan time.Duration) int {
	cutoff := m.now().Add(-olderThan)
	var paths []string
	n := 0
	m.mu.Lock()
	for id, b := range m.batches {
		st := b.status.Load()
		if !st.terminal() || st.FinishedAt == nil || st.FinishedAt.After(cutoff) {
			continue
		}
		delete(m.batches, id)
		n++
		if b.archive != "" {
			paths = append(paths, b.archive)
		}
	}
	m.mu.Unlock()
	for _, p := range paths {
		_ = os.Remove(p)
	}
	return n
}

func (m *Manager) get(id string) (*batch, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	return b, ok
}

// drive is the only writer of b's status.
func (m *Manager) drive(ctx context.Context, b *batch) {
	id := b.status.Load().ID
	m.update(b, func(s *Status) { s.Status = StatusProcessing })

	var done []queue.Job
	release := func() {
		for _, j := range done {
			_ = m.dl.Remove(j.ID)
		}
	}

	total := len(b.items)
	for i, req := range b.items {
		job, err := m.runChild(ctx, req)
		if err != nil {
			m.logger.Warn("batch child failed", "id", id, "item", i+1, "err", err)
			release()
			m.finish(b, StatusFailed, err.Error(), "")
			return
		}
		done = append(done, job)
		completed := len(done)
		m.update(b, func(s *Status) {
			s.Completed = completed
			s.Progress = float64(completed) / float64(total) * 100
		})
	}

	path := filepath.Join(m.cfg.Dir, id+".zip")
	err := Package(path, entriesFor(done))
	release()
	if err != nil {
		m.logger.Error("batch packaging failed", "id", id, "err", err)
		m.finish(b, StatusFailed, err.Error(), "")
		return
	}
	m.finish(b, StatusCompleted, "", path)
	m.logger.Info("batch completed", "id", id, "path", path)
}

func (m *Manager) runChild(ctx context.Context, req queue.Request) (queue.Job, error) {
	jobID, err := m.dl.Submit(ctx, req)
	if err != nil {
		return queue.Job{}, err
	}
	job, err := m.dl.Wait(ctx, jobID)
	if err != nil {
		return job, err
	}
	if job.Status != queue.StatusCompleted {
		_ = m.dl.Remove(jobID)
		if job.Error == "" {
			return job, errors.New("download failed")
		}
		return job, errors.New(job.Error)
	}
	return job, nil
}

func (m *Manager) update(b *batch, mutate func(*Status)) {
	next := *b.status.Load()
	mutate(&next)
	b.status.Store(&next)
}

func (m *Manager) finish(b *batch, status, errMsg, archive string) {
	if archive != "" {
		b.archive = archive
	}
	finished := m.now()
	m.update(b, func(s *Status) {
		s.Status = status
		s.Error = errMsg
		s.FinishedAt = &finished
		if status == StatusCompleted {
			s.Progress = 100
		}
	})
}
