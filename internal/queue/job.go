package queue

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Witriol/mediaq/internal/downloader"
	"github.com/Witriol/mediaq/internal/formats"
)

var (
	ErrValidation      = errors.New("validation_error")
	ErrNotFound        = errors.New("job_not_found")
	ErrAlreadyFinished = errors.New("job_already_finished")
	ErrCanceled        = errors.New("canceled")
	ErrPoolClosed      = errors.New("pool_closed")

	ErrActionNotAllowed = errors.New("action_not_allowed")
)

type ClipRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Request is a single-item submission.
type Request struct {
	URL       string     `json:"url"`
	Family    string     `json:"format"`
	Quality   string     `json:"quality"`
	Container string     `json:"container,omitempty"`
	Clip      *ClipRange `json:"clip,omitempty"`

	// Pinned jobs are skipped by Evict; the submitter releases them with Remove.
	Pinned bool `json:"-"`
}

// Job is an immutable snapshot; the pool replaces it wholesale on every change.
type Job struct {
	ID         string     `json:"id"`
	URL        string     `json:"url"`
	Family     string     `json:"format"`
	Quality    string     `json:"quality"`
	Container  string     `json:"container"`
	Clip       *ClipRange `json:"clip,omitempty"`
	Status     string     `json:"status"`
	Progress   float64    `json:"progress"`
	Error      string     `json:"error,omitempty"`
	OutputPath string     `json:"-"`
	Filename   string     `json:"filename,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// Normalize validates r and fills defaults. Errors wrap ErrValidation.
func (r Request) Normalize() (Request, error) {
	r.URL = strings.TrimSpace(r.URL)
	if r.URL == "" {
		return r, fmt.Errorf("%w: missing url", ErrValidation)
	}
	u, err := url.Parse(r.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return r, fmt.Errorf("%w: url must be absolute http(s)", ErrValidation)
	}
	r.Family = strings.ToLower(strings.TrimSpace(r.Family))
	if r.Family == "" {
		r.Family = formats.FamilyVideo
	}
	r.Container = strings.ToLower(strings.TrimSpace(r.Container))
	switch r.Family {
	case formats.FamilyVideo:
		if r.Container == "" {
			r.Container = downloader.DefaultVideoContainer
		}
		if !downloader.VideoContainers[r.Container] {
			return r, fmt.Errorf("%w: unsupported video container %q", ErrValidation, r.Container)
		}
	case formats.FamilyAudio:
		if r.Container == "" {
			r.Container = downloader.DefaultAudioContainer
		}
		if !downloader.AudioContainers[r.Container] {
			return r, fmt.Errorf("%w: unsupported audio container %q", ErrValidation, r.Container)
		}
	default:
		return r, fmt.Errorf("%w: format must be audio or video", ErrValidation)
	}
	r.Quality = strings.TrimSpace(r.Quality)
	if strings.ContainsAny(r.Quality, " \t\n") {
		return r, fmt.Errorf("%w: invalid quality", ErrValidation)
	}
	clip, err := normalizeClip(r.Clip)
	if err != nil {
		return r, err
	}
	r.Clip = clip
	return r, nil
}

func normalizeClip(c *ClipRange) (*ClipRange, error) {
	if c == nil {
		return nil, nil
	}
	start := strings.TrimSpace(c.Start)
	end := strings.TrimSpace(c.End)
	if start == "" && end == "" {
		return nil, nil
	}
	if start == "" || end == "" {
		return nil, fmt.Errorf("%w: clip range needs both start and end", ErrValidation)
	}
	s, err := ParseTimestamp(start)
	if err != nil {
		return nil, fmt.Errorf("%w: clip start: %v", ErrValidation, err)
	}
	e, err := ParseTimestamp(end)
	if err != nil {
		return nil, fmt.Errorf("%w: clip end: %v", ErrValidation, err)
	}
	if e <= s {
		return nil, fmt.Errorf("%w: clip end must be after start", ErrValidation)
	}
	return &ClipRange{Start: start, End: end}, nil
}

// ParseTimestamp accepts seconds ("90.5"), "MM:SS" or "HH:MM:SS".
func ParseTimestamp(v string) (float64, error) {
	parts := strings.Split(v, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("invalid timestamp %q", v)
	}
	total := 0.0
	for i, p := range parts {
		n, err := strconv.ParseFloat(p, 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid timestamp %q", v)
		}
		if i > 0 && n >= 60 {
			return 0, fmt.Errorf("invalid timestamp %q", v)
		}
		total = total*60 + n
	}
	return total, nil
}
