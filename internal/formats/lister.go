package formats

import (
	"context"
	"errors"
	"log/slog"
)

const (
	FamilyAudio = "audio"
	FamilyVideo = "video"
)

var (
	ErrInvalidFamily = errors.New("invalid_format_family")
	ErrNoMetadata    = errors.New("no_metadata")
)

// Metadata is what the extraction tool reports about a single source URL.
type Metadata struct {
	Title      string
	Thumbnail  string
	Duration   float64
	Candidates []Candidate
}

// Prober queries the extraction tool for metadata.
type Prober interface {
	Probe(ctx context.Context, rawURL string) (*Metadata, error)
}

// Chain tries each prober in order and returns the first result with format
// candidates. A result without candidates only contributes title, thumbnail
// and duration.
type Chain []Prober

func (c Chain) Probe(ctx context.Context, rawURL string) (*Metadata, error) {
	var partial *Metadata
	var errs []error
	for _, p := range c {
		meta, err := p.Probe(ctx, rawURL)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if len(meta.Candidates) > 0 {
			if partial != nil {
				meta.Title = firstNonEmpty(meta.Title, partial.Title)
				meta.Thumbnail = firstNonEmpty(meta.Thumbnail, partial.Thumbnail)
				if meta.Duration == 0 {
					meta.Duration = partial.Duration
				}
			}
			return meta, nil
		}
		if partial == nil {
			partial = meta
		}
	}
	if partial != nil {
		return partial, nil
	}
	if len(errs) == 0 {
		return nil, ErrNoMetadata
	}
	return nil, errors.Join(errs...)
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// Cache stores listings that came from a successful probe.
type Cache interface {
	Get(key string) (*Listing, bool)
	Put(key string, l *Listing) error
}

type Listing struct {
	Qualities []QualityOption `json:"qualities"`
	Thumbnail string          `json:"thumbnail"`
	Title     string          `json:"title"`
	Duration  float64         `json:"duration"`
	Fallback  bool            `json:"fallback,omitempty"`
}

type Lister struct {
	Prober Prober
	Cache  Cache
	Logger *slog.Logger
}

// Qualities never fails because of the extraction tool; a failed probe
// degrades to the fallback options.
func (l *Lister) Qualities(ctx context.Context, rawURL, family string) (*Listing, error) {
	if family == "" {
		family = FamilyVideo
	}
	if family != FamilyAudio && family != FamilyVideo {
		return nil, ErrInvalidFamily
	}
	key := family + "|" + rawURL
	if l.Cache != nil {
		if cached, ok := l.Cache.Get(key); ok {
			return cached, nil
		}
	}
	out := &Listing{}
	meta, err := l.Prober.Probe(ctx, rawURL)
	probed := err == nil
	if err != nil {
		l.logger().Warn("metadata probe failed", "url", rawURL, "err", err)
		meta = &Metadata{}
	}
	out.Title = meta.Title
	out.Thumbnail = meta.Thumbnail
	out.Duration = meta.Duration

	if family == FamilyAudio {
		out.Qualities = AudioOptions()
	} else {
		out.Qualities = Resolve(meta.Candidates)
		if len(out.Qualities) == 0 {
			out.Qualities = Fallback()
			out.Fallback = true
		}
	}
	if probed && !out.Fallback && l.Cache != nil {
		if err := l.Cache.Put(key, out); err != nil {
			l.logger().Warn("listing cache write failed", "url", rawURL, "err", err)
		}
	}
	return out, nil
}

func (l *Lister) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}
