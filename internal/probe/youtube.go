package probe

import (
	"context"
	"errors"
	"mime"
	"strconv"
	"strings"

	"github.com/kkdai/youtube/v2"

	"github.com/Witriol/mediaq/internal/formats"
	"github.com/Witriol/mediaq/internal/resolver"
)

var ErrUnsupportedSource = errors.New("unsupported_source")

type videoGetter interface {
	GetVideoContext(ctx context.Context, id string) (*youtube.Video, error)
}

// YouTubeProber reads the stream manifest directly from YouTube. It is used
// when the extraction tool cannot produce metadata.
type YouTubeProber struct {
	client videoGetter
}

func NewYouTubeProber() *YouTubeProber {
	return &YouTubeProber{client: &youtube.Client{}}
}

func (p *YouTubeProber) Probe(ctx context.Context, rawURL string) (*formats.Metadata, error) {
	if resolver.Classify(rawURL) != resolver.PlatformYouTube {
		return nil, ErrUnsupportedSource
	}
	video, err := p.client.GetVideoContext(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	meta := &formats.Metadata{
		Title:      video.Title,
		Duration:   video.Duration.Seconds(),
		Candidates: candidatesFrom(video.Formats),
	}
	if n := len(video.Thumbnails); n > 0 {
		meta.Thumbnail = video.Thumbnails[n-1].URL
	}
	return meta, nil
}

func candidatesFrom(list youtube.FormatList) []formats.Candidate {
	out := make([]formats.Candidate, 0, len(list))
	for _, f := range list {
		mediaType, params, err := mime.ParseMediaType(f.MimeType)
		if err != nil {
			continue
		}
		kind, container, _ := strings.Cut(mediaType, "/")
		var codecs []string
		for _, c := range strings.Split(params["codecs"], ",") {
			if c = strings.TrimSpace(c); c != "" {
				codecs = append(codecs, c)
			}
		}
		c := formats.Candidate{
			ID:        itag(f.ItagNo),
			Height:    f.Height,
			Container: container,
			VCodec:    "none",
			ACodec:    "none",
			Bitrate:   float64(f.Bitrate) / 1000,
			Filesize:  f.ContentLength,
		}
		switch kind {
		case "video":
			if len(codecs) > 0 {
				c.VCodec = codecs[0]
			}
			if len(codecs) > 1 {
				c.ACodec = codecs[1]
			} else if f.AudioChannels > 0 {
				c.ACodec = "unknown"
			}
		case "audio":
			if len(codecs) > 0 {
				c.ACodec = codecs[0]
			}
			c.Height = 0
		default:
			continue
		}
		out = append(out, c)
	}
	return out
}

func itag(n int) string {
	if n <= 0 {
		return ""
	}
	return strconv.Itoa(n)
}
