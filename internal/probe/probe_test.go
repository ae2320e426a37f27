package probe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kkdai/youtube/v2"
)

func TestPageProberReadsOpenGraph(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head>
<title>Fallback title</title>
<meta property="og:title" content=" Launch video ">
<meta property="og:image" content="https://img.example/cover.jpg">
<meta property="og:video:duration" content="93">
</head><body></body></html>`))
	}))
	defer srv.Close()

	meta, err := NewPageProber().Probe(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if meta.Title != "Launch video" || meta.Thumbnail != "https://img.example/cover.jpg" || meta.Duration != 93 {
		t.Fatalf("unexpected metadata %+v", meta)
	}
	if len(meta.Candidates) != 0 {
		t.Fatalf("page prober must not report candidates")
	}
}

func TestPageProberTitleFallbackAndErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/plain":
			_, _ = w.Write([]byte(`<html><head><title>Plain page</title></head></html>`))
		case "/empty":
			_, _ = w.Write([]byte(`<html><body>nothing</body></html>`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p := NewPageProber()
	meta, err := p.Probe(context.Background(), srv.URL+"/plain")
	if err != nil || meta.Title != "Plain page" {
		t.Fatalf("expected title fallback, got %+v err=%v", meta, err)
	}
	if _, err := p.Probe(context.Background(), srv.URL+"/empty"); err == nil {
		t.Fatalf("expected error for page without metadata")
	}
	if _, err := p.Probe(context.Background(), srv.URL+"/missing"); err == nil {
		t.Fatalf("expected error for 404")
	}
}

type fakeGetter struct {
	video *youtube.Video
	err   error
	ids   []string
}

func (f *fakeGetter) GetVideoContext(ctx context.Context, id string) (*youtube.Video, error) {
	f.ids = append(f.ids, id)
	return f.video, f.err
}

func TestYouTubeProberMapsFormats(t *testing.T) {
	getter := &fakeGetter{video: &youtube.Video{
		Title:      "Talk",
		Duration:   90 * time.Second,
		Thumbnails: youtube.Thumbnails{{URL: "https://i.ytimg.com/small.jpg"}, {URL: "https://i.ytimg.com/large.jpg"}},
		Formats: youtube.FormatList{
			{ItagNo: 18, MimeType: `video/mp4; codecs="avc1.42001E, mp4a.40.2"`, Height: 360, Bitrate: 500000, AudioChannels: 2},
			{ItagNo: 137, MimeType: `video/mp4; codecs="avc1.640028"`, Height: 1080, Bitrate: 4000000, ContentLength: 1 << 20},
			{ItagNo: 251, MimeType: `audio/webm; codecs="opus"`, Bitrate: 160000, AudioChannels: 2},
			{ItagNo: 0, MimeType: "not a mime"},
		},
	}}
	p := &YouTubeProber{client: getter}

	meta, err := p.Probe(context.Background(), "https://www.youtube.com/watch?v=abc")
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if meta.Title != "Talk" || meta.Duration != 90 || meta.Thumbnail != "https://i.ytimg.com/large.jpg" {
		t.Fatalf("unexpected metadata %+v", meta)
	}
	if len(meta.Candidates) != 3 {
		t.Fatalf("expected 3 candidates, got %+v", meta.Candidates)
	}
	muxed, videoOnly, audio := meta.Candidates[0], meta.Candidates[1], meta.Candidates[2]
	if muxed.ID != "18" || muxed.VCodec != "avc1.42001E" || muxed.ACodec != "mp4a.40.2" || muxed.Container != "mp4" || muxed.Bitrate != 500 {
		t.Fatalf("unexpected muxed candidate %+v", muxed)
	}
	if videoOnly.ACodec != "none" || videoOnly.Height != 1080 || videoOnly.Filesize != 1<<20 {
		t.Fatalf("unexpected video-only candidate %+v", videoOnly)
	}
	if audio.VCodec != "none" || audio.ACodec != "opus" || audio.Container != "webm" {
		t.Fatalf("unexpected audio candidate %+v", audio)
	}
}

func TestYouTubeProberSkipsOtherHosts(t *testing.T) {
	getter := &fakeGetter{err: errors.New("must not be called")}
	p := &YouTubeProber{client: getter}
	if _, err := p.Probe(context.Background(), "https://vimeo.com/1"); !errors.Is(err, ErrUnsupportedSource) {
		t.Fatalf("expected ErrUnsupportedSource, got %v", err)
	}
	if len(getter.ids) != 0 {
		t.Fatalf("client called for non-YouTube url")
	}
}
