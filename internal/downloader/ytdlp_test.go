package downloader

import (
	"context"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/Witriol/mediaq/internal/formats"
	"github.com/Witriol/mediaq/internal/resolver"
)

func TestParseProgress(t *testing.T) {
	tests := []struct {
		line   string
		want   float64
		wantOK bool
	}{
		{line: "[download]  42.7% of ~ 10.00MiB at 1.20MiB/s ETA 00:07", want: 42.7, wantOK: true},
		{line: "[download] 100% of 3.00MiB in 00:01", want: 100, wantOK: true},
		{line: "[download]   0.0% of 3.00MiB", want: 0, wantOK: true},
		{line: "  [download]   5% ", want: 5, wantOK: true},
		{line: "[download] Destination: /data/x.mp4", wantOK: false},
		{line: "[youtube] abc: Downloading webpage", wantOK: false},
		{line: "[Merger] Merging formats into \"x.mp4\"", wantOK: false},
		{line: "50%", wantOK: false},
		{line: "", wantOK: false},
	}
	for _, tt := range tests {
		got, ok := ParseProgress(tt.line)
		if ok != tt.wantOK || got != tt.want {
			t.Fatalf("ParseProgress(%q)=(%v,%v), want (%v,%v)", tt.line, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestScanLines(t *testing.T) {
	var lines []string
	err := ScanLines(strings.NewReader("a\nb\r\n\nc"), func(l string) { lines = append(lines, l) })
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if !reflect.DeepEqual(lines, []string{"a", "b", "", "c"}) {
		t.Fatalf("lines = %q", lines)
	}
}

func TestScanLinesSkipsOverlongLine(t *testing.T) {
	input := "[download]  10.0%\n" + strings.Repeat("x", maxLineBytes+10) + "\n[download] 100.0%\n"
	var lines []string
	if err := ScanLines(strings.NewReader(input), func(l string) { lines = append(lines, l) }); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if !reflect.DeepEqual(lines, []string{"[download]  10.0%", "[download] 100.0%"}) {
		t.Fatalf("lines = %q", lines)
	}
}

func TestListedSelectionsBuildMatchingFormat(t *testing.T) {
	opts := formats.Resolve([]formats.Candidate{
		{ID: "18", Height: 360, Container: "mp4", VCodec: "avc1.42001E", ACodec: "mp4a.40.2"},
		{ID: "137", Height: 1080, Container: "mp4", VCodec: "avc1.640028", ACodec: "none"},
	})
	if len(opts) != 2 {
		t.Fatalf("options = %+v", opts)
	}
	want := map[int]string{360: "18", 1080: "137+bestaudio"}
	for _, opt := range opts {
		cmd := BuildCommand(resolver.Invocation{Path: "yt-dlp"}, Spec{
			URL:        "https://youtu.be/a",
			Family:     formats.FamilyVideo,
			Quality:    opt.Selection,
			OutputPath: "/data/job.mp4",
		}, "")
		joined := strings.Join(cmd.Args, " ")
		if !strings.Contains(joined, "-f "+want[opt.Height]+" ") {
			t.Fatalf("value %q for %dp built %q", opt.Selection, opt.Height, joined)
		}
	}
}

func TestBuildCommandVideoWithClip(t *testing.T) {
	inv := resolver.Invocation{Path: "/usr/bin/yt-dlp", Args: []string{"--force-ipv4"}}
	cmd := BuildCommand(inv, Spec{
		URL:        "https://youtu.be/a",
		Family:     formats.FamilyVideo,
		Quality:    "720p",
		ClipStart:  "10",
		ClipEnd:    "20",
		OutputPath: "/data/job.mp4",
	}, "/usr/bin/ffmpeg")
	want := []string{
		"--force-ipv4",
		"--newline", "--no-playlist", "--no-warnings", "--progress", "-o", "/data/job.%(ext)s",
		"-f", "bestvideo[height<=720]+bestaudio/best[height<=720]", "--merge-output-format", "mp4",
		"--download-sections", "*10-20", "--force-keyframes-at-cuts",
		"--ffmpeg-location", "/usr/bin/ffmpeg",
		"--", "https://youtu.be/a",
	}
	if cmd.Path != "/usr/bin/yt-dlp" {
		t.Fatalf("path = %q", cmd.Path)
	}
	if !reflect.DeepEqual(cmd.Args, want) {
		t.Fatalf("args = %v\nwant %v", cmd.Args, want)
	}
	if len(inv.Args) != 1 {
		t.Fatalf("invocation args must not be mutated")
	}
}

func TestBuildCommandAudio(t *testing.T) {
	cmd := BuildCommand(resolver.Invocation{Path: "yt-dlp"}, Spec{
		URL:        "https://example.com/a",
		Family:     formats.FamilyAudio,
		Quality:    "192",
		Container:  "m4a",
		OutputPath: "/data/job.m4a",
	}, "")
	joined := strings.Join(cmd.Args, " ")
	for _, want := range []string{"-x --audio-format m4a", "--audio-quality 192K", "-f bestaudio/best"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected %q in %q", want, joined)
		}
	}
	if strings.Contains(joined, "--download-sections") || strings.Contains(joined, "--force-keyframes-at-cuts") {
		t.Fatalf("no clip directives expected: %q", joined)
	}
}

func TestVideoSelection(t *testing.T) {
	tests := map[string]string{
		"":              "bestvideo+bestaudio/best",
		"best":          "bestvideo+bestaudio/best",
		"1080p":         "bestvideo[height<=1080]+bestaudio/best[height<=1080]",
		"18":            "18",
		"480p":          "bestvideo[height<=480]+bestaudio/best[height<=480]",
		"137+bestaudio": "137+bestaudio",
	}
	for in, want := range tests {
		if got := videoSelection(in); got != want {
			t.Fatalf("videoSelection(%q)=%q, want %q", in, got, want)
		}
	}
}

func TestParseMetadata(t *testing.T) {
	body := `{"title":"clip","thumbnail":"https://i/1.jpg","duration":61.5,"formats":[
		{"format_id":"sb0","ext":"mhtml","vcodec":"none","acodec":"none"},
		{"format_id":"18","height":360,"ext":"mp4","vcodec":"avc1.42001E","acodec":"mp4a.40.2","tbr":500.5,"filesize_approx":1048576},
		{"format_id":"137","height":1080,"ext":"mp4","vcodec":"avc1.640028","acodec":"none","tbr":4000,"filesize":2097152}
	]}`
	meta, err := ParseMetadata([]byte(body))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if meta.Title != "clip" || meta.Duration != 61.5 || len(meta.Candidates) != 3 {
		t.Fatalf("unexpected metadata %+v", meta)
	}
	if meta.Candidates[1].Filesize != 1048576 || meta.Candidates[2].Filesize != 2097152 {
		t.Fatalf("filesize fallback broken: %+v", meta.Candidates)
	}
	opts := formats.Resolve(meta.Candidates)
	if len(opts) != 2 || opts[1].Selection != "137+bestaudio" {
		t.Fatalf("unexpected options %+v", opts)
	}
	if _, err := ParseMetadata([]byte(`{}`)); err == nil {
		t.Fatalf("expected error for empty document")
	}
}

type fakeProcess struct {
	out string
	err error
}

func (p *fakeProcess) Stdout() io.Reader { return strings.NewReader(p.out) }
func (p *fakeProcess) Wait() error       { return p.err }

type recordingExecutor struct {
	last Command
	proc *fakeProcess
}

func (e *recordingExecutor) Start(ctx context.Context, cmd Command) (Process, error) {
	e.last = cmd
	return e.proc, nil
}

func TestToolProbe(t *testing.T) {
	exec := &recordingExecutor{proc: &fakeProcess{out: `{"title":"t","formats":[]}`}}
	tool := &Tool{Caps: resolver.HostCaps{Binary: "/bin/yt-dlp"}, Executor: exec}
	meta, err := tool.Probe(context.Background(), "https://youtu.be/x")
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if meta.Title != "t" {
		t.Fatalf("title = %q", meta.Title)
	}
	joined := strings.Join(exec.last.Args, " ")
	if !strings.Contains(joined, "-J") || !strings.Contains(joined, resolver.ForceIPv4Flag) {
		t.Fatalf("unexpected args %q", joined)
	}

	exec.proc = &fakeProcess{err: &ToolError{ExitCode: 1, Diagnostic: "ERROR: unsupported URL"}}
	_, err = tool.Probe(context.Background(), "https://youtu.be/x")
	var toolErr *ToolError
	if !errors.As(err, &toolErr) || toolErr.ExitCode != 1 {
		t.Fatalf("expected tool error, got %v", err)
	}
}

type pipeProcess struct {
	stdout io.Reader
	done   chan struct{}
}

func (p *pipeProcess) Stdout() io.Reader { return p.stdout }

func (p *pipeProcess) Wait() error {
	<-p.done
	return nil
}

type pipeExecutor struct {
	size int
}

// Start writes size bytes to a pipe; the process only exits once all of it is read.
func (e *pipeExecutor) Start(ctx context.Context, cmd Command) (Process, error) {
	pr, pw := io.Pipe()
	proc := &pipeProcess{stdout: pr, done: make(chan struct{})}
	go func() {
		defer close(proc.done)
		chunk := strings.Repeat("{", 1024*1024)
		for written := 0; written < e.size; written += len(chunk) {
			if _, err := io.WriteString(pw, chunk); err != nil {
				return
			}
		}
		_ = pw.Close()
	}()
	return proc, nil
}

func TestToolProbeDrainsOversizedOutput(t *testing.T) {
	tool := &Tool{Caps: resolver.HostCaps{Binary: "yt-dlp"}, Executor: &pipeExecutor{size: maxMetadataBytes + 2*1024*1024}}
	errc := make(chan error, 1)
	go func() {
		_, err := tool.Probe(context.Background(), "https://example.com/v")
		errc <- err
	}()
	select {
	case err := <-errc:
		if err == nil || !strings.Contains(err.Error(), "metadata exceeds") {
			t.Fatalf("expected size error, got %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("probe blocked on unread output")
	}
}

func TestToolErrorMessage(t *testing.T) {
	if got := (&ToolError{ExitCode: 2, Diagnostic: " boom \n"}).Error(); got != "exit status 2: boom" {
		t.Fatalf("message = %q", got)
	}
	if got := (&ToolError{ExitCode: -1, Err: errors.New("not found")}).Error(); got != "spawn failed: not found" {
		t.Fatalf("message = %q", got)
	}
}

func TestTailBufferKeepsLastBytes(t *testing.T) {
	b := &tailBuffer{limit: 4}
	_, _ = b.Write([]byte("abc"))
	_, _ = b.Write([]byte("defg"))
	if got := b.String(); got != "defg" {
		t.Fatalf("tail = %q", got)
	}
}
