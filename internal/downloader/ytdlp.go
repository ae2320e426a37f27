package downloader

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/Witriol/mediaq/internal/formats"
	"github.com/Witriol/mediaq/internal/resolver"
)

const (
	DefaultVideoContainer = "mp4"
	DefaultAudioContainer = "mp3"

	maxLineBytes     = 1024 * 1024
	maxMetadataBytes = 32 * 1024 * 1024
)

var (
	VideoContainers = map[string]bool{"mp4": true, "mkv": true, "webm": true}
	AudioContainers = map[string]bool{"mp3": true, "m4a": true, "opus": true, "wav": true, "flac": true}
)

// progressRe matches yt-dlp --newline progress lines such as
// "[download]  42.7% of ~ 10.00MiB at 1.20MiB/s ETA 00:07".
// Any other line on stdout is ignored.
var progressRe = regexp.MustCompile(`^\[download\]\s+(\d{1,3}(?:\.\d+)?)%`)

// ParseProgress extracts a percentage from one line of tool output.
func ParseProgress(line string) (float64, bool) {
	m := progressRe.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return 0, false
	}
	pct, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	if pct > 100 {
		pct = 100
	}
	return pct, true
}

// ScanLines calls fn for every line of r and always reads r to EOF.
// Lines longer than maxLineBytes are skipped.
func ScanLines(r io.Reader, fn func(string)) error {
	br := bufio.NewReaderSize(r, 64*1024)
	var line []byte
	skipping := false
	for {
		chunk, err := br.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			if !skipping && len(line)+len(chunk) <= maxLineBytes {
				line = append(line, chunk...)
			} else {
				skipping = true
				line = line[:0]
			}
			continue
		}
		if err != nil && !errors.Is(err, io.EOF) {
			_, _ = io.Copy(io.Discard, br)
			return err
		}
		if !skipping {
			line = append(line, chunk...)
			if len(line) > 0 {
				fn(strings.TrimRight(string(line), "\r\n"))
			}
		}
		line = line[:0]
		skipping = false
		if err != nil {
			return nil
		}
	}
}

// Spec is everything needed to build one extraction command.
type Spec struct {
	URL        string
	Family     string
	Quality    string
	Container  string
	ClipStart  string
	ClipEnd    string
	OutputPath string
}

// BuildCommand merges the platform invocation with per-job arguments.
func BuildCommand(inv resolver.Invocation, spec Spec, ffmpegPath string) Command {
	args := append([]string{}, inv.Args...)
	template := strings.TrimSuffix(spec.OutputPath, filepath.Ext(spec.OutputPath)) + ".%(ext)s"
	args = append(args, "--newline", "--no-playlist", "--no-warnings", "--progress", "-o", template)

	if spec.Family == formats.FamilyAudio {
		container := spec.Container
		if container == "" {
			container = DefaultAudioContainer
		}
		args = append(args, "-f", "bestaudio/best", "-x", "--audio-format", container)
		if isDigits(spec.Quality) {
			args = append(args, "--audio-quality", spec.Quality+"K")
		}
	} else {
		container := spec.Container
		if container == "" {
			container = DefaultVideoContainer
		}
		args = append(args, "-f", videoSelection(spec.Quality), "--merge-output-format", container)
	}

	if spec.ClipStart != "" && spec.ClipEnd != "" {
		args = append(args,
			"--download-sections", "*"+spec.ClipStart+"-"+spec.ClipEnd,
			"--force-keyframes-at-cuts",
		)
	}
	if ffmpegPath != "" {
		args = append(args, "--ffmpeg-location", ffmpegPath)
	}
	args = append(args, "--", spec.URL)
	return Command{Path: inv.Path, Args: args}
}

// videoSelection maps a quality value to a -f expression. "720p" caps the
// height; anything else, bare itags included, is passed through as listed.
func videoSelection(quality string) string {
	switch {
	case quality == "" || quality == "best":
		return "bestvideo+bestaudio/best"
	case strings.HasSuffix(quality, "p") && isDigits(strings.TrimSuffix(quality, "p")):
		h, _ := strconv.Atoi(strings.TrimSuffix(quality, "p"))
		return formats.BestAtOrBelow(h)
	default:
		return quality
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Tool runs the extraction tool for metadata queries.
type Tool struct {
	Caps     resolver.HostCaps
	Executor Executor
}

type probeDocument struct {
	Title     string        `json:"title"`
	Thumbnail string        `json:"thumbnail"`
	Duration  *float64      `json:"duration"`
	Formats   []probeFormat `json:"formats"`
}

type probeFormat struct {
	FormatID       string   `json:"format_id"`
	Height         *int     `json:"height"`
	Ext            string   `json:"ext"`
	VCodec         string   `json:"vcodec"`
	ACodec         string   `json:"acodec"`
	TBR            *float64 `json:"tbr"`
	Filesize       *int64   `json:"filesize"`
	FilesizeApprox *int64   `json:"filesize_approx"`
}

// Probe asks the tool for the JSON metadata document of rawURL.
func (t *Tool) Probe(ctx context.Context, rawURL string) (*formats.Metadata, error) {
	inv := resolver.Select(rawURL, t.Caps)
	args := append([]string{}, inv.Args...)
	args = append(args, "-J", "--no-playlist", "--no-warnings", "--skip-download", "--", rawURL)
	proc, err := t.Executor.Start(ctx, Command{Path: inv.Path, Args: args})
	if err != nil {
		return nil, err
	}
	stdout := proc.Stdout()
	body, readErr := io.ReadAll(io.LimitReader(stdout, maxMetadataBytes+1))
	if readErr == nil && len(body) > maxMetadataBytes {
		readErr = errors.New("metadata exceeds 32MiB")
	}
	_, _ = io.Copy(io.Discard, stdout)
	if err := proc.Wait(); err != nil {
		return nil, err
	}
	if readErr != nil {
		return nil, fmt.Errorf("read metadata: %w", readErr)
	}
	return ParseMetadata(body)
}

func ParseMetadata(body []byte) (*formats.Metadata, error) {
	var doc probeDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	if doc.Title == "" && len(doc.Formats) == 0 {
		return nil, errors.New("empty_metadata")
	}
	meta := &formats.Metadata{Title: doc.Title, Thumbnail: doc.Thumbnail}
	if doc.Duration != nil {
		meta.Duration = *doc.Duration
	}
	for _, f := range doc.Formats {
		c := formats.Candidate{
			ID:        f.FormatID,
			Container: f.Ext,
			VCodec:    f.VCodec,
			ACodec:    f.ACodec,
		}
		if f.Height != nil {
			c.Height = *f.Height
		}
		if f.TBR != nil {
			c.Bitrate = *f.TBR
		}
		switch {
		case f.Filesize != nil:
			c.Filesize = *f.Filesize
		case f.FilesizeApprox != nil:
			c.Filesize = *f.FilesizeApprox
		}
		meta.Candidates = append(meta.Candidates, c)
	}
	return meta, nil
}
