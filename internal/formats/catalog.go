package formats

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
)

const (
	MinHeight  = 144
	MaxHeight  = 4320
	MaxOptions = 6

	PreferredContainer = "mp4"
	PreferredVCodec    = "avc1"

	containerBonus = 500000
	codecBonus     = 20000
)

// standardHeights are the buckets users expect to see; odd heights only fill leftover slots.
var standardHeights = map[int]bool{
	144: true, 240: true, 360: true, 480: true, 720: true,
	1080: true, 1440: true, 2160: true, 4320: true,
}

var fallbackHeights = []int{360, 480, 720, 1080}

// Candidate is one encoded stream reported by the extraction tool.
type Candidate struct {
	ID        string
	Height    int
	Container string
	VCodec    string
	ACodec    string
	Bitrate   float64
	Filesize  int64
}

func (c Candidate) hasVideo() bool {
	return c.VCodec != "" && c.VCodec != "none"
}

func (c Candidate) hasAudio() bool {
	return c.ACodec != "" && c.ACodec != "none"
}

// Score ranks candidates of the same height.
func (c Candidate) Score() float64 {
	score := c.Bitrate + float64(c.Filesize)/(1024*1024)
	if strings.EqualFold(c.Container, PreferredContainer) {
		score += containerBonus
	}
	if strings.HasPrefix(strings.ToLower(c.VCodec), PreferredVCodec) {
		score += codecBonus
	}
	return score
}

type QualityOption struct {
	Selection string `json:"value"`
	Label     string `json:"label"`
	Height    int    `json:"height,omitempty"`
	Container string `json:"container,omitempty"`
	HasAudio  bool   `json:"hasAudio"`
}

type bucket struct {
	combined  *Candidate
	videoOnly *Candidate
}

// Resolve turns raw candidates into at most MaxOptions quality options,
// one per height, ascending. An empty result means the caller should use Fallback.
func Resolve(candidates []Candidate) []QualityOption {
	buckets := map[int]*bucket{}
	for i := range candidates {
		c := candidates[i]
		if !c.hasVideo() || c.Height < MinHeight || c.Height > MaxHeight {
			continue
		}
		b, ok := buckets[c.Height]
		if !ok {
			b = &bucket{}
			buckets[c.Height] = b
		}
		if c.hasAudio() {
			if b.combined == nil || c.Score() > b.combined.Score() {
				b.combined = &c
			}
			continue
		}
		if b.videoOnly == nil || c.Score() > b.videoOnly.Score() {
			b.videoOnly = &c
		}
	}

	heights := make([]int, 0, len(buckets))
	for h := range buckets {
		heights = append(heights, h)
	}
	heights = pickHeights(heights)

	out := make([]QualityOption, 0, len(heights))
	for _, h := range heights {
		b := buckets[h]
		if b.combined != nil {
			out = append(out, QualityOption{
				Selection: b.combined.ID,
				Label:     label(h, b.combined.Filesize),
				Height:    h,
				Container: b.combined.Container,
				HasAudio:  true,
			})
			continue
		}
		out = append(out, QualityOption{
			Selection: b.videoOnly.ID + "+bestaudio",
			Label:     label(h, b.videoOnly.Filesize),
			Height:    h,
			Container: b.videoOnly.Container,
			HasAudio:  false,
		})
	}
	return out
}

// pickHeights keeps the most relevant MaxOptions heights: standard buckets first,
// higher before lower, then returns them ascending.
func pickHeights(heights []int) []int {
	sort.Slice(heights, func(i, j int) bool {
		si, sj := standardHeights[heights[i]], standardHeights[heights[j]]
		if si != sj {
			return si
		}
		return heights[i] > heights[j]
	})
	if len(heights) > MaxOptions {
		heights = heights[:MaxOptions]
	}
	sort.Ints(heights)
	return heights
}

// Fallback returns generic options used when the metadata probe fails.
func Fallback() []QualityOption {
	out := make([]QualityOption, 0, len(fallbackHeights))
	for _, h := range fallbackHeights {
		out = append(out, QualityOption{
			Selection: BestAtOrBelow(h),
			Label:     label(h, 0),
			Height:    h,
			HasAudio:  true,
		})
	}
	return out
}

func BestAtOrBelow(height int) string {
	return fmt.Sprintf("bestvideo[height<=%d]+bestaudio/best[height<=%d]", height, height)
}

// AudioOptions lists the bitrates offered for audio-only downloads.
func AudioOptions() []QualityOption {
	return []QualityOption{
		{Selection: "320", Label: "320 kbps", HasAudio: true},
		{Selection: "192", Label: "192 kbps", HasAudio: true},
		{Selection: "128", Label: "128 kbps", HasAudio: true},
	}
}

func label(height int, size int64) string {
	name := fmt.Sprintf("%dp", height)
	switch height {
	case 2160:
		name = "4K (2160p)"
	case 4320:
		name = "8K (4320p)"
	}
	if size > 0 {
		name += " · ~" + humanize.Bytes(uint64(size))
	}
	return name
}
