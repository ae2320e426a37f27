package main

import (
	"fmt"
	"io"
	"math"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
)

const barWidth = 20

func printJobs(w io.Writer, jobs []jobView, now time.Time) {
	if len(jobs) == 0 {
		fmt.Fprintln(w, "No jobs.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tPROGRESS\tFORMAT\tAGE\tNAME/URL")
	for _, j := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			j.ID, j.Status, progressBar(j.Progress), formatLabel(j), humanize.RelTime(j.CreatedAt, now, "ago", "from now"), displayName(j))
		if j.Error != "" {
			fmt.Fprintf(tw, " \t \t \t \t \t  error: %s\n", j.Error)
		}
	}
	_ = tw.Flush()
}

func printBatch(w io.Writer, b batchView) {
	fmt.Fprintf(w, "batch %s  %s  %s  (%d/%d items)\n", b.ID, b.Status, progressBar(b.Progress), b.Completed, b.Total)
	if b.Error != "" {
		fmt.Fprintf(w, "  error: %s\n", b.Error)
	}
}

func printListing(w io.Writer, l listingView) {
	if l.Title != "" {
		fmt.Fprintf(w, "%s", l.Title)
		if l.Duration > 0 {
			fmt.Fprintf(w, " (%s)", humanDuration(time.Duration(l.Duration*float64(time.Second))))
		}
		fmt.Fprintln(w)
	}
	if l.Fallback {
		fmt.Fprintln(w, "metadata unavailable, showing generic options")
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VALUE\tLABEL\tCONTAINER\tAUDIO")
	for _, q := range l.Qualities {
		audio := "yes"
		if !q.HasAudio {
			audio = "merge"
		}
		container := q.Container
		if container == "" {
			container = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", q.Value, q.Label, container, audio)
	}
	_ = tw.Flush()
}

func printPlaylist(w io.Writer, p playlistPageView) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tID\tTITLE")
	for _, it := range p.Items {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", it.Position+1, it.VideoID, it.Title)
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "%s items total\n", humanize.Comma(int64(p.TotalResults)))
	if p.NextPageToken != "" {
		fmt.Fprintf(w, "next page: --page %s\n", p.NextPageToken)
	}
}

func progressBar(pct float64) string {
	pct = math.Max(0, math.Min(100, pct))
	filled := int(pct / 100 * barWidth)
	return fmt.Sprintf("[%s%s] %5.1f%%", strings.Repeat("#", filled), strings.Repeat(".", barWidth-filled), pct)
}

func formatLabel(j jobView) string {
	label := j.Format
	if j.Quality != "" {
		label += "/" + j.Quality
	}
	if j.Container != "" {
		label += "." + j.Container
	}
	if j.Clip != nil {
		label += fmt.Sprintf(" [%s-%s]", j.Clip.Start, j.Clip.End)
	}
	return label
}

func shortURL(u string) string {
	if len(u) > 64 {
		return u[:61] + "..."
	}
	return u
}

func displayName(j jobView) string {
	if j.Filename != "" {
		return j.Filename
	}
	return shortURL(j.URL)
}

func hasActiveJobs(jobs []jobView) bool {
	for _, j := range jobs {
		if !isTerminal(j.Status) {
			return true
		}
	}
	return false
}

func isTerminal(status string) bool {
	return status == "completed" || status == "failed"
}

func humanDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	seconds := int64(d.Seconds())
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	if h > 0 {
		return fmt.Sprintf("%dh%02dm", h, m)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
