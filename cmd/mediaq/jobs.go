package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var addFlags struct {
	format    string
	quality   string
	container string
	start     string
	end       string
	files     []string
	stdin     bool
}

var addCmd = &cobra.Command{
	Use:   "add <url> [<url2> ...]",
	Short: "Queue one download per URL",
	RunE:  addRun,
}

var statusFlags struct {
	status string
	watch  bool
}

var statusCmd = &cobra.Command{
	Use:   "status [job_id]",
	Short: "Show jobs, or one job",
	Args:  cobra.MaximumNArgs(1),
	RunE:  statusRun,
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <job_id>",
	Short: "Cancel a pending or running job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := client.postJSON("/jobs/"+url.PathEscape(args[0])+"/cancel", map[string]any{}, nil); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "ok")
		return nil
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove <job_id>",
	Short: "Remove a finished job and its file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := client.delete("/jobs/" + url.PathEscape(args[0])); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "ok")
		return nil
	},
}

var logsTail int

var logsCmd = &cobra.Command{
	Use:   "logs <job_id>",
	Short: "Print the recorded history of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var lines []string
		if err := client.getJSON(fmt.Sprintf("/jobs/%s/events?limit=%d", url.PathEscape(args[0]), logsTail), &lines); err != nil {
			return err
		}
		for _, line := range lines {
			fmt.Fprintln(cmd.OutOrStdout(), line)
		}
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch <job_id>",
	Short: "Follow a job's progress until it finishes",
	Args:  cobra.ExactArgs(1),
	RunE:  watchRun,
}

func init() {
	addCmd.Flags().StringVarP(&addFlags.format, "format", "f", "", "video | audio")
	addCmd.Flags().StringVarP(&addFlags.quality, "quality", "q", "", "quality value from 'mediaq qualities'")
	addCmd.Flags().StringVarP(&addFlags.container, "container", "c", "", "output container (mp4, webm, mkv, mp3, m4a, ...)")
	addCmd.Flags().StringVar(&addFlags.start, "start", "", "clip start (SS, MM:SS or HH:MM:SS)")
	addCmd.Flags().StringVar(&addFlags.end, "end", "", "clip end")
	addCmd.Flags().StringArrayVar(&addFlags.files, "file", nil, "read URLs from file (one per line)")
	addCmd.Flags().BoolVar(&addFlags.stdin, "stdin", false, "read URLs from stdin")

	statusCmd.Flags().StringVar(&statusFlags.status, "status", "", "filter history by status")
	statusCmd.Flags().BoolVarP(&statusFlags.watch, "watch", "w", false, "refresh until all jobs finish")

	logsCmd.Flags().IntVar(&logsTail, "tail", 50, "number of log lines")
}

func addRun(cmd *cobra.Command, args []string) error {
	urls := append([]string{}, args...)
	if addFlags.stdin {
		more, err := readURLs(os.Stdin)
		if err != nil {
			return err
		}
		urls = append(urls, more...)
	}
	for _, path := range addFlags.files {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		more, err := readURLs(f)
		_ = f.Close()
		if err != nil {
			return err
		}
		urls = append(urls, more...)
	}
	if len(urls) == 0 {
		return errors.New("no URLs given")
	}

	hadErr := false
	for _, u := range urls {
		var resp map[string]string
		if err := client.postJSON("/jobs", jobPayload(u), &resp); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "error for %s: %v\n", u, err)
			hadErr = true
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "queued job %s (%s)\n", resp["jobId"], u)
	}
	if hadErr {
		return errors.New("some URLs were not queued")
	}
	return nil
}

func jobPayload(u string) map[string]any {
	payload := map[string]any{
		"url":     u,
		"format":  firstSet(addFlags.format, cfg.Format),
		"quality": firstSet(addFlags.quality, cfg.Quality),
	}
	if c := firstSet(addFlags.container, cfg.Container); c != "" {
		payload["container"] = c
	}
	if addFlags.start != "" || addFlags.end != "" {
		payload["clip"] = clipView{Start: addFlags.start, End: addFlags.end}
	}
	return payload
}

func firstSet(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func readURLs(r io.Reader) ([]string, error) {
	var out []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out, scanner.Err()
}

func statusRun(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if len(args) == 1 {
		var j jobView
		if err := client.getJSON("/jobs/"+url.PathEscape(args[0]), &j); err != nil {
			return err
		}
		if flagJSON {
			return printJSON(out, j)
		}
		printJobs(out, []jobView{j}, time.Now())
		return nil
	}
	path := "/jobs"
	if statusFlags.status != "" {
		path += "?status=" + url.QueryEscape(statusFlags.status)
	}
	interactive := isTTY(os.Stdout)
	for {
		var jobs []jobView
		if err := client.getJSON(path, &jobs); err != nil {
			return err
		}
		if flagJSON {
			return printJSON(out, jobs)
		}
		if statusFlags.watch && interactive {
			fmt.Fprint(out, "\033[H\033[2J")
		}
		counts := map[string]int{}
		for _, j := range jobs {
			counts[j.Status]++
		}
		fmt.Fprintf(out, "Jobs: %d total | pending %d | running %d | completed %d | failed %d\n",
			len(jobs), counts["pending"], counts["running"], counts["completed"], counts["failed"])
		printJobs(out, jobs, time.Now())
		if !statusFlags.watch || !hasActiveJobs(jobs) {
			return nil
		}
		time.Sleep(cfg.Interval)
	}
}

type eventView struct {
	Type    string  `json:"type"`
	JobID   string  `json:"jobId"`
	Percent float64 `json:"percent"`
	Error   string  `json:"error"`
}

func watchRun(cmd *cobra.Command, args []string) error {
	id := args[0]
	out := cmd.OutOrStdout()
	var j jobView
	if err := client.getJSON("/jobs/"+url.PathEscape(id), &j); err != nil {
		return err
	}
	if isTerminal(j.Status) {
		return reportFinal(out, j.ID, j.Status, j.Error)
	}

	resp, err := http.Get(client.base + "/events?jobId=" + url.QueryEscape(id))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return readHTTPError(resp)
	}

	interactive := isTTY(os.Stdout)
	var final eventView
	err = readSSE(resp.Body, func(ev eventView) bool {
		switch ev.Type {
		case "job_start":
			fmt.Fprintf(out, "job %s started\n", id)
		case "job_progress":
			if interactive {
				fmt.Fprintf(out, "\r%s", progressBar(ev.Percent))
			} else {
				fmt.Fprintln(out, progressBar(ev.Percent))
			}
		case "job_complete", "job_error":
			if interactive {
				fmt.Fprintln(out)
			}
			final = ev
			return false
		}
		return true
	})
	if err != nil {
		return err
	}
	if final.Type == "" {
		return errors.New("event stream closed before the job finished")
	}
	status := "completed"
	if final.Type == "job_error" {
		status = "failed"
	}
	return reportFinal(out, id, status, final.Error)
}

func reportFinal(w io.Writer, id, status, msg string) error {
	if status == "failed" {
		return fmt.Errorf("job %s failed: %s", id, msg)
	}
	fmt.Fprintf(w, "job %s %s; download it with 'mediaq fetch %s'\n", id, status, id)
	return nil
}

// readSSE calls fn for every data frame until fn returns false or the stream ends.
func readSSE(r io.Reader, fn func(eventView) bool) error {
	scanner := bufio.NewScanner(r)
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		case line == "":
			if data.Len() == 0 {
				continue
			}
			var ev eventView
			err := json.Unmarshal([]byte(data.String()), &ev)
			data.Reset()
			if err != nil {
				continue
			}
			if !fn(ev) {
				return nil
			}
		}
	}
	return scanner.Err()
}

func isTTY(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
