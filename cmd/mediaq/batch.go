package main

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var batchFlags struct {
	format    string
	quality   string
	container string
	files     []string
	wait      bool
	out       string
}

var batchCmd = &cobra.Command{
	Use:   "batch <url> [<url2> ...]",
	Short: "Download several items and package them into one zip",
	Long: `Each argument, or each line of --file, is "url" or "url start end".
The batch fails as soon as one item fails.`,
	RunE: batchRun,
}

var batchStatusCmd = &cobra.Command{
	Use:   "batch-status [batch_id]",
	Short: "Show one batch, or all batches",
	Args:  cobra.MaximumNArgs(1),
	RunE:  batchStatusRun,
}

var fetchFlags struct {
	batch bool
	out   string
}

var fetchCmd = &cobra.Command{
	Use:   "fetch <id>",
	Short: "Download a finished job's file or a batch archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return fetch(cmd.OutOrStdout(), args[0], fetchFlags.batch, firstSet(fetchFlags.out, cfg.OutDir))
	},
}

func init() {
	batchCmd.Flags().StringVarP(&batchFlags.format, "format", "f", "", "video | audio")
	batchCmd.Flags().StringVarP(&batchFlags.quality, "quality", "q", "", "quality applied to every item")
	batchCmd.Flags().StringVarP(&batchFlags.container, "container", "c", "", "output container for every item")
	batchCmd.Flags().StringArrayVar(&batchFlags.files, "file", nil, "read items from file")
	batchCmd.Flags().BoolVar(&batchFlags.wait, "wait", false, "wait for the archive and download it")
	batchCmd.Flags().StringVarP(&batchFlags.out, "out", "o", "", "directory for --wait downloads")

	fetchCmd.Flags().BoolVar(&fetchFlags.batch, "batch", false, "id is a batch id")
	fetchCmd.Flags().StringVarP(&fetchFlags.out, "out", "o", "", "target directory")
}

func batchRun(cmd *cobra.Command, args []string) error {
	lines := append([]string{}, args...)
	for _, path := range batchFlags.files {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		more, err := readURLs(f)
		_ = f.Close()
		if err != nil {
			return err
		}
		lines = append(lines, more...)
	}
	items, err := parseBatchItems(lines, firstSet(batchFlags.format, cfg.Format), firstSet(batchFlags.quality, cfg.Quality))
	if err != nil {
		return err
	}
	payload := map[string]any{
		"items":           items,
		"outputContainer": firstSet(batchFlags.container, cfg.Container),
	}
	var resp map[string]string
	if err := client.postJSON("/batches", payload, &resp); err != nil {
		return err
	}
	id := resp["jobId"]
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "queued batch %s (%d items)\n", id, len(items))
	if !batchFlags.wait {
		return nil
	}
	b, err := waitBatch(out, id)
	if err != nil {
		return err
	}
	if b.Status == "failed" {
		return fmt.Errorf("batch %s failed: %s", id, b.Error)
	}
	return fetch(out, id, true, firstSet(batchFlags.out, cfg.OutDir))
}

// parseBatchItems accepts "url" or "url start end" per entry.
func parseBatchItems(lines []string, format, quality string) ([]batchItem, error) {
	var items []batchItem
	for _, line := range lines {
		fields := strings.Fields(line)
		switch len(fields) {
		case 0:
			continue
		case 1, 3:
		default:
			return nil, fmt.Errorf("invalid batch entry %q: want \"url\" or \"url start end\"", line)
		}
		it := batchItem{URL: fields[0], Format: format, Quality: quality}
		if len(fields) == 3 {
			it.StartTime, it.EndTime = fields[1], fields[2]
		}
		items = append(items, it)
	}
	if len(items) == 0 {
		return nil, errors.New("no batch items given")
	}
	return items, nil
}

func waitBatch(w io.Writer, id string) (batchView, error) {
	for {
		var b batchView
		if err := client.getJSON("/batches/"+url.PathEscape(id), &b); err != nil {
			return b, err
		}
		printBatch(w, b)
		if isTerminal(b.Status) {
			return b, nil
		}
		time.Sleep(cfg.Interval)
	}
}

func batchStatusRun(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if len(args) == 0 {
		var all []batchView
		if err := client.getJSON("/batches", &all); err != nil {
			return err
		}
		if flagJSON {
			return printJSON(out, all)
		}
		if len(all) == 0 {
			fmt.Fprintln(out, "No batches.")
		}
		for _, b := range all {
			printBatch(out, b)
		}
		return nil
	}
	var b batchView
	if err := client.getJSON("/batches/"+url.PathEscape(args[0]), &b); err != nil {
		return err
	}
	if flagJSON {
		return printJSON(out, b)
	}
	printBatch(out, b)
	return nil
}

func fetch(w io.Writer, id string, batch bool, dir string) error {
	path := "/jobs/" + url.PathEscape(id) + "/file"
	if batch {
		path = "/batches/" + url.PathEscape(id) + "/result"
	}
	target, n, err := client.download(path, dir)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "saved %s (%s)\n", target, humanize.Bytes(uint64(n)))
	return nil
}
