package queue

import (
	"os"
	"path/filepath"
	"strings"
)

func outputPath(dir, id, container string) string {
	return filepath.Join(dir, id+"."+container)
}

// locateOutput finds the file the tool actually produced. Post-processing can
// change the extension, so fall back to any finished artifact named after the job.
func locateOutput(dir, id, expected string) string {
	if _, err := os.Stat(expected); err == nil {
		return expected
	}
	matches, _ := filepath.Glob(filepath.Join(dir, id+".*"))
	for _, m := range matches {
		if isPartial(m) {
			continue
		}
		return m
	}
	return expected
}

func isPartial(name string) bool {
	return strings.HasSuffix(name, ".part") || strings.HasSuffix(name, ".ytdl") || strings.Contains(name, ".part-Frag")
}

// removeArtifacts deletes every file named after the job, finished or partial.
func removeArtifacts(dir, id string) {
	if id == "" || strings.ContainsAny(id, "/\\*?[") {
		return
	}
	matches, _ := filepath.Glob(filepath.Join(dir, id+".*"))
	for _, m := range matches {
		_ = os.Remove(m)
	}
}

// DownloadName is the file name offered to clients for a finished job.
func DownloadName(j Job) string {
	ext := filepath.Ext(j.OutputPath)
	if ext == "" {
		ext = "." + j.Container
	}
	return sanitizeFilename(j.ID + ext)
}

func sanitizeFilename(name string) string {
	if name == "" {
		return ""
	}
	base := filepath.Base(strings.TrimSpace(name))
	if base == "" || base == "." || base == string(filepath.Separator) {
		return ""
	}
	if strings.ContainsAny(base, "/\\") {
		return ""
	}
	return base
}
