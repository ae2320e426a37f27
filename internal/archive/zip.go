package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/Witriol/mediaq/internal/queue"
)

// Entry is one file placed into an archive.
type Entry struct {
	Name string
	Path string
}

func entriesFor(jobs []queue.Job) []Entry {
	out := make([]Entry, 0, len(jobs))
	for i, j := range jobs {
		name := j.Filename
		if name == "" {
			name = filepath.Base(j.OutputPath)
		}
		out = append(out, Entry{Name: fmt.Sprintf("%02d-%s", i+1, name), Path: j.OutputPath})
	}
	return out
}

// Package streams entries into a zip at path. Media is already compressed,
// so entries are stored. The archive appears at path only when complete.
func Package(path string, entries []Entry) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	zw := zip.NewWriter(f)
	for _, e := range entries {
		if err := addFile(zw, e); err != nil {
			_ = zw.Close()
			_ = f.Close()
			_ = os.Remove(tmp)
			return fmt.Errorf("package %s: %w", e.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func addFile(zw *zip.Writer, e Entry) error {
	src, err := os.Open(e.Path)
	if err != nil {
		return err
	}
	defer src.Close()
	info, err := src.Stat()
	if err != nil {
		return err
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	hdr.Name = e.Name
	hdr.Method = zip.Store
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, src)
	return err
}
