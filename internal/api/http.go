package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/Witriol/mediaq/internal/archive"
	"github.com/Witriol/mediaq/internal/credentials"
	"github.com/Witriol/mediaq/internal/events"
	"github.com/Witriol/mediaq/internal/formats"
	"github.com/Witriol/mediaq/internal/listing"
	"github.com/Witriol/mediaq/internal/queue"
)

var errBadRequest = errors.New("bad_request")

type Jobs interface {
	Submit(ctx context.Context, req queue.Request) (string, error)
	Get(id string) (queue.Job, error)
	List() []queue.Job
	Cancel(ctx context.Context, id string) error
	Remove(id string) error
}

// History is the persisted view of jobs that may have left the pool.
type History interface {
	GetJob(ctx context.Context, id string) (*queue.Job, error)
	ListJobs(ctx context.Context, status string, limit int) ([]queue.Job, error)
	ListEvents(ctx context.Context, jobID string, limit int) ([]string, error)
}

type Batches interface {
	Submit(req archive.Request) (string, error)
	Status(id string) (archive.Status, error)
	List() []archive.Status
	Result(id string) (*os.File, string, error)
}

type Qualities interface {
	Qualities(ctx context.Context, rawURL, family string) (*formats.Listing, error)
}

type Playlists interface {
	PlaylistItems(ctx context.Context, playlistID, pageToken string) (*listing.Page, error)
}

type Subscriber interface {
	Subscribe() (<-chan events.Event, func())
}

type Server struct {
	Jobs           Jobs
	History        History
	Batches        Batches
	Qualities      Qualities
	Playlists      Playlists
	Events         Subscriber
	AllowedOrigins []string
	Logger         *slog.Logger
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/jobs", s.handleJobs)
	mux.HandleFunc("/jobs/", s.handleJob)
	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/batches", s.handleBatches)
	mux.HandleFunc("/batches/", s.handleBatch)
	mux.HandleFunc("/qualities", s.handleQualities)
	mux.HandleFunc("/playlists/", s.handlePlaylist)
	return corsMiddleware(s.AllowedOrigins, mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		status := r.URL.Query().Get("status")
		if status == "" && r.URL.Query().Get("history") != "1" {
			writeJSON(w, http.StatusOK, s.Jobs.List())
			return
		}
		if s.History == nil {
			writeJSON(w, http.StatusOK, []queue.Job{})
			return
		}
		jobs, err := s.History.ListJobs(r.Context(), status, queryInt(r, "limit", 100))
		if err != nil {
			writeErr(w, statusForErr(err), err)
			return
		}
		writeJSON(w, http.StatusOK, jobs)
	case http.MethodPost:
		var req queue.Request
		if err := decodeJSON(r, &req); err != nil {
			writeErr(w, http.StatusBadRequest, err)
			return
		}
		id, err := s.Jobs.Submit(r.Context(), req)
		if err != nil {
			writeErr(w, statusForErr(err), err)
			return
		}
		s.logger().Info("job submitted", "action", "add", "id", id, "url", redactURLForLog(req.URL), "format", req.Family, "quality", req.Quality)
		writeJSON(w, http.StatusAccepted, map[string]string{"jobId": id})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/jobs/"), "/")
	parts := strings.Split(path, "/")
	id := parts[0]
	if id == "" || len(parts) > 2 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			job, err := s.lookupJob(r.Context(), id)
			if err != nil {
				writeErr(w, statusForErr(err), err)
				return
			}
			writeJSON(w, http.StatusOK, job)
		case http.MethodDelete:
			if err := s.Jobs.Remove(id); err != nil {
				writeErr(w, statusForErr(err), err)
				return
			}
			s.logger().Info("job removed", "action", "remove", "id", id)
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}
	switch parts[1] {
	case "cancel":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := s.Jobs.Cancel(r.Context(), id); err != nil {
			writeErr(w, statusForErr(err), err)
			return
		}
		s.logger().Info("job canceled", "action", "cancel", "id", id)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case "events":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if s.History == nil {
			writeJSON(w, http.StatusOK, []string{})
			return
		}
		lines, err := s.History.ListEvents(r.Context(), id, queryInt(r, "limit", 0))
		if err != nil {
			writeErr(w, statusForErr(err), err)
			return
		}
		writeJSON(w, http.StatusOK, lines)
	case "file":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.serveJobFile(w, r, id)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// lookupJob prefers the live snapshot and falls back to history for jobs
// already evicted from memory.
func (s *Server) lookupJob(ctx context.Context, id string) (queue.Job, error) {
	job, err := s.Jobs.Get(id)
	if err == nil || !errors.Is(err, queue.ErrNotFound) || s.History == nil {
		return job, err
	}
	stored, err := s.History.GetJob(ctx, id)
	if err != nil {
		return queue.Job{}, err
	}
	return *stored, nil
}

func (s *Server) serveJobFile(w http.ResponseWriter, r *http.Request, id string) {
	job, err := s.Jobs.Get(id)
	if err != nil {
		writeErr(w, statusForErr(err), err)
		return
	}
	if job.Status != queue.StatusCompleted || job.OutputPath == "" {
		err := fmt.Errorf("%w: job is %s", queue.ErrActionNotAllowed, job.Status)
		writeErr(w, statusForErr(err), err)
		return
	}
	f, err := os.Open(job.OutputPath)
	if err != nil {
		writeErr(w, http.StatusGone, errors.New("output_missing"))
		return
	}
	defer f.Close()
	serveAttachment(w, r, f, job.Filename, "")
}

func (s *Server) handleBatches(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.Batches.List())
	case http.MethodPost:
		var req archive.Request
		if err := decodeJSON(r, &req); err != nil {
			writeErr(w, http.StatusBadRequest, err)
			return
		}
		id, err := s.Batches.Submit(req)
		if err != nil {
			writeErr(w, statusForErr(err), err)
			return
		}
		s.logger().Info("batch submitted", "action", "batch", "id", id, "items", len(req.Items), "container", req.OutputContainer)
		writeJSON(w, http.StatusAccepted, map[string]string{"jobId": id})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/batches/"), "/")
	parts := strings.Split(path, "/")
	id := parts[0]
	if id == "" || len(parts) > 2 || (len(parts) == 2 && parts[1] != "result") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if len(parts) == 1 {
		st, err := s.Batches.Status(id)
		if err != nil {
			writeErr(w, statusForErr(err), err)
			return
		}
		writeJSON(w, http.StatusOK, st)
		return
	}
	f, name, err := s.Batches.Result(id)
	if err != nil {
		writeErr(w, statusForErr(err), err)
		return
	}
	defer f.Close()
	serveAttachment(w, r, f, name, "application/zip")
}

func (s *Server) handleQualities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	rawURL := strings.TrimSpace(r.URL.Query().Get("url"))
	if rawURL == "" {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("%w: missing url", errBadRequest))
		return
	}
	out, err := s.Qualities.Qualities(r.Context(), rawURL, r.URL.Query().Get("format"))
	if err != nil {
		writeErr(w, statusForErr(err), err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePlaylist(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/playlists/"), "/")
	id, rest, _ := strings.Cut(path, "/")
	if id == "" || rest != "items" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	page, err := s.Playlists.PlaylistItems(r.Context(), id, r.URL.Query().Get("pageToken"))
	if err != nil {
		var unavailable *credentials.UnavailableError
		if errors.As(err, &unavailable) {
			s.logger().Warn("playlist listing unavailable", "id", id, "attempts", unavailable.Attempts, "err", err)
		}
		writeErr(w, statusForErr(err), err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func statusForErr(err error) int {
	var unavailable *credentials.UnavailableError
	switch {
	case errors.As(err, &unavailable), errors.Is(err, queue.ErrPoolClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, queue.ErrNotFound), errors.Is(err, archive.ErrNotFound), errors.Is(err, credentials.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, queue.ErrValidation), errors.Is(err, formats.ErrInvalidFamily),
		errors.Is(err, listing.ErrInvalidPlaylist), errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, queue.ErrAlreadyFinished), errors.Is(err, queue.ErrActionNotAllowed),
		errors.Is(err, archive.ErrNotReady), errors.Is(err, archive.ErrBatchFailed):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func serveAttachment(w http.ResponseWriter, r *http.Request, f *os.File, name, contentType string) {
	info, err := f.Stat()
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeContent(w, r, name, info.ModTime(), f)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func queryInt(r *http.Request, name string, def int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			return parsed
		}
	}
	return def
}

// redactURLForLog drops credentials and fragments from source URLs.
func redactURLForLog(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if u.User != nil {
		u.User = url.User("***")
	}
	if u.Fragment != "" {
		u.Fragment = "***"
	}
	return u.String()
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
