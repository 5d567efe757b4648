package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/iconidentify/vidgate/internal/config"
	"github.com/iconidentify/vidgate/internal/domain"
	"github.com/iconidentify/vidgate/internal/extractor"
	"github.com/iconidentify/vidgate/internal/fallback"
	"github.com/iconidentify/vidgate/internal/store"
)

// streamChunkSize is the flush granularity for /api/stream responses.
const streamChunkSize = 64 * 1024

// Fallbacker is the slice of the controller the handlers need.
type Fallbacker interface {
	RunProbe(ctx context.Context, url, preferred string) (*domain.MediaInfo, error)
	RunFetch(ctx context.Context, params fallback.FetchParams) (*domain.FetchedFile, error)
}

// MediaHandler serves the probe and download endpoints.
type MediaHandler struct {
	ctrl           Fallbacker
	store          *store.Store
	limits         config.LimitsConfig
	postDelay      time.Duration
	requestTimeout time.Duration
	slots          chan struct{}
	logger         *slog.Logger
}

// NewMediaHandler creates a media handler. workerCount bounds concurrent
// fetches; probes are not slot-limited.
func NewMediaHandler(
	ctrl Fallbacker,
	s *store.Store,
	limits config.LimitsConfig,
	postDelay, requestTimeout time.Duration,
	workerCount int,
	logger *slog.Logger,
) *MediaHandler {
	if workerCount <= 0 {
		workerCount = 4
	}
	return &MediaHandler{
		ctrl:           ctrl,
		store:          s,
		limits:         limits,
		postDelay:      postDelay,
		requestTimeout: requestTimeout,
		slots:          make(chan struct{}, workerCount),
		logger:         logger,
	}
}

// InfoRequest is the JSON body of POST /api/info.
type InfoRequest struct {
	URL     string `json:"url"`
	Profile string `json:"profile,omitempty"`
}

// InfoResponse wraps probe metadata.
type InfoResponse struct {
	Success bool              `json:"success"`
	Data    *domain.MediaInfo `json:"data"`
}

// DownloadRequest is the JSON body of POST /api/download and /api/stream.
type DownloadRequest struct {
	URL                string `json:"url"`
	Format             string `json:"format,omitempty"`
	Profile            string `json:"profile,omitempty"`
	MaxDurationSeconds int    `json:"maxDurationSeconds,omitempty"`
}

// Info handles POST /api/info.
func (h *MediaHandler) Info(w http.ResponseWriter, r *http.Request) {
	var req InfoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, domain.KindBadRequest, "request body must be JSON")
		return
	}
	if err := validateURL(req.URL); err != nil {
		writeError(w, http.StatusBadRequest, domain.KindBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	info, err := h.ctrl.RunProbe(ctx, req.URL, req.Profile)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			h.logger.Info("probe abandoned by client", "url", req.URL)
			return
		}
		writeFailure(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, InfoResponse{Success: true, Data: info})
}

// Download handles POST /api/download: fetch fully, then stream the file
// with a known length.
func (h *MediaHandler) Download(w http.ResponseWriter, r *http.Request) {
	h.fetch(w, r, false)
}

// Stream handles POST /api/stream. Delivery is chunked and flushed as
// the file is read; the fetch itself is synchronous, which the contract
// permits.
func (h *MediaHandler) Stream(w http.ResponseWriter, r *http.Request) {
	h.fetch(w, r, true)
}

func (h *MediaHandler) fetch(w http.ResponseWriter, r *http.Request, chunked bool) {
	var req DownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, domain.KindBadRequest, "request body must be JSON")
		return
	}
	if err := validateURL(req.URL); err != nil {
		writeError(w, http.StatusBadRequest, domain.KindBadRequest, err.Error())
		return
	}

	select {
	case h.slots <- struct{}{}:
		defer func() { <-h.slots }()
	case <-r.Context().Done():
		return
	}

	caps := domain.FetchCaps{
		MaxSizeBytes:       h.limits.MaxSizeBytes(),
		MaxDurationSeconds: h.limits.MaxDurationSeconds,
	}
	// A request may tighten the duration cap, never loosen it.
	if req.MaxDurationSeconds > 0 && req.MaxDurationSeconds < caps.MaxDurationSeconds {
		caps.MaxDurationSeconds = req.MaxDurationSeconds
	}

	format := req.Format
	if format == "" {
		format = h.limits.DefaultFormat
	}

	id := h.store.NewID(req.URL)

	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	file, err := h.ctrl.RunFetch(ctx, fallback.FetchParams{
		URL:       req.URL,
		Preferred: req.Profile,
		Format:    format,
		OutBase:   h.store.BasePath(id),
		Caps:      caps,
		Progress: func(ev extractor.ProgressEvent) {
			h.logger.Debug("fetch progress", "id", id, "stage", ev.Stage, "percent", ev.Percent)
		},
	})
	if err != nil {
		// No file was produced, so there is nothing to schedule for
		// deletion; the sweep below only catches stray partials.
		h.store.RemoveByID(id)
		if errors.Is(err, context.Canceled) {
			h.logger.Info("fetch abandoned by client", "id", id)
			return
		}
		writeFailure(w, h.logger, err)
		return
	}

	h.serveFile(w, r, file, chunked)
	h.store.ScheduleRemoval(file.Path, h.postDelay)
}

func (h *MediaHandler) serveFile(w http.ResponseWriter, r *http.Request, file *domain.FetchedFile, chunked bool) {
	f, err := os.Open(file.Path)
	if err != nil {
		h.logger.Error("fetched file unreadable", "path", file.Path, "error", err)
		writeError(w, http.StatusInternalServerError, domain.KindInternal, "internal error")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", file.MIMEType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+file.Filename+`"`)
	if !chunked {
		w.Header().Set("Content-Length", strconv.FormatInt(file.Size, 10))
	}
	w.WriteHeader(http.StatusOK)

	if chunked {
		h.copyFlushing(w, f)
		return
	}
	if _, err := io.Copy(w, f); err != nil {
		h.logger.Info("response copy interrupted", "error", err)
	}
}

func (h *MediaHandler) copyFlushing(w http.ResponseWriter, f io.Reader) {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, streamChunkSize)
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				h.logger.Info("stream interrupted", "error", err)
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr != nil {
			if readErr != io.EOF {
				h.logger.Error("stream read failed", "error", readErr)
			}
			return
		}
	}
}

func validateURL(raw string) error {
	if raw == "" {
		return errors.New("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("url must be absolute http or https")
	}
	return nil
}
