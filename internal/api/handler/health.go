package handler

import (
	"net/http"
	"os"
	"time"

	"github.com/iconidentify/vidgate/internal/store"
)

// HealthHandler reports service liveness and store capacity.
type HealthHandler struct {
	store   *store.Store
	version string
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(s *store.Store, version string) *HealthHandler {
	return &HealthHandler{store: s, version: version}
}

// HealthResponse is the JSON body of GET /health.
type HealthResponse struct {
	Status        string `json:"status"`
	Timestamp     string `json:"timestamp"`
	FreeDiskBytes int64  `json:"free_disk_bytes"`
	DownloadDir   string `json:"download_dir"`
	Version       string `json:"version"`
}

// Health handles GET /health. The only I/O is a stat of the store
// directory.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC().Format(time.RFC3339)

	if info, err := os.Stat(h.store.Dir()); err != nil || !info.IsDir() {
		writeJSON(w, http.StatusInternalServerError, HealthResponse{
			Status:      "unhealthy",
			Timestamp:   now,
			DownloadDir: h.store.Dir(),
			Version:     h.version,
		})
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:        "healthy",
		Timestamp:     now,
		FreeDiskBytes: h.store.FreeBytes(),
		DownloadDir:   h.store.Dir(),
		Version:       h.version,
	})
}
