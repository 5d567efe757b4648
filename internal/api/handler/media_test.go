package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/iconidentify/vidgate/internal/config"
	"github.com/iconidentify/vidgate/internal/domain"
	"github.com/iconidentify/vidgate/internal/fallback"
	"github.com/iconidentify/vidgate/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeCtrl scripts the fallback controller.
type fakeCtrl struct {
	probeInfo *domain.MediaInfo
	probeErr  error

	fetchErr  error
	fileBytes []byte
	fileName  string
	fileMIME  string

	gotPreferred string
	gotFormat    string
	gotCaps      domain.FetchCaps
}

func (f *fakeCtrl) RunProbe(ctx context.Context, url, preferred string) (*domain.MediaInfo, error) {
	f.gotPreferred = preferred
	if f.probeErr != nil {
		return nil, f.probeErr
	}
	return f.probeInfo, nil
}

func (f *fakeCtrl) RunFetch(ctx context.Context, params fallback.FetchParams) (*domain.FetchedFile, error) {
	f.gotPreferred = params.Preferred
	f.gotFormat = params.Format
	f.gotCaps = params.Caps
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	path := params.OutBase + ".mp4"
	if err := os.WriteFile(path, f.fileBytes, 0o644); err != nil {
		return nil, err
	}
	return &domain.FetchedFile{
		Path:     path,
		MIMEType: f.fileMIME,
		Filename: f.fileName,
		Size:     int64(len(f.fileBytes)),
	}, nil
}

func newMediaHandler(t *testing.T, ctrl *fakeCtrl) (*MediaHandler, *store.Store) {
	t.Helper()
	st := store.New(t.TempDir(), testLogger())
	if err := st.EnsureDir(); err != nil {
		t.Fatal(err)
	}
	limits := config.LimitsConfig{
		MaxDownloadSizeMB:  10,
		MaxDurationSeconds: 7200,
		DefaultFormat:      "best[ext=mp4]/best",
	}
	h := NewMediaHandler(ctrl, st, limits, 10*time.Millisecond, time.Minute, 2, testLogger())
	return h, st
}

func postJSON(t *testing.T, handlerFn http.HandlerFunc, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/x", bytes.NewReader(raw))
	w := httptest.NewRecorder()
	handlerFn(w, req)
	return w
}

func TestInfo_HappyPath(t *testing.T) {
	ctrl := &fakeCtrl{probeInfo: &domain.MediaInfo{
		Title:      "T1",
		Duration:   600,
		WebpageURL: "https://example.com/watch?v=1",
	}}
	h, _ := newMediaHandler(t, ctrl)

	w := postJSON(t, h.Info, InfoRequest{URL: "https://example.com/watch?v=1"})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp InfoResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Success || resp.Data.Title != "T1" || resp.Data.Duration != 600 {
		t.Errorf("response = %+v", resp)
	}
}

func TestInfo_MissingURL(t *testing.T) {
	h, _ := newMediaHandler(t, &fakeCtrl{})

	w := postJSON(t, h.Info, InfoRequest{})

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestInfo_RelativeURLRejected(t *testing.T) {
	h, _ := newMediaHandler(t, &fakeCtrl{})

	w := postJSON(t, h.Info, InfoRequest{URL: "watch?v=1"})

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestInfo_InvalidJSON(t *testing.T) {
	h, _ := newMediaHandler(t, &fakeCtrl{})

	req := httptest.NewRequest(http.MethodPost, "/api/info", bytes.NewReader([]byte("{not json")))
	w := httptest.NewRecorder()
	h.Info(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestInfo_UnknownProfilePassedThrough(t *testing.T) {
	// The handler does not reject unknown profile names; planning treats
	// them as absent.
	ctrl := &fakeCtrl{probeInfo: &domain.MediaInfo{WebpageURL: "u"}}
	h, _ := newMediaHandler(t, ctrl)

	w := postJSON(t, h.Info, InfoRequest{URL: "https://example.com/v", Profile: "nonsense"})

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if ctrl.gotPreferred != "nonsense" {
		t.Errorf("preferred = %q", ctrl.gotPreferred)
	}
}

func TestInfo_PermanentFailureMapsToStatus(t *testing.T) {
	ctrl := &fakeCtrl{probeErr: &domain.FallbackFailure{
		Reason: domain.FailurePermanent,
		Kind:   domain.KindNotFound,
		Attempts: []domain.AttemptRecord{
			{Profile: "tv", Outcome: domain.OutcomePermanent, Kind: domain.KindNotFound},
		},
	}}
	h, _ := newMediaHandler(t, ctrl)

	w := postJSON(t, h.Info, InfoRequest{URL: "https://example.com/v"})

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}

	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error != "NotFound" {
		t.Errorf("error = %q", resp.Error)
	}
	if len(resp.Attempts) != 1 || resp.Attempts[0].Profile != "tv" {
		t.Errorf("attempts = %+v", resp.Attempts)
	}
}

func TestDownload_HappyPath(t *testing.T) {
	ctrl := &fakeCtrl{
		fileBytes: []byte("binary-video"),
		fileName:  "T2.mp4",
		fileMIME:  "video/mp4",
	}
	h, _ := newMediaHandler(t, ctrl)

	w := postJSON(t, h.Download, DownloadRequest{URL: "https://example.com/v"})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Content-Type"); got != "video/mp4" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := w.Header().Get("Content-Disposition"); got != `attachment; filename="T2.mp4"` {
		t.Errorf("Content-Disposition = %q", got)
	}
	if got := w.Header().Get("Content-Length"); got != "12" {
		t.Errorf("Content-Length = %q", got)
	}
	if w.Body.String() != "binary-video" {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestDownload_SchedulesEagerDeletion(t *testing.T) {
	ctrl := &fakeCtrl{fileBytes: []byte("x"), fileName: "v.mp4", fileMIME: "video/mp4"}
	h, st := newMediaHandler(t, ctrl)

	w := postJSON(t, h.Download, DownloadRequest{URL: "https://example.com/v"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		entries, err := os.ReadDir(st.Dir())
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("fetched file was not eagerly deleted")
}

func TestDownload_TooLargeLeavesNoFile(t *testing.T) {
	ctrl := &fakeCtrl{fetchErr: &domain.FallbackFailure{
		Reason: domain.FailurePermanent,
		Kind:   domain.KindTooLarge,
		Attempts: []domain.AttemptRecord{
			{Profile: "tv", Outcome: domain.OutcomePermanent, Kind: domain.KindTooLarge},
		},
	}}
	h, st := newMediaHandler(t, ctrl)

	w := postJSON(t, h.Download, DownloadRequest{URL: "https://example.com/v"})

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", w.Code)
	}

	entries, err := os.ReadDir(st.Dir())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("store should hold no file after a failed fetch, found %d", len(entries))
	}
}

func TestDownload_DurationCapOnlyTightens(t *testing.T) {
	tests := []struct {
		name    string
		reqCap  int
		wantCap int
	}{
		{name: "lower request cap wins", reqCap: 600, wantCap: 600},
		{name: "higher request cap ignored", reqCap: 99999, wantCap: 7200},
		{name: "absent request cap keeps configured", reqCap: 0, wantCap: 7200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := &fakeCtrl{fileBytes: []byte("x"), fileName: "v.mp4", fileMIME: "video/mp4"}
			h, _ := newMediaHandler(t, ctrl)

			w := postJSON(t, h.Download, DownloadRequest{
				URL:                "https://example.com/v",
				MaxDurationSeconds: tt.reqCap,
			})
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d", w.Code)
			}
			if ctrl.gotCaps.MaxDurationSeconds != tt.wantCap {
				t.Errorf("duration cap = %d, want %d", ctrl.gotCaps.MaxDurationSeconds, tt.wantCap)
			}
		})
	}
}

func TestDownload_DefaultFormatApplied(t *testing.T) {
	ctrl := &fakeCtrl{fileBytes: []byte("x"), fileName: "v.mp4", fileMIME: "video/mp4"}
	h, _ := newMediaHandler(t, ctrl)

	w := postJSON(t, h.Download, DownloadRequest{URL: "https://example.com/v"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ctrl.gotFormat != "best[ext=mp4]/best" {
		t.Errorf("format = %q", ctrl.gotFormat)
	}
}

func TestDownload_ExhaustedMapsTo502(t *testing.T) {
	ctrl := &fakeCtrl{fetchErr: &domain.FallbackFailure{
		Reason: domain.FailureExhausted,
		Kind:   domain.KindUnavailable,
		Attempts: []domain.AttemptRecord{
			{Profile: "tv", Outcome: domain.OutcomeTransient, Kind: domain.KindBotChallenge},
			{Profile: "ios", Outcome: domain.OutcomeTransient, Kind: domain.KindUnavailable},
		},
	}}
	h, _ := newMediaHandler(t, ctrl)

	w := postJSON(t, h.Download, DownloadRequest{URL: "https://example.com/v"})

	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}

	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Attempts) != 2 {
		t.Errorf("attempts = %+v, want both enumerated", resp.Attempts)
	}
}

func TestStream_DeliversBody(t *testing.T) {
	ctrl := &fakeCtrl{
		fileBytes: []byte("streamed-bytes"),
		fileName:  "s.mp4",
		fileMIME:  "video/mp4",
	}
	h, _ := newMediaHandler(t, ctrl)

	w := postJSON(t, h.Stream, DownloadRequest{URL: "https://example.com/v"})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if w.Body.String() != "streamed-bytes" {
		t.Errorf("body = %q", w.Body.String())
	}
	// Chunked delivery declares no length up front.
	if got := w.Header().Get("Content-Length"); got != "" {
		t.Errorf("Content-Length = %q, want unset", got)
	}
}
