// Package extractor wraps the external media-extraction engine behind a
// narrow interface. All engine invocation, output parsing, and error
// translation is confined here; callers only ever see taxonomy kinds.
package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/iconidentify/vidgate/internal/credential"
	"github.com/iconidentify/vidgate/internal/domain"
	"github.com/iconidentify/vidgate/internal/profile"
)

// DefaultFormat is the engine format selector used when a request does
// not name one.
const DefaultFormat = "best[ext=mp4]/best"

const (
	descriptionLimit = 500
	watchInterval    = 250 * time.Millisecond
)

// Extractor is the narrow surface the fallback controller depends on.
type Extractor interface {
	Probe(ctx context.Context, url string, p profile.Spec, cred *credential.Handle) (*domain.MediaInfo, error)
	Fetch(ctx context.Context, req FetchRequest) (*domain.FetchedFile, error)
}

// FetchRequest carries everything one download needs. OutBase is the
// extensionless output path; the engine picks the extension and the
// returned path is authoritative.
type FetchRequest struct {
	URL      string
	Profile  profile.Spec
	Format   string
	OutBase  string
	Caps     domain.FetchCaps
	Cred     *credential.Handle
	Progress ProgressFunc
}

// Config holds adapter settings.
type Config struct {
	BinPath string
}

// Adapter drives the engine binary through a Runner.
type Adapter struct {
	bin    string
	runner Runner
	logger *slog.Logger
}

// NewAdapter creates an Adapter.
func NewAdapter(cfg Config, runner Runner, logger *slog.Logger) *Adapter {
	bin := cfg.BinPath
	if bin == "" {
		bin = "yt-dlp"
	}
	return &Adapter{bin: bin, runner: runner, logger: logger}
}

// probeJSON mirrors the subset of the engine's JSON dump the service
// consumes.
type probeJSON struct {
	Type           string  `json:"_type"`
	Title          string  `json:"title"`
	Duration       float64 `json:"duration"`
	DurationString string  `json:"duration_string"`
	Thumbnail      string  `json:"thumbnail"`
	Uploader       string  `json:"uploader"`
	UploadDate     string  `json:"upload_date"`
	ViewCount      int64   `json:"view_count"`
	Description    string  `json:"description"`
	WebpageURL     string  `json:"webpage_url"`
	Extractor      string  `json:"extractor"`
	FilesizeApprox int64   `json:"filesize_approx"`
	Formats        []struct {
		Filesize int64 `json:"filesize"`
	} `json:"formats"`
	Entries []probeJSON `json:"entries"`
}

// Probe extracts metadata without downloading bytes. Playlist URLs
// resolve to their first entry; an empty playlist is AmbiguousInput.
func (a *Adapter) Probe(ctx context.Context, url string, p profile.Spec, cred *credential.Handle) (*domain.MediaInfo, error) {
	args := []string{"-J", "--no-playlist", "--no-warnings"}
	args = append(args, profileArgs(p, cred)...)
	args = append(args, url)

	stdout, stderr, err := a.runner.Run(ctx, a.bin, args...)
	if err != nil {
		return nil, a.translateRunError(ctx, stderr, err)
	}

	var dump probeJSON
	if err := json.Unmarshal(stdout, &dump); err != nil {
		return nil, domain.NewExtractError(domain.KindInternal, "engine produced unparseable metadata", err)
	}

	if dump.Type == "playlist" || len(dump.Entries) > 0 {
		if len(dump.Entries) == 0 {
			return nil, domain.NewExtractError(domain.KindAmbiguousInput, "playlist has no entries", nil)
		}
		dump = dump.Entries[0]
	}

	return mediaInfoFrom(dump, url), nil
}

// Fetch downloads media to req.OutBase.<ext>, enforcing caps before and
// during the transfer. Partial output is deleted on every failure path.
func (a *Adapter) Fetch(ctx context.Context, req FetchRequest) (*domain.FetchedFile, error) {
	pub := newPublisher(req.Progress)

	file, err := a.fetch(ctx, req, pub)
	if err != nil {
		pub.finish(ProgressEvent{Stage: StageFailed})
		return nil, err
	}

	pub.finish(ProgressEvent{Stage: StageCompleted, Percent: 100})
	return file, nil
}

func (a *Adapter) fetch(ctx context.Context, req FetchRequest, pub *publisher) (*domain.FetchedFile, error) {
	info, err := a.Probe(ctx, req.URL, req.Profile, req.Cred)
	if err != nil {
		return nil, err
	}

	// Caps are enforced before any bytes move. Equality passes.
	if req.Caps.MaxDurationSeconds > 0 && info.Duration > req.Caps.MaxDurationSeconds {
		return nil, domain.NewExtractError(domain.KindTooLong,
			fmt.Sprintf("duration %ds exceeds cap %ds", info.Duration, req.Caps.MaxDurationSeconds), nil)
	}
	if req.Caps.MaxSizeBytes > 0 && info.FilesizeApprox > req.Caps.MaxSizeBytes {
		return nil, domain.NewExtractError(domain.KindTooLarge,
			fmt.Sprintf("approximate size %d exceeds cap %d", info.FilesizeApprox, req.Caps.MaxSizeBytes), nil)
	}

	pub.emit(ProgressEvent{Stage: StageStarted})

	format := req.Format
	if format == "" {
		format = DefaultFormat
	}

	args := []string{
		"-f", format,
		"-o", req.OutBase + ".%(ext)s",
		"--no-playlist",
		"--no-warnings",
		"--no-part",
		"--no-progress",
	}
	if req.Caps.MaxSizeBytes > 0 {
		args = append(args, "--max-filesize", strconv.FormatInt(req.Caps.MaxSizeBytes, 10))
	}
	args = append(args, profileArgs(req.Profile, req.Cred)...)
	args = append(args, req.URL)

	childCtx, cancelChild := context.WithCancel(ctx)
	defer cancelChild()

	var capExceeded atomic.Bool
	watchDone := make(chan struct{})
	go a.watch(childCtx, req.OutBase, info.FilesizeApprox, req.Caps.MaxSizeBytes, pub, &capExceeded, cancelChild, watchDone)

	_, stderr, runErr := a.runner.Run(childCtx, a.bin, args...)

	cancelChild()
	<-watchDone

	if capExceeded.Load() {
		removePartials(req.OutBase)
		return nil, domain.NewExtractError(domain.KindTooLarge, "size cap exceeded during download", nil)
	}
	if ctx.Err() != nil {
		removePartials(req.OutBase)
		return nil, a.translateRunError(ctx, stderr, ctx.Err())
	}
	if runErr != nil {
		removePartials(req.OutBase)
		return nil, classify(string(stderr), runErr)
	}

	path, ok := findOutput(req.OutBase)
	if !ok {
		return nil, domain.NewExtractError(domain.KindInternal, "engine reported success but produced no file", nil)
	}

	stat, err := os.Stat(path)
	if err != nil {
		removePartials(req.OutBase)
		return nil, domain.NewExtractError(domain.KindInternal, "downloaded file vanished", err)
	}
	if req.Caps.MaxSizeBytes > 0 && stat.Size() > req.Caps.MaxSizeBytes {
		removePartials(req.OutBase)
		return nil, domain.NewExtractError(domain.KindTooLarge, "downloaded file exceeds size cap", nil)
	}

	ext := filepath.Ext(path)
	return &domain.FetchedFile{
		Path:     path,
		MIMEType: mimeForExt(ext),
		Filename: sanitiseFilename(info.Title) + ext,
		Size:     stat.Size(),
	}, nil
}

// watch polls the output file, emitting milestone progress and killing
// the engine the moment the size cap is crossed.
func (a *Adapter) watch(ctx context.Context, base string, expected, capBytes int64, pub *publisher, exceeded *atomic.Bool, cancel context.CancelFunc, done chan struct{}) {
	defer close(done)

	var tracker milestoneTracker
	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			total := partialSize(base)
			if capBytes > 0 && total > capBytes {
				exceeded.Store(true)
				cancel()
				return
			}
			if expected > 0 {
				pct := int(total * 100 / expected)
				for _, m := range tracker.advance(pct) {
					pub.emit(ProgressEvent{Stage: StageMilestone, Percent: m})
				}
			}
		}
	}
}

// translateRunError separates caller cancellation (propagated raw so the
// request aborts) from deadline expiry and engine failures (classified).
func (a *Adapter) translateRunError(ctx context.Context, stderr []byte, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return classify(string(stderr), context.DeadlineExceeded)
	}
	return classify(string(stderr), err)
}

func profileArgs(p profile.Spec, cred *credential.Handle) []string {
	var args []string
	if p.PlayerClient != "" {
		args = append(args, "--extractor-args", "youtube:player_client="+p.PlayerClient)
	}
	if p.RequiresCredentials && cred != nil {
		args = append(args, "--cookies", cred.Path())
	}
	return args
}

func mediaInfoFrom(dump probeJSON, url string) *domain.MediaInfo {
	info := &domain.MediaInfo{
		Title:            dump.Title,
		Duration:         int(dump.Duration),
		DurationString:   dump.DurationString,
		Thumbnail:        dump.Thumbnail,
		Uploader:         dump.Uploader,
		UploadDate:       dump.UploadDate,
		ViewCount:        dump.ViewCount,
		Description:      truncate(dump.Description, descriptionLimit),
		WebpageURL:       dump.WebpageURL,
		Extractor:        dump.Extractor,
		FormatsAvailable: len(dump.Formats),
		FilesizeApprox:   dump.FilesizeApprox,
	}
	if info.WebpageURL == "" {
		info.WebpageURL = url
	}

	// Prefer the largest declared format size over the engine's estimate.
	var best int64
	for _, f := range dump.Formats {
		if f.Filesize > best {
			best = f.Filesize
		}
	}
	if best > 0 {
		info.FilesizeApprox = best
	}

	return info
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

func findOutput(base string) (string, bool) {
	matches, err := filepath.Glob(base + ".*")
	if err != nil || len(matches) == 0 {
		return "", false
	}
	return matches[0], true
}

func partialSize(base string) int64 {
	matches, err := filepath.Glob(base + ".*")
	if err != nil {
		return 0
	}
	var total int64
	for _, m := range matches {
		if stat, err := os.Stat(m); err == nil {
			total += stat.Size()
		}
	}
	return total
}

func removePartials(base string) {
	matches, err := filepath.Glob(base + ".*")
	if err != nil {
		return
	}
	for _, m := range matches {
		os.Remove(m)
	}
}

var extMIME = map[string]string{
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
	".m4a":  "audio/mp4",
	".mp3":  "audio/mpeg",
}

func mimeForExt(ext string) string {
	if m, ok := extMIME[strings.ToLower(ext)]; ok {
		return m
	}
	if m := mime.TypeByExtension(ext); m != "" {
		return m
	}
	return "application/octet-stream"
}

// sanitiseFilename makes a title safe for a Content-Disposition filename.
func sanitiseFilename(title string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r == ':' || r == '*' || r == '?' || r == '"' || r == '<' || r == '>' || r == '|':
			return '_'
		case r < 0x20 || r == 0x7f:
			return -1
		default:
			return r
		}
	}, title)

	mapped = strings.Join(strings.Fields(mapped), " ")
	const max = 120
	if len(mapped) > max {
		mapped = mapped[:max]
	}
	mapped = strings.TrimSpace(mapped)
	if mapped == "" {
		return "video"
	}
	return mapped
}
