// Package fallback owns the per-request profile fallback loop: build the
// plan, try each profile through the extractor, classify each failure,
// and decide whether to advance or stop.
package fallback

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/iconidentify/vidgate/internal/credential"
	"github.com/iconidentify/vidgate/internal/domain"
	"github.com/iconidentify/vidgate/internal/extractor"
	"github.com/iconidentify/vidgate/internal/profile"
)

// Config holds controller timing and policy.
type Config struct {
	// ProbeTimeout bounds one metadata attempt.
	ProbeTimeout time.Duration
	// FetchTimeout bounds one download attempt.
	FetchTimeout time.Duration
	// AllowCredential gates credentialled profiles globally.
	AllowCredential bool
}

// Controller runs the fallback loop for one request at a time; it holds
// no per-request state and is safe for concurrent use.
type Controller struct {
	registry *profile.Registry
	creds    *credential.Store
	ext      extractor.Extractor
	cfg      Config
	logger   *slog.Logger
}

// New creates a Controller.
func New(registry *profile.Registry, creds *credential.Store, ext extractor.Extractor, cfg Config, logger *slog.Logger) *Controller {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 2 * time.Minute
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Minute
	}
	return &Controller{
		registry: registry,
		creds:    creds,
		ext:      ext,
		cfg:      cfg,
		logger:   logger,
	}
}

// FetchParams carries one download request through the fallback loop.
type FetchParams struct {
	URL       string
	Preferred string
	Format    string
	OutBase   string
	Caps      domain.FetchCaps
	Progress  extractor.ProgressFunc
}

// BuildPlan assembles the ordered, deduplicated profile sequence for one
// request. A preferred profile goes first; an unknown preferred name is
// treated as absent. Credentialled profiles are dropped when credentials
// are unavailable or gated off.
func (c *Controller) BuildPlan(preferred string) []profile.Spec {
	var plan []profile.Spec
	seen := make(map[string]bool)

	if preferred != "" {
		if spec, err := c.registry.Get(preferred); err == nil {
			if c.usable(spec) {
				plan = append(plan, spec)
			}
			// Known but unusable still counts as seen so it never
			// re-enters via the default order.
			seen[spec.Name] = true
		}
	}

	for _, name := range c.registry.DefaultOrder() {
		if seen[name] {
			continue
		}
		spec, err := c.registry.Get(name)
		if err != nil {
			continue
		}
		if !c.usable(spec) {
			continue
		}
		seen[name] = true
		plan = append(plan, spec)
	}

	return plan
}

func (c *Controller) usable(spec profile.Spec) bool {
	if !spec.RequiresCredentials {
		return true
	}
	return c.cfg.AllowCredential && c.creds.IsPopulated()
}

// RunProbe tries the plan until one profile yields metadata.
func (c *Controller) RunProbe(ctx context.Context, url, preferred string) (*domain.MediaInfo, error) {
	return run(c, ctx, preferred, c.cfg.ProbeTimeout,
		func(ctx context.Context, spec profile.Spec, cred *credential.Handle) (*domain.MediaInfo, error) {
			return c.ext.Probe(ctx, url, spec, cred)
		})
}

// RunFetch tries the plan until one profile yields a downloaded file.
func (c *Controller) RunFetch(ctx context.Context, params FetchParams) (*domain.FetchedFile, error) {
	return run(c, ctx, params.Preferred, c.cfg.FetchTimeout,
		func(ctx context.Context, spec profile.Spec, cred *credential.Handle) (*domain.FetchedFile, error) {
			return c.ext.Fetch(ctx, extractor.FetchRequest{
				URL:      params.URL,
				Profile:  spec,
				Format:   params.Format,
				OutBase:  params.OutBase,
				Caps:     params.Caps,
				Cred:     cred,
				Progress: params.Progress,
			})
		})
}

// run is the fallback loop shared by probe and fetch. Attempts are
// recorded in plan order; elapsed time covers the adapter call only and
// no delay is inserted between attempts.
func run[T any](c *Controller, ctx context.Context, preferred string, timeout time.Duration,
	invoke func(context.Context, profile.Spec, *credential.Handle) (T, error)) (T, error) {

	var zero T

	plan := c.BuildPlan(preferred)
	if len(plan) == 0 {
		return zero, &domain.FallbackFailure{
			Reason: domain.FailurePermanent,
			Kind:   domain.KindNoProfilesAvailable,
		}
	}

	var attempts []domain.AttemptRecord
	lastKind := domain.KindUnavailable

	for _, spec := range plan {
		var cred *credential.Handle
		if spec.RequiresCredentials {
			var err error
			cred, err = c.creds.Acquire()
			if err != nil {
				c.logger.Warn("credential acquisition failed", "profile", spec.Name)
				attempts = append(attempts, domain.AttemptRecord{
					Profile: spec.Name,
					Outcome: domain.OutcomeTransient,
					Kind:    domain.KindAuthRequired,
				})
				lastKind = domain.KindAuthRequired
				continue
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		start := time.Now()
		result, err := invoke(attemptCtx, spec, cred)
		elapsed := time.Since(start)
		cancel()
		if cred != nil {
			cred.Release()
		}

		if err == nil {
			attempts = append(attempts, domain.AttemptRecord{
				Profile: spec.Name,
				Outcome: domain.OutcomeOK,
				Elapsed: elapsed,
			})
			c.logger.Info("fallback succeeded",
				"profile", spec.Name,
				"attempts", len(attempts),
				"elapsed", elapsed,
			)
			return result, nil
		}

		// A dead parent context ends the run: deadline expiry is the
		// request timeout, cancellation is the client going away.
		if ctx.Err() != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return zero, &domain.FallbackFailure{
					Reason:   domain.FailureTimeout,
					Kind:     domain.KindTimeout,
					Attempts: attempts,
				}
			}
			return zero, ctx.Err()
		}

		kind := domain.KindOf(err)
		outcome := domain.KindOutcome(kind)
		lastKind = kind
		attempts = append(attempts, domain.AttemptRecord{
			Profile: spec.Name,
			Outcome: outcome,
			Kind:    kind,
			Elapsed: elapsed,
		})
		c.logger.Info("fallback attempt failed",
			"profile", spec.Name,
			"kind", kind,
			"outcome", outcome,
			"elapsed", elapsed,
		)

		if outcome == domain.OutcomePermanent {
			return zero, &domain.FallbackFailure{
				Reason:   domain.FailurePermanent,
				Kind:     kind,
				Attempts: attempts,
			}
		}
	}

	return zero, &domain.FallbackFailure{
		Reason:   domain.FailureExhausted,
		Kind:     lastKind,
		Attempts: attempts,
	}
}
