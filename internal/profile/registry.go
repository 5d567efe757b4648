// Package profile enumerates the player-client profiles the extractor can
// impersonate against the upstream site. The set is closed: the upstream
// only recognises these client identities, and each exposes a different
// slice of the format catalogue.
package profile

import (
	"errors"
	"log/slog"
	"strings"
)

// Quality ceilings observed per client.
const (
	QualityHD    = "hd"
	QualitySD360 = "sd-360p"
)

// Spec describes one player-client profile. PlayerClient is the
// impersonation parameter handed to the extractor; the controller never
// interprets it. A profile with RequiresCredentials set is only usable
// when the credential store is populated.
type Spec struct {
	Name                string
	QualityCeiling      string
	RequiresCredentials bool
	PlayerClient        string
}

// ErrNotFound is returned by Get for names outside the closed set.
var ErrNotFound = errors.New("profile not found")

// ErrEmptyOrder is a fatal startup condition: configuration resolved to
// no usable profiles at all.
var ErrEmptyOrder = errors.New("resolved profile order is empty")

var specs = map[string]Spec{
	"tv":      {Name: "tv", QualityCeiling: QualityHD, PlayerClient: "tv"},
	"ios":     {Name: "ios", QualityCeiling: QualityHD, PlayerClient: "ios"},
	"android": {Name: "android", QualityCeiling: QualityHD, PlayerClient: "android"},
	"mweb":    {Name: "mweb", QualityCeiling: QualitySD360, PlayerClient: "mweb"},
	"web":     {Name: "web", QualityCeiling: QualityHD, PlayerClient: "web"},
	// cookies is not a distinct upstream client: it is the default web
	// client with a signed-in identity attached.
	"cookies": {Name: "cookies", QualityCeiling: QualityHD, RequiresCredentials: true},
}

// Registry resolves profile names and owns the configured default order.
type Registry struct {
	order []string
}

// Config controls how the default order is resolved.
type Config struct {
	// Order is the comma-separated preference list.
	Order string
	// Default, when set, is promoted to the front of the order.
	Default string
	// AllowCredential gates credentialled profiles globally. When false
	// they are removed from the order entirely.
	AllowCredential bool
}

// NewRegistry resolves the configured order against the closed profile
// set. Unknown names are ignored with a warning; duplicates keep their
// first occurrence. An empty result is a startup error.
func NewRegistry(cfg Config, logger *slog.Logger) (*Registry, error) {
	names := splitOrder(cfg.Order)
	if cfg.Default != "" {
		names = append([]string{strings.ToLower(strings.TrimSpace(cfg.Default))}, names...)
	}

	seen := make(map[string]bool, len(names))
	var order []string
	for _, name := range names {
		spec, ok := specs[name]
		if !ok {
			logger.Warn("ignoring unknown profile in configuration", "profile", name)
			continue
		}
		if spec.RequiresCredentials && !cfg.AllowCredential {
			logger.Warn("credentialled profile disabled by configuration", "profile", name)
			continue
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		order = append(order, name)
	}

	if len(order) == 0 {
		return nil, ErrEmptyOrder
	}

	return &Registry{order: order}, nil
}

// Get returns the spec for a profile name.
func (r *Registry) Get(name string) (Spec, error) {
	spec, ok := specs[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Spec{}, ErrNotFound
	}
	return spec, nil
}

// DefaultOrder returns the resolved preference order.
func (r *Registry) DefaultOrder() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// List returns the specs of the resolved order, in order.
func (r *Registry) List() []Spec {
	out := make([]Spec, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, specs[name])
	}
	return out
}

func splitOrder(order string) []string {
	var out []string
	for _, part := range strings.Split(order, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		if name != "" {
			out = append(out, name)
		}
	}
	return out
}
