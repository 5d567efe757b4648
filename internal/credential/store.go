// Package credential holds the optional upstream credential blob in memory
// and materialises it as short-lived files for extractor runs that need a
// signed-in identity. The blob is read once at startup and never mutated.
package credential

import (
	"encoding/base64"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
)

const netscapeHeader = "# Netscape HTTP Cookie File"

// authCookieNames are the upstream session cookies that mark a usable
// signed-in identity. Their absence is a warning, not an error: a bare
// consent cookie still unlocks some restricted content.
var authCookieNames = []string{"SID", "HSID", "SSID", "APISID", "SAPISID", "LOGIN_INFO", "CONSENT"}

// Store keeps the decoded credential text in memory. An empty Store is
// valid and disables credentialled profiles.
type Store struct {
	blob       string
	scratchDir string
	logger     *slog.Logger
}

// Handle is one materialised copy of the credential blob. The file exists
// until Release is called; each concurrent acquisition gets its own copy
// so no file is shared across goroutines.
type Handle struct {
	path string
	once sync.Once
}

// Path returns the on-disk location of this copy.
func (h *Handle) Path() string {
	return h.path
}

// Release unlinks the file. Safe to call more than once.
func (h *Handle) Release() {
	h.once.Do(func() {
		if h.path != "" {
			os.Remove(h.path)
		}
	})
}

// Load decodes the base64 credential blob and prepares the scratch
// directory. Invalid input degrades to an empty store with a warning so
// the service still starts, just without credentialled profiles.
func Load(blobBase64, scratchDir string, logger *slog.Logger) (*Store, error) {
	s := &Store{scratchDir: scratchDir, logger: logger}

	if strings.TrimSpace(blobBase64) == "" {
		return s, nil
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(blobBase64))
	if err != nil {
		logger.Warn("credential blob is not valid base64, credentialled profiles disabled")
		return s, nil
	}
	if !utf8.Valid(raw) || strings.TrimSpace(string(raw)) == "" {
		logger.Warn("credential blob is empty or not text, credentialled profiles disabled")
		return s, nil
	}

	text := string(raw)
	if !strings.HasPrefix(text, netscapeHeader) {
		text = netscapeHeader + "\n# This is a generated file! Do not edit.\n" + text
	}
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}

	if !hasAuthCookie(text) {
		logger.Warn("credential blob carries no recognised session cookies")
	}

	if err := os.MkdirAll(scratchDir, 0o700); err != nil {
		return nil, err
	}

	s.blob = text
	logger.Info("credential store populated")
	return s, nil
}

// IsPopulated reports whether credentialled profiles can be used.
func (s *Store) IsPopulated() bool {
	return s.blob != ""
}

// Acquire writes a fresh owner-only copy of the blob and returns its
// handle. Callers must Release on every exit path.
func (s *Store) Acquire() (*Handle, error) {
	if s.blob == "" {
		return nil, os.ErrNotExist
	}

	path := filepath.Join(s.scratchDir, "cred-"+uuid.New().String()+".txt")
	if err := os.WriteFile(path, []byte(s.blob), 0o600); err != nil {
		return nil, err
	}
	return &Handle{path: path}, nil
}

func hasAuthCookie(text string) bool {
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, "#") || strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 7 {
			continue
		}
		for _, name := range authCookieNames {
			if fields[5] == name {
				return true
			}
		}
	}
	return false
}
