package extractor

import (
	"context"
	"errors"
	"strings"

	"github.com/iconidentify/vidgate/internal/domain"
)

// classifyRule maps an engine stderr phrase to a taxonomy kind. Rules are
// checked in order; the first match wins, so the more specific phrases
// come first (the bot-check message also contains "sign in").
type classifyRule struct {
	phrase string
	kind   domain.Kind
}

var classifyRules = []classifyRule{
	{"sign in to confirm you're not a bot", domain.KindBotChallenge},
	{"sign in to confirm you’re not a bot", domain.KindBotChallenge},
	{"confirm you are not a robot", domain.KindBotChallenge},
	{"captcha", domain.KindBotChallenge},

	{"http error 429", domain.KindThrottled},
	{"too many requests", domain.KindThrottled},
	{"rate-limit", domain.KindThrottled},
	{"rate limited", domain.KindThrottled},

	{"private video", domain.KindNotFound},
	{"video unavailable", domain.KindNotFound},
	{"has been removed", domain.KindNotFound},
	{"video does not exist", domain.KindNotFound},
	{"http error 404", domain.KindNotFound},

	{"not available in your country", domain.KindGeoBlocked},
	{"not made this video available in your country", domain.KindGeoBlocked},
	{"geo restriction", domain.KindGeoBlocked},
	{"geo-restricted", domain.KindGeoBlocked},
	{"blocked it in your country", domain.KindGeoBlocked},

	{"sign in to view", domain.KindAuthRequired},
	{"login required", domain.KindAuthRequired},
	{"age-restricted", domain.KindAuthRequired},
	{"age restricted", domain.KindAuthRequired},
	{"members-only", domain.KindAuthRequired},

	{"requested format is not available", domain.KindBadFormat},
	{"invalid format specification", domain.KindBadFormat},

	{"larger than max-filesize", domain.KindTooLarge},

	{"no space left on device", domain.KindNoSpace},

	{"http error 5", domain.KindUnavailable},
	{"unable to download", domain.KindUnavailable},
	{"connection reset", domain.KindUnavailable},
	{"connection refused", domain.KindUnavailable},
	{"timed out", domain.KindUnavailable},
	{"network", domain.KindUnavailable},
}

// classify translates an engine failure into the taxonomy. Engine noise
// that matches nothing counts as Unavailable so the controller advances;
// an upstream that is misbehaving in a new way is still an upstream that
// another client profile might get past.
func classify(stderr string, err error) *domain.ExtractError {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewExtractError(domain.KindUnavailable, "extraction timed out", err)
	}

	lowered := strings.ToLower(stderr)
	for _, rule := range classifyRules {
		if strings.Contains(lowered, rule.phrase) {
			return domain.NewExtractError(rule.kind, firstLine(stderr), err)
		}
	}

	return domain.NewExtractError(domain.KindUnavailable, firstLine(stderr), err)
}

// firstLine trims engine output to its first meaningful line so internals
// never leak verbatim into responses.
func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			const max = 200
			if len(line) > max {
				line = line[:max]
			}
			return line
		}
	}
	return ""
}
