package rotation

import "strings"

// ErrorKind categorizes diagnostic output from the wrapped agent process.
// The routing layer feeds stderr text through Classify to decide whether a
// failure should trigger MarkFailedAndRotate.
type ErrorKind string

const (
	// ErrorInsufficientQuota indicates the credential's quota or billing
	// allowance is spent.
	ErrorInsufficientQuota ErrorKind = "insufficient_quota"

	// ErrorRateLimit indicates throttling (429-style failures).
	ErrorRateLimit ErrorKind = "rate_limit"

	// ErrorAuth indicates the credential itself was rejected.
	ErrorAuth ErrorKind = "auth_error"

	// ErrorServer indicates an upstream-side failure.
	ErrorServer ErrorKind = "server_error"

	// ErrorNone means no known failure phrase was found.
	ErrorNone ErrorKind = "none"
)

// errorPhrases maps each kind to its trigger phrases. Declaration order is
// the scan order; the first kind with any matching phrase wins.
var errorPhrases = []struct {
	kind    ErrorKind
	phrases []string
}{
	{ErrorInsufficientQuota, []string{"insufficient quota", "quota exceeded", "billing", "usage limit"}},
	{ErrorRateLimit, []string{"rate limit", "too many requests", "throttle"}},
	{ErrorAuth, []string{"authentication", "invalid api key", "unauthorized"}},
	{ErrorServer, []string{"internal server error", "service unavailable", "timeout"}},
}

// Classify matches diagnostic text against the known failure phrases,
// case-insensitively. Empty or unrecognized text classifies as ErrorNone.
func Classify(text string) ErrorKind {
	if text == "" {
		return ErrorNone
	}
	lower := strings.ToLower(text)
	for _, entry := range errorPhrases {
		for _, phrase := range entry.phrases {
			if strings.Contains(lower, phrase) {
				return entry.kind
			}
		}
	}
	return ErrorNone
}

// ShouldRotate reports whether a classified error warrants failing over to
// the next credential. Server errors are upstream-side and transient; the
// credential itself is still presumed good.
func (k ErrorKind) ShouldRotate() bool {
	switch k {
	case ErrorInsufficientQuota, ErrorRateLimit, ErrorAuth:
		return true
	default:
		return false
	}
}
