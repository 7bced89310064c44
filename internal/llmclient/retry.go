package llmclient

import "strings"

// The Streaming LLM Client itself never retries. internal/agent does not
// call these classifiers either: it returns a failed completion to its
// caller on the first error, without a retry.

// IsRateLimitError reports whether err looks like a provider rate limit.
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "rate limit") ||
		strings.Contains(s, "too many requests") ||
		strings.Contains(s, "429") ||
		strings.Contains(s, "overloaded")
}

// IsServerError reports whether err looks like a transient 5xx failure.
func IsServerError(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "500") ||
		strings.Contains(s, "502") ||
		strings.Contains(s, "503") ||
		strings.Contains(s, "504") ||
		strings.Contains(s, "bad gateway") ||
		strings.Contains(s, "service unavailable") ||
		strings.Contains(s, "gateway timeout")
}

// IsRetryable reports whether err is a rate-limit or transient server error.
func IsRetryable(err error) bool {
	return IsRateLimitError(err) || IsServerError(err)
}
