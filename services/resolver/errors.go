package resolver

import (
	"errors"
	"fmt"
)

// ErrResolutionFailed is returned once the retry loop gives up on a request.
var ErrResolutionFailed = errors.New("media resolution failed")

// Kind classifies why a single provider attempt did not yield a direct URL.
type Kind string

const (
	KindInvalidIdentifier Kind = "invalid_identifier"
	KindPrivate           Kind = "private"
	KindNotFound          Kind = "not_found"
	KindNotVideo          Kind = "not_video"
	KindRateLimited       Kind = "rate_limited"
	KindProvider          Kind = "provider_error"
	KindNetwork           Kind = "network_error"
	KindEmptyResult       Kind = "empty_result"
)

// Retryable reports whether another attempt can plausibly succeed.
func (k Kind) Retryable() bool {
	switch k {
	case KindInvalidIdentifier, KindPrivate, KindNotFound, KindNotVideo:
		return false
	default:
		return true
	}
}

// Hint is a short message safe to show to end users.
func (k Kind) Hint() string {
	switch k {
	case KindInvalidIdentifier:
		return "The link does not identify a valid post."
	case KindPrivate:
		return "This post is private or requires login."
	case KindNotFound:
		return "This post does not exist or was deleted."
	case KindNotVideo:
		return "This post is not a video."
	case KindRateLimited:
		return "The source is rate limiting requests, try again in a minute."
	default:
		return "Could not fetch this post right now, try again later."
	}
}

// Failure is the typed outcome of an unsuccessful provider attempt.
type Failure struct {
	Kind    Kind
	Message string
	Err     error
}

func (f *Failure) Error() string {
	msg := f.Message
	if msg == "" {
		msg = string(f.Kind)
	}
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, msg, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, msg)
}

func (f *Failure) Unwrap() error { return f.Err }

// FailureKind extracts the failure kind from err, if there is one.
func FailureKind(err error) (Kind, bool) {
	var failure *Failure
	if errors.As(err, &failure) {
		return failure.Kind, true
	}
	return "", false
}

// Hint returns a user-facing explanation for a resolution error.
func Hint(err error) string {
	if kind, ok := FailureKind(err); ok {
		return kind.Hint()
	}
	return KindProvider.Hint()
}
