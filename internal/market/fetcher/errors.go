package fetcher

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	// KindRateLimited is an HTTP 429 from the upstream.
	KindRateLimited ErrorKind = "rate_limited"
	// KindNetwork covers no response at all: dial errors, timeouts, cancelled waits.
	KindNetwork ErrorKind = "network_error"
	// KindUpstream is any other non-2xx status.
	KindUpstream ErrorKind = "upstream_error"
	// KindMalformed is a 2xx whose body is not the expected JSON.
	KindMalformed ErrorKind = "malformed_response"
)

type FetchError struct {
	Kind     ErrorKind
	Status   int
	Endpoint string
	Err      error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetcher error: %s %s", e.Kind, e.Endpoint)
	if e.Status != 0 {
		msg += fmt.Sprintf(" status=%d", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// KindOf extracts the classification of err, if it carries one.
func KindOf(err error) (ErrorKind, bool) {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return "", false
}

func IsRateLimited(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindRateLimited
}

func IsNetwork(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindNetwork
}

func classifyStatus(status int) (ErrorKind, bool) {
	switch {
	case status == 429:
		return KindRateLimited, true
	case status < 200 || status >= 300:
		return KindUpstream, true
	default:
		return "", false
	}
}
