package generator

import "errors"

var (
	ErrUpstreamStatus    = errors.New("upstream returned non-success status")
	ErrMalformedResponse = errors.New("upstream response is not a JSON object")
	ErrNoEndpoint        = errors.New("generator endpoint not configured")
)
