package sandboxbridge

import (
	"io"
	"net/url"
)

// NormalizedRequest is a single logical request against a sandbox API. Endpoint
// is appended verbatim to the adapter's base address.
type NormalizedRequest struct {
	Method    string
	Endpoint  string
	Params    url.Values // query string for GET, form fields for POST
	Files     []File     // switches a POST to multipart/form-data
	Headers   map[string]string
	BasicAuth *BasicAuth
}

// File is one multipart attachment. Content is rewound before every attempt.
type File struct {
	Field    string
	Filename string
	Content  io.ReadSeeker
}

type BasicAuth struct {
	Username string
	Password string
}

type NormalizedResponse struct {
	StatusCode int
	Headers    map[string]string // lower-cased keys, first value only
	Data       []byte
	URL        string
}

type NormalizedRateLimitInfo struct {
	MaxRequests       *int
	RemainingRequests *int
	ResetRequestsAt   *int64
}

// Clone returns a copy whose headers and params can be mutated without
// affecting the original request.
func (r *NormalizedRequest) Clone() *NormalizedRequest {
	c := *r
	if r.Headers != nil {
		c.Headers = make(map[string]string, len(r.Headers))
		for k, v := range r.Headers {
			c.Headers[k] = v
		}
	}
	if r.Params != nil {
		c.Params = make(url.Values, len(r.Params))
		for k, v := range r.Params {
			c.Params[k] = append([]string(nil), v...)
		}
	}
	return &c
}

// SetHeader sets a header, allocating the map if needed.
func (r *NormalizedRequest) SetHeader(key, value string) {
	if r.Headers == nil {
		r.Headers = make(map[string]string)
	}
	r.Headers[key] = value
}

// SetParam sets a parameter, allocating the map if needed.
func (r *NormalizedRequest) SetParam(key, value string) {
	if r.Params == nil {
		r.Params = url.Values{}
	}
	r.Params.Set(key, value)
}

// OK reports whether the status code is in the 2xx range.
func (r *NormalizedResponse) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}
