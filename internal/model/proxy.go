// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"net/http"
	"net/url"
)

// FetchRequest is a validated request to fetch a target on the caller's behalf.
type FetchRequest struct {
	Ctx    context.Context
	Target *url.URL
}

// FetchResponse is the raw upstream response returned by the client.
type FetchResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// FetchResult is a successful upstream response with its body fully read.
type FetchResult struct {
	StatusCode  int
	ContentType string
	Body        []byte
}
