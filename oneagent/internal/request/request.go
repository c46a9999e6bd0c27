// Copyright (C) 2017 Librato, Inc. All rights reserved.

// Package request performs the blocking HTTP call the loader needs to
// discover its credentials. The call is either done in-process (Client) or
// delegated to a short-lived worker process (Spawner) which speaks a
// JSON protocol on its standard input and output (Serve).
package request

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// Default timeouts
const (
	DefaultTotalTimeout   = 20 * time.Second
	DefaultRequestTimeout = 5 * time.Second
)

// Fetcher performs a single HTTP request and blocks until the response body
// is read completely.
type Fetcher interface {
	Fetch(ctx context.Context, method, url string) (*Response, error)
}

// Request is the message written to the worker's standard input.
type Request struct {
	Method  string  `json:"method"`
	URL     string  `json:"url"`
	Options Options `json:"options"`
}

// Options are the request options in milliseconds.
type Options struct {
	Timeout            int64 `json:"timeout"`
	SocketTimeout      int64 `json:"socketTimeout"`
	InsecureSkipVerify bool  `json:"insecureSkipVerify,omitempty"`
}

// Response is the outcome of a request which reached the server.
type Response struct {
	StatusCode int               `json:"statusCode"`
	Headers    map[string]string `json:"headers,omitempty"`
	URL        string            `json:"url,omitempty"`
	Body       string            `json:"body"`
}

// OK reports if the status code is 2xx.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// result is the message the worker writes to its standard output.
type result struct {
	Success  bool      `json:"success"`
	Response *Response `json:"response,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// Do runs the fetcher and blocks until it returns or the timeout expires.
func Do(ctx context.Context, f Fetcher, timeout time.Duration, method, url string) (*Response, error) {
	if timeout <= 0 {
		timeout = DefaultTotalTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := f.Fetch(ctx, method, url)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.Wrapf(err, "request timed out after %v", timeout)
		}
		return nil, err
	}
	return resp, nil
}

func millis(d time.Duration) int64 {
	return d.Milliseconds()
}

func duration(ms int64, fallback time.Duration) time.Duration {
	if ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}
