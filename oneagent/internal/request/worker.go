// Copyright (C) 2017 Librato, Inc. All rights reserved.

package request

import (
	"context"
	"encoding/json"
	"io"

	"github.com/dynatrace/oneagent-loader-go/oneagent/internal/log"
	"github.com/pkg/errors"
)

// Serve is the worker side of Spawner: it reads one Request from r, performs
// it and writes the result to w. A failed request is reported in the result;
// the returned error is limited to problems with r and w.
func Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return errors.Wrap(err, "failed to read request")
	}
	log.Debugf("child request, cmd size: %d bytes", len(data))

	var res result
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		res.Error = errors.Wrap(err, "invalid request").Error()
		return writeResult(w, res)
	}

	timeout := duration(req.Options.Timeout, DefaultRequestTimeout)
	if socket := duration(req.Options.SocketTimeout, timeout); socket > timeout {
		timeout = socket
	}
	method := req.Method
	if method == "" {
		method = "GET"
	}

	resp, err := NewClient(timeout, req.Options.InsecureSkipVerify).Fetch(ctx, method, req.URL)
	if err != nil {
		log.Debugf("child request failed: %v", err)
		res.Error = err.Error()
		return writeResult(w, res)
	}

	res.Success = true
	res.Response = resp
	return writeResult(w, res)
}

func writeResult(w io.Writer, res result) error {
	if err := json.NewEncoder(w).Encode(res); err != nil {
		return errors.Wrap(err, "failed to write result")
	}
	return nil
}
