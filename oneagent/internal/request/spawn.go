// Copyright (C) 2017 Librato, Inc. All rights reserved.

package request

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/dynatrace/oneagent-loader-go/oneagent/internal/log"
	"github.com/pkg/errors"
)

// Spawner delegates the request to a worker process and waits for it to
// exit. The worker reads a Request from its standard input and writes the
// result to its standard output, see Serve.
type Spawner struct {
	// Path is the worker executable
	Path string
	// Args are passed to the worker
	Args []string
	// Env is appended to the environment of the current process
	Env []string
	// Stderr receives the worker's diagnostics, os.Stderr if nil
	Stderr io.Writer

	// RequestTimeout is passed to the worker as connect and socket timeout
	RequestTimeout     time.Duration
	InsecureSkipVerify bool
}

// Fetch implements Fetcher. The worker is killed when ctx is done.
func (s *Spawner) Fetch(ctx context.Context, method, url string) (*Response, error) {
	timeout := s.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	in, err := json.Marshal(Request{
		Method: method,
		URL:    url,
		Options: Options{
			Timeout:            millis(timeout),
			SocketTimeout:      millis(timeout),
			InsecureSkipVerify: s.InsecureSkipVerify,
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode request")
	}

	var stdout bytes.Buffer
	cmd := exec.CommandContext(ctx, s.Path, s.Args...)
	cmd.Stdin = bytes.NewReader(append(in, '\r', '\n'))
	cmd.Stdout = &stdout
	cmd.Stderr = s.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	if len(s.Env) > 0 {
		cmd.Env = append(os.Environ(), s.Env...)
	}

	log.Debugf("spawning %s %v", s.Path, s.Args)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(ctx.Err(), "request worker killed")
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			log.Debugf("request worker failed with status: %d", exitErr.ExitCode())
			return nil, errors.Errorf("request worker failed with status %d", exitErr.ExitCode())
		}
		return nil, err
	}

	log.Debugf("parsing worker output: got %d bytes", stdout.Len())
	var res result
	if err := json.Unmarshal(stdout.Bytes(), &res); err != nil {
		return nil, errors.Wrap(err, "failed to parse worker output")
	}
	if !res.Success {
		if res.Error == "" {
			return nil, errors.New("request failed")
		}
		return nil, errors.New(res.Error)
	}
	if res.Response == nil {
		return nil, errors.New("request worker returned no response")
	}
	return res.Response, nil
}
