// Copyright (C) 2017 Librato, Inc. All rights reserved.

// Command oneagent-request-worker performs the credential discovery request
// for a loader configured with DT_LOADER_REQUEST_WORKER. It reads one JSON
// request from the standard input and writes the JSON result to the
// standard output.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dynatrace/oneagent-loader-go/oneagent/worker"
)

func main() {
	if err := worker.Serve(context.Background(), os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
