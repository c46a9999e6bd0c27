// Copyright (C) 2017 Librato, Inc. All rights reserved.

// Command oneagent-resolve prints the habitat and the agent options the
// loader would use in the current environment, without loading the agent.
// The tenant token is masked.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v2"

	"github.com/dynatrace/oneagent-loader-go/oneagent"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	var opts oneagent.Options
	var output, worker, logLevel string
	var insecure bool
	var requestTimeout, totalTimeout time.Duration

	flagSet := pflag.NewFlagSet("oneagent-resolve", pflag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagSet.StringVar(&opts.Tenant, "tenant", "", "tenant (legacy name of the environment ID)")
	flagSet.StringVar(&opts.EnvironmentID, "environment-id", "", "environment ID")
	flagSet.StringVar(&opts.APIToken, "api-token", "", "API token used to discover the tenant token")
	flagSet.StringVar(&opts.APIURL, "api-url", "", "base URL of the API, used as is")
	flagSet.StringVar(&opts.Endpoint, "endpoint", "", "communication endpoint")
	flagSet.StringVar(&opts.Server, "server", "", "server address")
	flagSet.StringVar(&opts.TenantToken, "tenant-token", "", "tenant token, no discovery is done if set")
	flagSet.StringVarP(&output, "output", "o", "json", "output format: json or yaml")
	flagSet.StringVar(&worker, "request-worker", "", "path of the request worker binary")
	flagSet.BoolVar(&insecure, "insecure-skip-verify", false, "relax the certificate check for non-Dynatrace servers")
	flagSet.DurationVar(&requestTimeout, "request-timeout", 5*time.Second, "timeout of the discovery request")
	flagSet.DurationVar(&totalTimeout, "total-timeout", 20*time.Second, "timeout of the whole discovery")
	flagSet.StringVar(&logLevel, "log-level", "", "log level: DEBUG, INFO, WARN or ERROR")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			printHelp(stdout, flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(stdout, flagSet)
		return nil
	}
	if flagSet.NArg() > 0 {
		return errors.Errorf("unexpected argument: %s", flagSet.Arg(0))
	}
	if output != "json" && output != "yaml" {
		return errors.Errorf("unknown output format: %s", output)
	}
	if logLevel != "" {
		if err := oneagent.SetLogLevel(logLevel); err != nil {
			return errors.Wrap(err, logLevel)
		}
	}

	// explicit options only if one of the option flags is set
	var explicit *oneagent.Options
	if !opts.IsZero() {
		explicit = &opts
	}

	lopts := []oneagent.LoadOption{
		oneagent.WithEnvironment(oneagent.SnapshotEnvironment()),
	}
	if flagSet.Changed("request-timeout") || flagSet.Changed("total-timeout") {
		lopts = append(lopts, oneagent.WithTimeouts(requestTimeout, totalTimeout))
	}
	if worker != "" {
		lopts = append(lopts, oneagent.WithRequestWorker(worker))
	}
	if insecure {
		lopts = append(lopts, oneagent.WithInsecureSkipVerify(true))
	}

	res, err := oneagent.Resolve(context.Background(), explicit, lopts...)
	if err != nil {
		return err
	}
	res.Options = res.Options.Masked()
	return writeResult(stdout, output, res)
}

func writeResult(w io.Writer, format string, res *oneagent.Resolution) error {
	var data []byte
	var err error
	switch format {
	case "yaml":
		data, err = yaml.Marshal(res)
	default:
		data, err = json.MarshalIndent(res, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return errors.Wrap(err, "failed to encode result")
	}
	_, err = w.Write(data)
	return err
}

func printHelp(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(w, `oneagent-resolve prints the habitat and the agent options the loader would
use in the current environment. Without option flags the options are taken
from the environment of the detected platform.

Usage:
  oneagent-resolve [flags]

Flags:
%s`, flagSet.FlagUsages())
}
