// Copyright (c) 2017 Librato, Inc. All rights reserved.

// Package host detects the platform the process runs on (its habitat) and
// the environment variables the agent expects on that platform.
package host

import (
	"fmt"
	"os"

	"github.com/dynatrace/oneagent-loader-go/oneagent/internal/config"
	"github.com/dynatrace/oneagent-loader-go/oneagent/internal/environ"
	"github.com/dynatrace/oneagent-loader-go/oneagent/internal/log"
	"github.com/pkg/errors"
)

// the environment variables the habitat is detected from
const (
	envVcapServices       = "VCAP_SERVICES"
	envVcapApplication    = "VCAP_APPLICATION"
	envCFInstanceIndex    = "CF_INSTANCE_INDEX"
	envDyno               = "DYNO"
	envHerokuAppName      = "HEROKU_APP_NAME"
	envLambdaFunctionName = "AWS_LAMBDA_FUNCTION_NAME"
	envLambdaMemorySize   = "AWS_LAMBDA_FUNCTION_MEMORY_SIZE"
)

// the environment variables read by the agent
const (
	EnvApplicationID        = "DT_APPLICATIONID"
	EnvHostID               = "DT_HOST_ID"
	EnvClusterID            = "DT_CLUSTER_ID"
	EnvIgnoreDynamicPort    = "DT_IGNOREDYNAMICPORT"
	EnvVolatileProcessGroup = "DT_VOLATILEPROCESSGROUP"
	EnvNodeID               = "DT_NODE_ID"
)

// Kind is the type of a habitat.
type Kind int

const (
	KindDirect Kind = iota
	KindLambda
	KindCloudFoundry
	KindHeroku
)

func (k Kind) String() string {
	switch k {
	case KindDirect:
		return "direct"
	case KindLambda:
		return "lambda"
	case KindCloudFoundry:
		return "cloudfoundry"
	case KindHeroku:
		return "heroku"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Export is an environment variable set for the agent.
type Export struct {
	Name  string
	Value string
}

// Habitat is the detected platform. The implementations are Direct, Lambda,
// CloudFoundry and Heroku.
type Habitat interface {
	Kind() Kind
	// Options returns the connection options for this habitat. envOpts are
	// the options loaded from the environment and the configuration file.
	Options(envOpts config.Options) (config.Options, error)
	// Exports returns the variables to set for the agent, in order.
	Exports(env environ.Environment) []Export
}

// Direct is used when the caller passes the options explicitly.
type Direct struct {
	Explicit config.Options
}

func (Direct) Kind() Kind { return KindDirect }

func (d Direct) Options(config.Options) (config.Options, error) { return d.Explicit, nil }

func (Direct) Exports(environ.Environment) []Export { return nil }

// Lambda is an AWS Lambda function.
type Lambda struct {
	FunctionName string
	MemorySize   string
}

func (Lambda) Kind() Kind { return KindLambda }

func (Lambda) Options(envOpts config.Options) (config.Options, error) { return envOpts, nil }

func (l Lambda) Exports(environ.Environment) []Export {
	return []Export{
		{EnvNodeID, Hostname()},
		{EnvHostID, l.FunctionName},
	}
}

// Heroku is a Heroku dyno.
type Heroku struct {
	Dyno string
	// AppName is only set if the dyno metadata is enabled for the app
	AppName string
}

func (Heroku) Kind() Kind { return KindHeroku }

func (Heroku) Options(envOpts config.Options) (config.Options, error) { return envOpts, nil }

func (h Heroku) Exports(environ.Environment) []Export {
	var exports []Export
	if h.AppName != "" {
		exports = append(exports,
			Export{EnvClusterID, h.AppName},
			Export{EnvApplicationID, h.AppName})
	}
	return append(exports,
		Export{EnvVolatileProcessGroup, "true"},
		Export{EnvIgnoreDynamicPort, "true"})
}

// Classify detects the habitat. Explicit options always win; otherwise the
// checks run in the order Lambda, Cloud Foundry, Heroku. ErrNoCredentials is
// returned if none of them matches.
func Classify(explicit *config.Options, env environ.Environment) (Habitat, error) {
	if explicit != nil {
		log.Debug("Using passed in options")
		return Direct{Explicit: *explicit}, nil
	}

	name, mem := environ.Get(env, envLambdaFunctionName), environ.Get(env, envLambdaMemorySize)
	if name != "" && mem != "" {
		log.Debug("AWS Lambda environment detected.")
		return Lambda{FunctionName: name, MemorySize: mem}, nil
	}

	services, application := environ.Get(env, envVcapServices), environ.Get(env, envVcapApplication)
	if services != "" && application != "" {
		log.Debug("Cloud foundry environment detected.")
		return newCloudFoundry(services, application), nil
	}

	if dyno := environ.Get(env, envDyno); dyno != "" {
		log.Debug("Heroku environment detected.")
		return Heroku{Dyno: dyno, AppName: environ.Get(env, envHerokuAppName)}, nil
	}

	return nil, errors.Wrap(config.ErrNoCredentials, "no known habitat detected")
}

// Apply sets the exports in env.
func Apply(env environ.Environment, exports []Export) error {
	for _, e := range exports {
		if err := env.Set(e.Name, e.Value); err != nil {
			return errors.Wrapf(err, "failed to set %s", e.Name)
		}
		log.Debugf("%s=%s", e.Name, e.Value)
	}
	return nil
}

// getHostname is replaced in tests
var getHostname = func() string {
	h, err := os.Hostname()
	if err != nil {
		log.Warningf("Failed to get hostname: %v", err)
		return ""
	}
	return h
}

// getOrFallback runs the function provided, and returns the fallback value if
// the function executed returns an empty string
func getOrFallback(fn func() string, fb string) string {
	if s := fn(); s != "" {
		return s
	}
	return fb
}

// Hostname returns the name of the machine, "localhost" if it's unknown.
func Hostname() string {
	return getOrFallback(getHostname, "localhost")
}
