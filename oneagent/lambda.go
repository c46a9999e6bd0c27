// Copyright (C) 2017 Librato, Inc. All rights reserved.

package oneagent

import (
	"github.com/dynatrace/oneagent-loader-go/oneagent/internal/environ"
	"github.com/dynatrace/oneagent-loader-go/oneagent/internal/handler"
	"github.com/hashicorp/go-version"
	"github.com/pkg/errors"
)

const (
	// EnvLambdaHandler names the user handler if the Lambda handler setting
	// points to the agent's own entry point.
	EnvLambdaHandler = "DT_LAMBDA_HANDLER"

	// the oldest agent version able to wrap a handler named by _HANDLER
	lambdaInterceptorConstraint = ">= 1.0.0"
)

// LambdaProxy is implemented by agents able to wrap the user handler in AWS
// Lambda. Lookup is called with "<moduleFilePath>$<export>" and returns the
// wrapped export.
type LambdaProxy interface {
	Lookup(key string) (interface{}, error)
}

// Versioned is implemented by agents reporting their version.
type Versioned interface {
	Version() string
}

// PropertyGetter is implemented by values with nested exports.
type PropertyGetter = handler.PropertyGetter

func checkLambdaAgent(agent Agent) error {
	if _, ok := agent.(LambdaProxy); !ok {
		return errors.Wrapf(ErrHostMismatch, "%T has no handler proxy", agent)
	}
	v, ok := agent.(Versioned)
	if !ok {
		return nil
	}
	ver, err := version.NewVersion(v.Version())
	if err != nil {
		return errors.Wrapf(ErrHostMismatch, "invalid agent version %q", v.Version())
	}
	c, err := version.NewConstraint(lambdaInterceptorConstraint)
	if err != nil {
		return errors.Wrap(err, "invalid version constraint")
	}
	if !c.Check(ver) {
		return errors.Wrapf(ErrHostMismatch, "agent version %s, need %s", ver, lambdaInterceptorConstraint)
	}
	return nil
}

// LambdaHandlerSpec returns the user handler spec: DT_LAMBDA_HANDLER, or
// _HANDLER if it is unset.
func LambdaHandlerSpec(env Environment) string {
	if env == nil {
		env = environ.OS()
	}
	if spec := environ.Get(env, EnvLambdaHandler); spec != "" {
		return spec
	}
	return environ.Get(env, handler.EnvHandler)
}

// ResolveHandler returns the user handler named by spec, wrapped by the
// agent. _HANDLER is changed while the agent loads the handler and restored
// afterwards. A nil env means the process environment.
func ResolveHandler(agent Agent, env Environment, spec string) (interface{}, error) {
	proxy, ok := agent.(LambdaProxy)
	if !ok {
		return nil, errors.Wrapf(ErrHostMismatch, "%T has no handler proxy", agent)
	}
	if env == nil {
		env = environ.OS()
	}
	return handler.Resolve(proxy, env, spec)
}
