// Copyright (C) 2017 Librato, Inc. All rights reserved.

// Package oneagent loads the monitoring agent. It detects the platform the
// process runs on, resolves the credentials of the agent and sets the
// environment variables the agent expects on that platform before the agent
// is created by a registered Factory.
//
//	import "github.com/dynatrace/oneagent-loader-go/oneagent"
//
//	func main() {
//		oneagent.Register(myAgentFactory)
//		if _, err := oneagent.Load(nil); err != nil {
//			log.Fatal(err)
//		}
//		...
//	}
//
// Load without options detects Cloud Foundry, Heroku and AWS Lambda from the
// environment. Outside of these platforms the options are passed explicitly.
package oneagent

import (
	"sync"

	"github.com/dynatrace/oneagent-loader-go/oneagent/internal/config"
	"github.com/dynatrace/oneagent-loader-go/oneagent/internal/credentials"
	"github.com/dynatrace/oneagent-loader-go/oneagent/internal/environ"
	"github.com/dynatrace/oneagent-loader-go/oneagent/internal/handler"
	aolog "github.com/dynatrace/oneagent-loader-go/oneagent/internal/log"
	"github.com/pkg/errors"
)

// Options are the connection options of the agent: a tenant and either a
// tenant token or an API token to discover it.
type Options = config.Options

// AgentOptions is the configuration the Factory creates the agent with.
type AgentOptions = credentials.AgentOptions

// DiscoveryError is returned if the tenant token can't be fetched.
type DiscoveryError = credentials.DiscoveryError

// Environment is where the loader reads the platform variables from and
// writes the agent variables to. The default is the process environment.
type Environment = environ.Environment

// SnapshotEnvironment returns a copy of the process environment. Changes
// made by the loader to the copy don't affect the process.
func SnapshotEnvironment() Environment {
	return environ.Snapshot()
}

var (
	// ErrNoCredentials is returned if no credentials were passed and none
	// could be found in the environment.
	ErrNoCredentials = config.ErrNoCredentials
	// ErrHostMismatch is returned in AWS Lambda if the agent can't wrap the
	// user handler.
	ErrHostMismatch = errors.New("agent does not support the Lambda interceptor")
	// ErrAlreadyLoaded is returned by all but the first successful Load.
	ErrAlreadyLoaded = errors.New("agent already loaded")
	// ErrNoFactory is returned if no Factory is registered or passed.
	ErrNoFactory = errors.New("no agent factory registered")
	// ErrNoExport is returned for a Lambda handler without an export.
	ErrNoExport = handler.ErrNoExport

	errInvalidLogLevel = errors.New("invalid log level")
)

// Agent is the handle returned by the Factory.
type Agent interface{}

// Factory creates the agent.
type Factory interface {
	New(opts AgentOptions) (Agent, error)
}

// FactoryFunc is a function used as Factory.
type FactoryFunc func(opts AgentOptions) (Agent, error)

// New calls f.
func (f FactoryFunc) New(opts AgentOptions) (Agent, error) {
	return f(opts)
}

var (
	factoryMu      sync.RWMutex
	defaultFactory Factory
)

// Register makes f the Factory used by Load. It panics if f is nil or a
// Factory is already registered.
func Register(f Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	if f == nil {
		panic("oneagent: Register factory is nil")
	}
	if defaultFactory != nil {
		panic("oneagent: Register called twice")
	}
	defaultFactory = f
}

func registeredFactory() Factory {
	factoryMu.RLock()
	defer factoryMu.RUnlock()
	return defaultFactory
}

// SetLogLevel changes the logging level of the loader
// Valid logging levels: DEBUG, INFO, WARN, ERROR
func SetLogLevel(level string) error {
	l, ok := aolog.ToLogLevel(level)
	if !ok {
		return errInvalidLogLevel
	}
	aolog.SetLevel(l)
	return nil
}

// GetLogLevel returns the current logging level of the loader
func GetLogLevel() string {
	return aolog.LevelStr[aolog.Level()]
}
