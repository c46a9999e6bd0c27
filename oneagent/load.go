// Copyright (C) 2017 Librato, Inc. All rights reserved.

package oneagent

import (
	"context"
	"time"

	"github.com/dynatrace/oneagent-loader-go/oneagent/internal/config"
	"github.com/dynatrace/oneagent-loader-go/oneagent/internal/credentials"
	"github.com/dynatrace/oneagent-loader-go/oneagent/internal/environ"
	"github.com/dynatrace/oneagent-loader-go/oneagent/internal/host"
	"github.com/dynatrace/oneagent-loader-go/oneagent/internal/log"
	"github.com/dynatrace/oneagent-loader-go/oneagent/internal/request"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/atomic"
)

const (
	tracerName   = "github.com/dynatrace/oneagent-loader-go/oneagent"
	loadSpanName = "oneagent.load"
)

// loaded is set once an agent has been created in this process
var loaded = atomic.NewBool(false)

type loadOptions struct {
	factory Factory
	env     environ.Environment
	fetcher request.Fetcher
	config  []config.Option
}

// LoadOption customizes a single Load or Resolve.
type LoadOption func(o *loadOptions)

// WithFactory overrides the registered Factory.
func WithFactory(f Factory) LoadOption {
	return func(o *loadOptions) {
		o.factory = f
	}
}

// WithEnvironment replaces the process environment.
func WithEnvironment(env Environment) LoadOption {
	return func(o *loadOptions) {
		o.env = env
	}
}

// WithRequestWorker makes the discovery run in the worker binary at path
// instead of the calling process.
func WithRequestWorker(path string) LoadOption {
	return func(o *loadOptions) {
		o.config = append(o.config, config.WithRequestWorker(path))
	}
}

// WithInsecureSkipVerify relaxes the certificate check of the discovery for
// servers outside the Dynatrace domains.
func WithInsecureSkipVerify(skip bool) LoadOption {
	return func(o *loadOptions) {
		o.config = append(o.config, config.WithInsecureSkipVerify(skip))
	}
}

// WithTimeouts sets the timeout of the discovery request and of the whole
// discovery.
func WithTimeouts(request, total time.Duration) LoadOption {
	return func(o *loadOptions) {
		o.config = append(o.config, config.WithTimeouts(request, total))
	}
}

func withFetcher(f request.Fetcher) LoadOption {
	return func(o *loadOptions) {
		o.fetcher = f
	}
}

func newLoadOptions(opts []LoadOption) *loadOptions {
	lo := &loadOptions{env: environ.OS()}
	for _, opt := range opts {
		opt(lo)
	}
	return lo
}

// Resolution is the outcome of Resolve.
type Resolution struct {
	// Habitat is the detected platform
	Habitat string `json:"habitat" yaml:"habitat"`
	// Source tells if the tenant token was passed or discovered
	Source  string       `json:"source" yaml:"source"`
	Options AgentOptions `json:"options" yaml:"options"`
	// Exports are the variables set for the agent
	Exports map[string]string `json:"exports,omitempty" yaml:"exports,omitempty"`

	habitat host.Habitat
}

// Resolve runs all steps of Load except the creation of the agent: it
// detects the habitat, sets its variables and resolves the credentials.
// A nil opts means the options are taken from the environment.
func Resolve(ctx context.Context, opts *Options, lopts ...LoadOption) (*Resolution, error) {
	return resolve(ctx, opts, newLoadOptions(lopts))
}

func resolve(ctx context.Context, opts *Options, lo *loadOptions) (*Resolution, error) {
	cfg, err := config.NewConfig(lo.env, lo.config...)
	if err != nil {
		return nil, err
	}

	h, err := host.Classify(opts, lo.env)
	if err != nil {
		return nil, err
	}
	exports := h.Exports(lo.env)
	if err := host.Apply(lo.env, exports); err != nil {
		return nil, err
	}

	o, err := h.Options(cfg.GetAgentOptions())
	if err != nil {
		return nil, err
	}
	if !o.HasCredentials() {
		return nil, errors.Wrapf(ErrNoCredentials, "%s options %s", h.Kind(), o)
	}

	fetcher := lo.fetcher
	if fetcher == nil {
		fetcher = newFetcher(cfg)
	}
	r := &credentials.Resolver{Fetcher: fetcher, Timeout: cfg.GetTotalTimeout()}
	creds, err := r.Resolve(ctx, o)
	if err != nil {
		return nil, err
	}
	if creds.TenantToken == "" {
		return nil, errors.Wrapf(ErrNoCredentials, "no tenant token for tenant %q", o.TenantID())
	}

	res := &Resolution{
		Habitat: h.Kind().String(),
		Source:  creds.Source.String(),
		Options: credentials.NewAgentOptions(o, creds, log.Level()),
		Exports: make(map[string]string, len(exports)),
		habitat: h,
	}
	for _, e := range exports {
		res.Exports[e.Name] = e.Value
	}
	return res, nil
}

func newFetcher(cfg *config.Config) request.Fetcher {
	if path := cfg.GetRequestWorker(); path != "" {
		log.Debugf("Using request worker %s", path)
		return &request.Spawner{
			Path:               path,
			RequestTimeout:     cfg.GetRequestTimeout(),
			InsecureSkipVerify: cfg.GetInsecureSkipVerify(),
		}
	}
	return request.NewClient(cfg.GetRequestTimeout(), cfg.GetInsecureSkipVerify())
}

// Load is LoadContext with a background context.
func Load(opts *Options, lopts ...LoadOption) (Agent, error) {
	return LoadContext(context.Background(), opts, lopts...)
}

// LoadContext resolves the agent options and creates the agent with them.
// A nil opts means the options are taken from the environment of the
// detected platform. The agent can be loaded only once per process; a failed
// load can be retried.
func LoadContext(ctx context.Context, opts *Options, lopts ...LoadOption) (agent Agent, err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, loadSpanName,
		trace.WithSpanKind(trace.SpanKindInternal))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if !loaded.CAS(false, true) {
		return nil, ErrAlreadyLoaded
	}
	defer func() {
		if err != nil {
			loaded.Store(false)
		}
	}()

	lo := newLoadOptions(lopts)
	factory := lo.factory
	if factory == nil {
		factory = registeredFactory()
	}
	if factory == nil {
		return nil, ErrNoFactory
	}

	res, err := resolve(ctx, opts, lo)
	if err != nil {
		log.Errorf("Failed to load agent: %v", err)
		return nil, err
	}
	span.SetAttributes(
		attribute.String("oneagent.habitat", res.Habitat),
		attribute.String("oneagent.credentials.source", res.Source),
		attribute.String("oneagent.tenant", res.Options.Tenant),
	)
	log.Debugf("Agent options: %+v", res.Options.Masked())

	agent, err = factory.New(res.Options)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create agent")
	}
	if res.habitat.Kind() == host.KindLambda {
		if err := checkLambdaAgent(agent); err != nil {
			return nil, err
		}
	}
	log.Infof("Agent loaded in %s habitat", res.Habitat)
	return agent, nil
}
