// Copyright (C) 2017 Librato, Inc. All rights reserved.

package oneagent

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dynatrace/oneagent-loader-go/oneagent/internal/environ"
	"github.com/dynatrace/oneagent-loader-go/oneagent/internal/request"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// recorder is a Factory remembering the options it was called with.
type recorder struct {
	opts  []AgentOptions
	agent Agent
	err   error
}

func (r *recorder) New(opts AgentOptions) (Agent, error) {
	r.opts = append(r.opts, opts)
	if r.err != nil {
		return nil, r.err
	}
	if r.agent != nil {
		return r.agent, nil
	}
	return "agent", nil
}

type proxyAgent struct {
	keys []string
}

func (p *proxyAgent) Lookup(key string) (interface{}, error) {
	p.keys = append(p.keys, key)
	return map[string]interface{}{"handler": "wrapped"}, nil
}

type versionedAgent struct {
	proxyAgent
	version string
}

func (v *versionedAgent) Version() string { return v.version }

// setup resets the load guard and the log level for a test
func setup(t *testing.T) {
	loaded.Store(false)
	lvl := GetLogLevel()
	require.NoError(t, SetLogLevel("WARN"))
	t.Cleanup(func() {
		loaded.Store(false)
		SetLogLevel(lvl)
	})
}

func discoveryServer(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("Api-Token") {
		case "good":
			fmt.Fprint(w, `{"tenantToken":"discovered","communicationEndpoints":["https://a/communication","https://b/communication"]}`)
		case "empty":
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestLoadDirect(t *testing.T) {
	setup(t)
	env := environ.NewMap(map[string]string{"DYNO": "web.1", "HEROKU_APP_NAME": "shop"})
	f := &recorder{}

	a, err := Load(&Options{Tenant: "abc12345", TenantToken: "tt", Server: "https://s"},
		WithFactory(f), WithEnvironment(env))
	require.NoError(t, err)
	assert.Equal(t, "agent", a)
	require.Len(t, f.opts, 1)
	assert.Equal(t, AgentOptions{
		Server:      "https://s",
		Tenant:      "abc12345",
		TenantToken: "tt",
		LogLevelCon: "none",
	}, f.opts[0])

	// explicit options win, the Heroku variables are not set
	assert.False(t, environ.Has(env, "DT_CLUSTER_ID"))
	assert.False(t, environ.Has(env, "DT_VOLATILEPROCESSGROUP"))
}

func TestLoadOnce(t *testing.T) {
	setup(t)
	env := environ.NewMap(nil)
	opts := &Options{Tenant: "abc12345", TenantToken: "tt"}

	// a failed load doesn't count
	_, err := Load(opts, WithFactory(&recorder{err: errors.New("boom")}), WithEnvironment(env))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	_, err = Load(opts, WithFactory(&recorder{}), WithEnvironment(env))
	require.NoError(t, err)

	_, err = Load(opts, WithFactory(&recorder{}), WithEnvironment(env))
	assert.Equal(t, ErrAlreadyLoaded, err)
}

func TestLoadNoFactory(t *testing.T) {
	setup(t)
	factoryMu.RLock()
	registered := defaultFactory != nil
	factoryMu.RUnlock()
	if registered {
		t.Skip("a factory is registered")
	}
	_, err := Load(&Options{Tenant: "abc12345", TenantToken: "tt"}, WithEnvironment(environ.NewMap(nil)))
	assert.Equal(t, ErrNoFactory, err)
}

func TestLoadDiscovery(t *testing.T) {
	setup(t)
	srv := discoveryServer(t)
	f := &recorder{}

	_, err := Load(&Options{EnvironmentID: "diy98765", APIToken: "good", APIURL: srv.URL + "/api"},
		WithFactory(f), WithEnvironment(environ.NewMap(nil)))
	require.NoError(t, err)
	assert.Equal(t, AgentOptions{
		Server:      "https://a/communication;https://b/communication",
		Tenant:      "diy98765",
		TenantToken: "discovered",
		LogLevelCon: "none",
	}, f.opts[0])
}

func TestLoadDiscoveryErrors(t *testing.T) {
	setup(t)
	srv := discoveryServer(t)

	for _, token := range []string{"bad", "empty"} {
		f := &recorder{}
		_, err := Load(&Options{EnvironmentID: "diy98765", APIToken: token, APIURL: srv.URL + "/api"},
			WithFactory(f), WithEnvironment(environ.NewMap(nil)))
		require.Error(t, err, token)

		var de *DiscoveryError
		require.True(t, errors.As(err, &de), token)
		assert.Equal(t, srv.URL+"/api/v1/deployment/installer/agent/connectioninfo", de.URL)
		assert.Empty(t, f.opts, "the agent must not be created")
	}
}

func TestLoadCloudFoundry(t *testing.T) {
	setup(t)
	env := environ.NewMap(map[string]string{
		"VCAP_APPLICATION":  `{"application_name":"shop"}`,
		"VCAP_SERVICES":     `{"user-provided":[{"name":"monitoring","tags":["dynatrace"],"credentials":{"tenant":"abc12345","tenanttoken":"tt","server":"https://cf/communication"}}]}`,
		"CF_INSTANCE_INDEX": "2",
		"DYNO":              "ignored",
	})
	f := &recorder{}

	_, err := Load(nil, WithFactory(f), WithEnvironment(env))
	require.NoError(t, err)
	assert.Equal(t, AgentOptions{
		Server:      "https://cf/communication",
		Tenant:      "abc12345",
		TenantToken: "tt",
		LogLevelCon: "none",
	}, f.opts[0])
	assert.Equal(t, "shop", environ.Get(env, "DT_APPLICATIONID"))
	assert.Equal(t, "shop_2", environ.Get(env, "DT_HOST_ID"))
	assert.Equal(t, "true", environ.Get(env, "DT_IGNOREDYNAMICPORT"))
}

func TestLoadHeroku(t *testing.T) {
	setup(t)
	srv := discoveryServer(t)
	env := environ.NewMap(map[string]string{
		"DYNO":                "web.1",
		"HEROKU_APP_NAME":     "shop",
		"DT_ONEAGENT_OPTIONS": `{"environmentid":"diy98765","apitoken":"good","apiurl":"` + srv.URL + `/api"}`,
	})
	f := &recorder{}

	_, err := Load(nil, WithFactory(f), WithEnvironment(env))
	require.NoError(t, err)
	assert.Equal(t, "discovered", f.opts[0].TenantToken)
	assert.Equal(t, "shop", environ.Get(env, "DT_CLUSTER_ID"))
	assert.Equal(t, "shop", environ.Get(env, "DT_APPLICATIONID"))
	assert.Equal(t, "true", environ.Get(env, "DT_VOLATILEPROCESSGROUP"))
}

func TestLoadNoCredentials(t *testing.T) {
	setup(t)
	tests := []map[string]string{
		nil,
		{"DYNO": "web.1"},
		{"VCAP_APPLICATION": `{}`, "VCAP_SERVICES": `{"mysql":[{"name":"db"}]}`},
		{"VCAP_APPLICATION": `{}`, "VCAP_SERVICES": `not json`},
	}
	for _, vars := range tests {
		_, err := Load(nil, WithFactory(&recorder{}), WithEnvironment(environ.NewMap(vars)))
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrNoCredentials), err.Error())
	}

	// a tenant without a token
	_, err := Load(&Options{Tenant: "abc12345"}, WithFactory(&recorder{}), WithEnvironment(environ.NewMap(nil)))
	assert.True(t, errors.Is(err, ErrNoCredentials))
}

func lambdaEnv() *environ.Map {
	return environ.NewMap(map[string]string{
		"AWS_LAMBDA_FUNCTION_NAME":        "fn",
		"AWS_LAMBDA_FUNCTION_MEMORY_SIZE": "128",
		"DT_TENANT":                       "abc12345",
		"DT_TENANTTOKEN":                  "tt",
	})
}

func TestLoadLambda(t *testing.T) {
	setup(t)

	_, err := Load(nil, WithFactory(&recorder{}), WithEnvironment(lambdaEnv()))
	assert.True(t, errors.Is(err, ErrHostMismatch))

	_, err = Load(nil, WithFactory(&recorder{agent: &versionedAgent{version: "0.9.1"}}), WithEnvironment(lambdaEnv()))
	assert.True(t, errors.Is(err, ErrHostMismatch))

	_, err = Load(nil, WithFactory(&recorder{agent: &versionedAgent{version: "garbage"}}), WithEnvironment(lambdaEnv()))
	assert.True(t, errors.Is(err, ErrHostMismatch))

	env := lambdaEnv()
	f := &recorder{agent: &versionedAgent{version: "1.2.3"}}
	a, err := Load(nil, WithFactory(f), WithEnvironment(env))
	require.NoError(t, err)
	assert.Equal(t, "abc12345", f.opts[0].Tenant)
	assert.Equal(t, "fn", environ.Get(env, "DT_HOST_ID"))
	assert.NotEmpty(t, environ.Get(env, "DT_NODE_ID"))

	loaded.Store(false)
	a, err = Load(nil, WithFactory(&recorder{agent: &proxyAgent{}}), WithEnvironment(lambdaEnv()))
	require.NoError(t, err)
	assert.IsType(t, &proxyAgent{}, a)
}

func TestResolveHandler(t *testing.T) {
	env := environ.NewMap(map[string]string{"_HANDLER": "agent.handler"})
	assert.Equal(t, "agent.handler", LambdaHandlerSpec(env))
	require.NoError(t, env.Set(EnvLambdaHandler, "lib/index.handler"))
	assert.Equal(t, "lib/index.handler", LambdaHandlerSpec(env))

	p := &proxyAgent{}
	h, err := ResolveHandler(p, env, "lib/index.foo.handler")
	require.NoError(t, err)
	assert.Equal(t, "wrapped", h)
	assert.Equal(t, []string{"lib/index$foo"}, p.keys)
	assert.Equal(t, "agent.handler", environ.Get(env, "_HANDLER"))

	_, err = ResolveHandler("not a proxy", env, "index.handler")
	assert.True(t, errors.Is(err, ErrHostMismatch))

	_, err = ResolveHandler(p, env, "index")
	assert.True(t, errors.Is(err, ErrNoExport))
}

func TestResolve(t *testing.T) {
	env := environ.NewMap(map[string]string{"DYNO": "web.1", "DT_TENANT": "abc12345", "DT_TENANTTOKEN": "tt"})
	res, err := Resolve(context.Background(), nil, WithEnvironment(env))
	require.NoError(t, err)
	assert.Equal(t, "heroku", res.Habitat)
	assert.Equal(t, "legacy", res.Source)
	assert.Equal(t, "https://abc12345.live.dynatrace.com", res.Options.Server)
	assert.Equal(t, map[string]string{
		"DT_VOLATILEPROCESSGROUP": "true",
		"DT_IGNOREDYNAMICPORT":    "true",
	}, res.Exports)
	assert.False(t, loaded.Load())
}

type fetcherFunc func(ctx context.Context, method, url string) (*request.Response, error)

func (f fetcherFunc) Fetch(ctx context.Context, method, url string) (*request.Response, error) {
	return f(ctx, method, url)
}

func TestResolveWithFetcher(t *testing.T) {
	var requested string
	f := fetcherFunc(func(ctx context.Context, method, url string) (*request.Response, error) {
		requested = url
		return &request.Response{StatusCode: 200, Body: `{"tenantToken":"tt"}`}, nil
	})

	res, err := Resolve(context.Background(), &Options{EnvironmentID: "diy98765", APIToken: "token"},
		WithEnvironment(environ.NewMap(nil)), withFetcher(f))
	require.NoError(t, err)
	assert.Equal(t, "https://diy98765.live.dynatrace.com/api/v1/deployment/installer/agent/connectioninfo?Api-Token=token", requested)
	assert.Equal(t, "discovery", res.Source)
	assert.Equal(t, "https://diy98765.live.dynatrace.com", res.Options.Server)
	assert.Equal(t, "tt", res.Options.TenantToken)
}

func TestLoadSpan(t *testing.T) {
	setup(t)
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	old := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(old)

	_, err := Load(&Options{Tenant: "abc12345", TenantToken: "tt"},
		WithFactory(&recorder{}), WithEnvironment(environ.NewMap(nil)))
	require.NoError(t, err)
	_, err = Load(&Options{Tenant: "abc12345", TenantToken: "tt"},
		WithFactory(&recorder{}), WithEnvironment(environ.NewMap(nil)))
	require.Error(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "oneagent.load", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), attribute.String("oneagent.habitat", "direct"))
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, ErrAlreadyLoaded.Error(), spans[1].Status().Description)
}
