// Copyright (C) 2017 Librato, Inc. All rights reserved.

// Package credentials turns the connection options into the credentials the
// agent authenticates with, discovering the tenant token through the
// connection-info API when only an API token is known.
package credentials

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/dynatrace/oneagent-loader-go/oneagent/internal/config"
	"github.com/dynatrace/oneagent-loader-go/oneagent/internal/log"
	"github.com/dynatrace/oneagent-loader-go/oneagent/internal/request"
	"github.com/pkg/errors"
)

const (
	// DefaultDomain is appended to the tenant to address the SaaS cluster
	DefaultDomain = ".live.dynatrace.com"

	connectionInfoPath = "/v1/deployment/installer/agent/connectioninfo"
)

// Source tells where the tenant token of Credentials comes from.
type Source int

const (
	// SourceLegacy means the token was part of the input options
	SourceLegacy Source = iota
	// SourceDiscovery means the token was fetched from the API
	SourceDiscovery
)

func (s Source) String() string {
	switch s {
	case SourceLegacy:
		return "legacy"
	case SourceDiscovery:
		return "discovery"
	default:
		return fmt.Sprintf("Source(%d)", int(s))
	}
}

// Credentials are what the agent authenticates with.
type Credentials struct {
	Source                 Source
	TenantToken            string
	CommunicationEndpoints []string
}

// DiscoveryError is returned for every failure of the connection-info call.
type DiscoveryError struct {
	// URL is the attempted URL without the API token
	URL string
	// StatusCode is set if the server responded
	StatusCode int
	Err        error
}

func (e *DiscoveryError) Error() string {
	msg := "failed fetching credentials from " + e.URL
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(", statusCode: %d", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *DiscoveryError) Unwrap() error { return e.Err }

// connectionInfo is the response of the connection-info API.
type connectionInfo struct {
	TenantToken            string   `json:"tenantToken"`
	CommunicationEndpoints []string `json:"communicationEndpoints"`
}

// Resolver resolves options into credentials.
type Resolver struct {
	Fetcher request.Fetcher
	// Timeout bounds the whole discovery, request.DefaultTotalTimeout if zero
	Timeout time.Duration
}

// DefaultServer returns the SaaS address of the tenant.
func DefaultServer(tenant string) string {
	return "https://" + tenant + DefaultDomain
}

// Server returns the address the agent connects to if the API doesn't
// provide communication endpoints.
func Server(o config.Options) string {
	if o.Endpoint != "" {
		return o.Endpoint
	}
	if o.Server != "" {
		return o.Server
	}
	return DefaultServer(o.TenantID())
}

// APIBaseURL returns the base URL of the REST API. An explicit API URL is
// used unmodified; otherwise it is derived from the server address.
func APIBaseURL(o config.Options) string {
	if o.APIURL != "" {
		log.Debugf("Using provided API url %s", o.APIURL)
		return o.APIURL
	}
	base := Server(o)
	for _, s := range []string{"/communication", ":8443", ":443"} {
		base = strings.Replace(base, s, "", 1)
	}
	return base + "/api"
}

// ConnectionInfoURL returns the discovery URL without the API token.
func ConnectionInfoURL(o config.Options) string {
	return APIBaseURL(o) + connectionInfoPath
}

// Resolve returns the credentials for o. The connection-info API is called
// only if o has an API token and a tenant; otherwise the token of o is
// returned as is.
func (r *Resolver) Resolve(ctx context.Context, o config.Options) (Credentials, error) {
	if !o.NeedsDiscovery() {
		log.Debug("No API token found - using legacy authentication")
		return Credentials{
			Source:                 SourceLegacy,
			TenantToken:            o.TenantToken,
			CommunicationEndpoints: o.CommunicationEndpoints,
		}, nil
	}

	baseURL := ConnectionInfoURL(o)
	log.Debugf("Trying to discover credentials from: %s", baseURL)

	resp, err := request.Do(ctx, r.Fetcher, r.Timeout, "GET", baseURL+"?Api-Token="+url.QueryEscape(o.APIToken))
	if err != nil {
		return Credentials{}, &DiscoveryError{URL: baseURL, Err: redact(err, o.APIToken)}
	}
	if !resp.OK() || resp.Body == "" {
		log.Debugf("Failed fetching credentials, statusCode: %d", resp.StatusCode)
		return Credentials{}, &DiscoveryError{URL: baseURL, StatusCode: resp.StatusCode}
	}

	info, err := parseConnectionInfo([]byte(resp.Body))
	if err != nil {
		return Credentials{}, &DiscoveryError{URL: baseURL, StatusCode: resp.StatusCode, Err: err}
	}
	log.Debugf("Got credentials from: %s", baseURL)

	return Credentials{
		Source:                 SourceDiscovery,
		TenantToken:            info.TenantToken,
		CommunicationEndpoints: info.CommunicationEndpoints,
	}, nil
}

// parseConnectionInfo decodes the response body. Falsy JSON values are
// rejected as well as objects without a tenant token.
func parseConnectionInfo(body []byte) (*connectionInfo, error) {
	var raw json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, errors.Wrap(err, "error parsing response")
	}
	switch string(bytes.TrimSpace(raw)) {
	case "null", "false", "0", `""`:
		return nil, errors.New("error fetching tenant token: empty response")
	}

	var info connectionInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, errors.Wrap(err, "error parsing response")
	}
	if info.TenantToken == "" {
		return nil, errors.New("error fetching tenant token: no tenantToken in response")
	}
	return &info, nil
}

// redact removes the API token from errors that quote the request URL.
func redact(err error, token string) error {
	if token == "" || !strings.Contains(err.Error(), token) {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), token, "****"))
}
