// Copyright (C) 2017 Librato, Inc. All rights reserved.

package config

import (
	"encoding/json"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// ErrNoCredentials is returned when none of the configuration sources
// provides usable credentials.
var ErrNoCredentials = errors.New("no credentials available")

// Options is the connection input of the loader. It is either supplied by
// the caller, taken from a Cloud Foundry service binding or loaded from the
// environment and the configuration file.
type Options struct {
	// Tenant is the legacy name of the environment ID
	Tenant string `yaml:"tenant,omitempty" env:"DT_TENANT" mapstructure:"tenant" json:"tenant,omitempty"`

	EnvironmentID string `yaml:"environmentid,omitempty" env:"DT_ENVIRONMENTID" mapstructure:"environmentid" json:"environmentid,omitempty"`

	// APIToken enables the discovery of the tenant token
	APIToken string `yaml:"apitoken,omitempty" env:"DT_API_TOKEN" mapstructure:"apitoken" json:"apitoken,omitempty"`

	// APIURL is the base URL of the REST API, used as is
	APIURL string `yaml:"apiurl,omitempty" env:"DT_API_URL" mapstructure:"apiurl" json:"apiurl,omitempty"`

	Endpoint string `yaml:"endpoint,omitempty" env:"DT_ENDPOINT" mapstructure:"endpoint" json:"endpoint,omitempty"`

	Server string `yaml:"server,omitempty" env:"DT_SERVER" mapstructure:"server" json:"server,omitempty"`

	// TenantToken is a ready-to-use credential, no discovery is needed
	TenantToken string `yaml:"tenanttoken,omitempty" env:"DT_TENANTTOKEN" mapstructure:"tenanttoken" json:"tenanttoken,omitempty"`

	CommunicationEndpoints []string `yaml:"communicationEndpoints,omitempty" mapstructure:"communicationEndpoints" json:"communicationEndpoints,omitempty"`
}

// TenantID returns the environment ID, or the legacy tenant if it is unset.
func (o Options) TenantID() string {
	if o.EnvironmentID != "" {
		return o.EnvironmentID
	}
	return o.Tenant
}

// NeedsDiscovery reports if the tenant token has to be fetched from the API.
func (o Options) NeedsDiscovery() bool {
	return o.APIToken != "" && o.TenantID() != ""
}

// HasCredentials reports if the options carry anything the agent can
// authenticate with.
func (o Options) HasCredentials() bool {
	return o.TenantToken != "" || o.NeedsDiscovery()
}

// IsZero reports if no option is set at all.
func (o Options) IsZero() bool {
	return o.Tenant == "" && o.EnvironmentID == "" && o.APIToken == "" &&
		o.APIURL == "" && o.Endpoint == "" && o.Server == "" &&
		o.TenantToken == "" && len(o.CommunicationEndpoints) == 0
}

// String returns the options with the secrets masked.
func (o Options) String() string {
	var s []string
	add := func(k, v string) {
		if v != "" {
			s = append(s, k+"="+v)
		}
	}
	add("tenant", o.Tenant)
	add("environmentid", o.EnvironmentID)
	add("apitoken", MaskToken(o.APIToken))
	add("apiurl", o.APIURL)
	add("endpoint", o.Endpoint)
	add("server", o.Server)
	add("tenanttoken", MaskToken(o.TenantToken))
	add("communicationEndpoints", strings.Join(o.CommunicationEndpoints, ";"))
	return "{" + strings.Join(s, ", ") + "}"
}

// DecodeOptions converts a loosely typed credentials object, e.g. the
// credentials of a service binding, into Options.
func DecodeOptions(input interface{}) (Options, error) {
	var o Options
	err := decodeInto(input, &o)
	return o, err
}

func decodeInto(input interface{}, o *Options) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           o,
	})
	if err != nil {
		return errors.Wrap(err, "decodeOptions")
	}
	if err := dec.Decode(input); err != nil {
		return errors.Wrap(err, "decodeOptions")
	}
	return nil
}

// mergeJSON overlays the keys of a JSON object onto o. Keys absent from the
// object keep their current values.
func mergeJSON(o *Options, raw string) error {
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return errors.Wrap(err, "invalid agent options JSON")
	}
	return decodeInto(m, o)
}
