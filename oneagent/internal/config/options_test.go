// Copyright (C) 2017 Librato, Inc. All rights reserved.

package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeOptions(t *testing.T) {
	o, err := DecodeOptions(map[string]interface{}{
		"environmentid":          "diy98765",
		"apitoken":               "gYl3QptwQYGpE",
		"apiurl":                 "https://example.com/api",
		"communicationendpoints": []interface{}{"https://a", "https://b"},
		"unknown":                true,
	})
	require.NoError(t, err)
	assert.Equal(t, "diy98765", o.EnvironmentID)
	assert.Equal(t, "gYl3QptwQYGpE", o.APIToken)
	assert.Equal(t, "https://example.com/api", o.APIURL)
	assert.Equal(t, []string{"https://a", "https://b"}, o.CommunicationEndpoints)

	// numeric ids from hand written service bindings are accepted
	o, err = DecodeOptions(map[string]interface{}{"tenant": 12345})
	require.NoError(t, err)
	assert.Equal(t, "12345", o.Tenant)

	_, err = DecodeOptions("not an object")
	assert.Error(t, err)
}

func TestTenantID(t *testing.T) {
	assert.Equal(t, "env", Options{EnvironmentID: "env", Tenant: "tenant"}.TenantID())
	assert.Equal(t, "tenant", Options{Tenant: "tenant"}.TenantID())
	assert.Equal(t, "", Options{}.TenantID())
}

func TestNeedsDiscovery(t *testing.T) {
	tests := []struct {
		opts      Options
		discovery bool
		creds     bool
	}{
		{Options{EnvironmentID: "e", APIToken: "t"}, true, true},
		{Options{Tenant: "e", APIToken: "t"}, true, true},
		{Options{APIToken: "t"}, false, false},
		{Options{EnvironmentID: "e"}, false, false},
		{Options{Tenant: "e", TenantToken: "tt"}, false, true},
		{Options{}, false, false},
	}
	for _, test := range tests {
		assert.Equal(t, test.discovery, test.opts.NeedsDiscovery(), test.opts.String())
		assert.Equal(t, test.creds, test.opts.HasCredentials(), test.opts.String())
	}
}

func TestOptionsString(t *testing.T) {
	o := Options{
		EnvironmentID: "diy98765",
		APIToken:      "dt0c01.ABCDEFGHIJKLMNOP",
		TenantToken:   "short",
	}
	s := o.String()
	assert.Equal(t, "{environmentid=diy98765, apitoken=dt0c"+strings.Repeat("*", 15)+"MNOP, tenanttoken=short}", s)
	assert.False(t, o.IsZero())
	assert.True(t, Options{}.IsZero())
}

func TestMaskToken(t *testing.T) {
	tokens := map[string]string{
		"1234567890abcdef": "1234********cdef",
		"abc":              "abc",
		"abcd1234":         "abcd1234",
		"":                 "",
	}

	for token, masked := range tokens {
		assert.Equal(t, masked, MaskToken(token))
	}
}

func TestIsValidURL(t *testing.T) {
	assert.True(t, IsValidURL("https://abc.live.dynatrace.com"))
	assert.True(t, IsValidURL("http://localhost:8080/api"))
	assert.False(t, IsValidURL("localhost"))
	assert.False(t, IsValidURL("ftp://example.com"))
	assert.False(t, IsValidURL("https://"))
}
