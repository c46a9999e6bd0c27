// Copyright (C) 2017 Librato, Inc. All rights reserved.

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"
)

func clearPlatform(t *testing.T) {
	for _, k := range []string{
		"AWS_LAMBDA_FUNCTION_NAME", "AWS_LAMBDA_FUNCTION_MEMORY_SIZE",
		"VCAP_SERVICES", "VCAP_APPLICATION", "DYNO", "HEROKU_APP_NAME",
		"DT_TENANT", "DT_ENVIRONMENTID", "DT_API_TOKEN", "DT_TENANTTOKEN", "DT_ONEAGENT_OPTIONS",
	} {
		t.Setenv(k, "")
	}
}

func TestRunHeroku(t *testing.T) {
	clearPlatform(t)
	t.Setenv("DYNO", "web.1")
	t.Setenv("HEROKU_APP_NAME", "shop")
	t.Setenv("DT_TENANT", "abc12345")
	t.Setenv("DT_TENANTTOKEN", "1234567890abcdef")
	t.Setenv("DT_CLUSTER_ID", "")

	var out bytes.Buffer
	require.NoError(t, run(nil, &out))

	var res map[string]interface{}
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.Equal(t, "heroku", res["habitat"])
	assert.Equal(t, "legacy", res["source"])
	assert.Equal(t, map[string]interface{}{
		"server":      "https://abc12345.live.dynatrace.com",
		"tenant":      "abc12345",
		"tenanttoken": "1234********cdef",
		"loglevelcon": "none",
	}, res["options"])
	assert.Equal(t, "shop", res["exports"].(map[string]interface{})["DT_CLUSTER_ID"])

	// the process environment is left alone
	assert.Equal(t, "", os.Getenv("DT_CLUSTER_ID"))
}

func TestRunExplicitYAML(t *testing.T) {
	clearPlatform(t)
	t.Setenv("DYNO", "web.1")

	var out bytes.Buffer
	require.NoError(t, run([]string{"--tenant", "abc12345", "--tenant-token", "1234567890abcdef", "--server", "https://s", "-o", "yaml"}, &out))

	var res struct {
		Habitat string            `yaml:"habitat"`
		Options map[string]string `yaml:"options"`
	}
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &res))
	assert.Equal(t, "direct", res.Habitat)
	assert.Equal(t, "https://s", res.Options["server"])
	assert.Equal(t, "1234********cdef", res.Options["tenanttoken"])
}

func TestRunErrors(t *testing.T) {
	clearPlatform(t)
	var out bytes.Buffer

	assert.Error(t, run([]string{"--bogus"}, &out))
	assert.Error(t, run([]string{"extra"}, &out))
	assert.Error(t, run([]string{"-o", "xml", "--tenant", "a", "--tenant-token", "b"}, &out))
	assert.Error(t, run([]string{"--log-level", "LOUD"}, &out))

	err := run(nil, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no credentials available")

	out.Reset()
	require.NoError(t, run([]string{"--help"}, &out))
	assert.Contains(t, out.String(), "Usage:")
	assert.Contains(t, out.String(), "--api-token")
}
