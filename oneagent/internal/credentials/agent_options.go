// Copyright (C) 2017 Librato, Inc. All rights reserved.

package credentials

import (
	"strings"

	"github.com/dynatrace/oneagent-loader-go/oneagent/internal/config"
	"github.com/dynatrace/oneagent-loader-go/oneagent/internal/log"
)

// AgentOptions is the configuration handed to the agent factory. The field
// names of the JSON encoding are the ones the agent expects.
type AgentOptions struct {
	Server      string `json:"server" yaml:"server"`
	Tenant      string `json:"tenant" yaml:"tenant"`
	TenantToken string `json:"tenanttoken" yaml:"tenanttoken"`
	LogLevelCon string `json:"loglevelcon" yaml:"loglevelcon"`
}

// Masked returns a copy that is safe to print.
func (a AgentOptions) Masked() AgentOptions {
	a.TenantToken = config.MaskToken(a.TenantToken)
	return a
}

// ConsoleLogLevel maps the loader's log level onto the agent's console log
// level: the agent logs to the console only if the loader does at INFO or
// below.
func ConsoleLogLevel(level log.LogLevel) string {
	if level <= log.INFO {
		return "info"
	}
	return "none"
}

// NewAgentOptions merges the options and the resolved credentials.
func NewAgentOptions(o config.Options, c Credentials, level log.LogLevel) AgentOptions {
	server := Server(o)
	if len(c.CommunicationEndpoints) > 0 {
		server = strings.Join(c.CommunicationEndpoints, ";")
	}
	return AgentOptions{
		Server:      server,
		Tenant:      o.TenantID(),
		TenantToken: c.TenantToken,
		LogLevelCon: ConsoleLogLevel(level),
	}
}
