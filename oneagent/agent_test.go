// Copyright (C) 2017 Librato, Inc. All rights reserved.

package oneagent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetGetLogLevel(t *testing.T) {
	oldLevel := GetLogLevel()

	err := SetLogLevel("INVALID")
	assert.Equal(t, err, errInvalidLogLevel)

	nl := "ERROR"
	err = SetLogLevel(nl)
	assert.Nil(t, err)

	newLevel := GetLogLevel()
	assert.Equal(t, newLevel, nl)

	SetLogLevel(oldLevel)
}

func TestRegister(t *testing.T) {
	factoryMu.Lock()
	old := defaultFactory
	defaultFactory = nil
	factoryMu.Unlock()
	defer func() {
		factoryMu.Lock()
		defaultFactory = old
		factoryMu.Unlock()
	}()

	assert.Panics(t, func() { Register(nil) })

	f := FactoryFunc(func(AgentOptions) (Agent, error) { return "agent", nil })
	Register(f)
	assert.NotNil(t, registeredFactory())
	assert.Panics(t, func() { Register(f) })

	a, err := registeredFactory().New(AgentOptions{})
	assert.NoError(t, err)
	assert.Equal(t, "agent", a)
}
