// Copyright (C) 2017 Librato, Inc. All rights reserved.

// Package environ is the boundary between the loader and the process
// environment. The loader reads its inputs and writes the variables the
// agent expects through an Environment, so the detection and resolution code
// can run against an in-memory environment in tests.
package environ

import (
	"os"
	"sort"
	"strings"
	"sync"
)

// Environment is a mutable set of environment variables.
type Environment interface {
	// Lookup retrieves the value of the variable named by the key. The
	// boolean reports whether the variable is present.
	Lookup(key string) (string, bool)
	// Set sets the value of the variable named by the key.
	Set(key, value string) error
	// Unset removes the variable named by the key.
	Unset(key string) error
}

// Get returns the value of key, or an empty string if it is not present.
func Get(env Environment, key string) string {
	v, _ := env.Lookup(key)
	return v
}

// Has reports whether key is present, even if its value is empty.
func Has(env Environment, key string) bool {
	_, ok := env.Lookup(key)
	return ok
}

// Restore sets key back to value, or removes it if it was absent.
func Restore(env Environment, key, value string, present bool) error {
	if present {
		return env.Set(key, value)
	}
	return env.Unset(key)
}

type osEnv struct{}

// OS returns the Environment of the current process.
func OS() Environment {
	return osEnv{}
}

func (osEnv) Lookup(key string) (string, bool) { return os.LookupEnv(key) }
func (osEnv) Set(key, value string) error { return os.Setenv(key, value) }
func (osEnv) Unset(key string) error { return os.Unsetenv(key) }

// Map is an in-memory Environment. The zero value is not usable, use NewMap.
type Map struct {
	sync.RWMutex
	vars map[string]string
}

// NewMap returns a Map initialized with a copy of vars.
func NewMap(vars map[string]string) *Map {
	m := &Map{vars: make(map[string]string, len(vars))}
	for k, v := range vars {
		m.vars[k] = v
	}
	return m
}

// Snapshot returns a Map holding a copy of the process environment.
func Snapshot() *Map {
	m := NewMap(nil)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i > 0 {
			m.vars[kv[:i]] = kv[i+1:]
		}
	}
	return m
}

// Lookup implements Environment.
func (m *Map) Lookup(key string) (string, bool) {
	m.RLock()
	defer m.RUnlock()
	v, ok := m.vars[key]
	return v, ok
}

// Set implements Environment.
func (m *Map) Set(key, value string) error {
	m.Lock()
	defer m.Unlock()
	m.vars[key] = value
	return nil
}

// Unset implements Environment.
func (m *Map) Unset(key string) error {
	m.Lock()
	defer m.Unlock()
	delete(m.vars, key)
	return nil
}

// Keys returns the sorted names of all variables.
func (m *Map) Keys() []string {
	m.RLock()
	defer m.RUnlock()
	keys := make([]string, 0, len(m.vars))
	for k := range m.vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
