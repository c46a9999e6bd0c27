// Copyright (C) 2017 Librato, Inc. All rights reserved.

// Package handler resolves the user's Lambda handler through the agent.
//
// A handler spec like "lib/index.foo.bar.handler" names the module file
// "lib/index" and the export path foo.bar.handler within it. The agent loads
// and wraps the module when it is asked for "lib/index$foo"; the rest of the
// export path is looked up on the value it returns.
package handler

import (
	"path"
	"strings"

	"github.com/dynatrace/oneagent-loader-go/oneagent/internal/environ"
	"github.com/dynatrace/oneagent-loader-go/oneagent/internal/log"
	"github.com/pkg/errors"
)

// EnvHandler is read by the agent to find the handler it wraps.
const EnvHandler = "_HANDLER"

// ErrNoExport is returned for a handler spec without an export path, e.g. a
// bare file name.
var ErrNoExport = errors.New("handler has no export path")

// Descriptor is a decomposed handler spec.
type Descriptor struct {
	ModuleFilePath string
	// ExportPath is never empty
	ExportPath []string
}

// Key returns the key the agent is asked for: the module and the first
// export.
func (d Descriptor) Key() string {
	return d.ModuleFilePath + "$" + d.ExportPath[0]
}

// Encoded returns the module and the whole export path in the form the agent
// reads from _HANDLER.
func (d Descriptor) Encoded() string {
	return d.ModuleFilePath + "$" + strings.Join(d.ExportPath, ".")
}

// Decompose splits a handler spec into the module file path and the export
// path.
func Decompose(spec string) (Descriptor, error) {
	dir, file := path.Split(spec)
	segments := strings.Split(file, ".")
	d := Descriptor{
		ModuleFilePath: path.Join(dir, segments[0]),
		ExportPath:     segments[1:],
	}
	log.Debugf("handler=%s, modulePath=%s, moduleFilePath=%s, exportPath=%v", spec, dir, d.ModuleFilePath, d.ExportPath)

	if len(d.ExportPath) == 0 {
		return Descriptor{}, errors.Wrapf(ErrNoExport, "handler %q", spec)
	}
	for _, s := range d.ExportPath {
		if s == "" {
			return Descriptor{}, errors.Wrapf(ErrNoExport, "handler %q has an empty export", spec)
		}
	}
	return d, nil
}

// Proxy is the handler accessor the agent provides in Lambda.
type Proxy interface {
	// Lookup loads and wraps the module export named by key, in the form
	// "<moduleFilePath>$<export>".
	Lookup(key string) (interface{}, error)
}

// PropertyGetter is implemented by export values with nested exports.
type PropertyGetter interface {
	Property(name string) interface{}
}

// Resolve returns the user handler named by spec. _HANDLER is set to the
// encoded spec while the agent is called and restored afterwards, also if
// the agent fails or panics.
func Resolve(proxy Proxy, env environ.Environment, spec string) (h interface{}, err error) {
	d, err := Decompose(spec)
	if err != nil {
		return nil, err
	}

	orig, present := env.Lookup(EnvHandler)
	defer func() {
		if rerr := environ.Restore(env, EnvHandler, orig, present); rerr != nil && err == nil {
			err = errors.Wrap(rerr, "failed to restore "+EnvHandler)
		}
		log.Debugf("restoring %s=%s", EnvHandler, orig)
	}()

	log.Debugf("setting %s=%s (%s)", EnvHandler, d.Encoded(), orig)
	if err := env.Set(EnvHandler, d.Encoded()); err != nil {
		return nil, errors.Wrap(err, "failed to set "+EnvHandler)
	}

	log.Debugf("accessing %s in proxy object", d.Key())
	h, err = proxy.Lookup(d.Key())
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load handler %s", d.Key())
	}

	for _, name := range d.ExportPath[1:] {
		if h == nil {
			break
		}
		log.Debugf("resolving %s", name)
		if h, err = property(h, name); err != nil {
			return nil, err
		}
	}
	return h, nil
}

func property(v interface{}, name string) (interface{}, error) {
	switch o := v.(type) {
	case map[string]interface{}:
		return o[name], nil
	case PropertyGetter:
		return o.Property(name), nil
	default:
		return nil, errors.Errorf("cannot resolve %q on %T", name, v)
	}
}
