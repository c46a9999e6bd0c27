// Copyright (C) 2017 Librato, Inc. All rights reserved.

// Package config is responsible for loading the loader configuration from
// various sources: default values, the configuration file, environment
// variables and the options provided by the caller, in this order.
//
// In order to add a new configuration item, you need to:
// - add a field to the Config struct and assign the corresponding env variable
//   name and the default value via struct tags.
// - add validation code to method `Config.validate()` (optional).
// - add a method to retrieve the config value.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dynatrace/oneagent-loader-go/oneagent/internal/environ"
	"github.com/dynatrace/oneagent-loader-go/oneagent/internal/log"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

const (
	// max config file size = 1MB
	maxConfigFileSize = 1024 * 1024
)

// The environment variables which are not bound to a struct field
const (
	envConfigFile   = "DT_LOADER_CONFIG_FILE"
	envAgentOptions = "DT_ONEAGENT_OPTIONS"
)

// Errors
var (
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrFileTooLarge      = errors.New("file size exceeds limit")
)

// Config is the loader configuration. It is built once per Load call and
// read-only afterwards.
type Config struct {
	sync.RWMutex `yaml:"-"`

	// Agent holds the connection options found in the environment
	Agent *Options `yaml:"agent,omitempty"`

	// The path of the worker binary; the discovery request is done in a
	// child process if it is set
	RequestWorker string `yaml:"requestWorker,omitempty" env:"DT_LOADER_REQUEST_WORKER"`

	// Whether to skip the certificate verification of hosts outside the
	// first-party domains
	InsecureSkipVerify bool `yaml:"insecureSkipVerify,omitempty" env:"DT_LOADER_INSECURE_SKIP_VERIFY"`

	// The connect and socket timeout of the discovery request in milliseconds
	RequestTimeout int64 `yaml:"requestTimeout,omitempty" env:"DT_LOADER_REQUEST_TIMEOUT" default:"5000"`

	// The overall timeout of the discovery in milliseconds
	TotalTimeout int64 `yaml:"totalTimeout,omitempty" env:"DT_LOADER_TOTAL_TIMEOUT" default:"20000"`
}

// Option is a function type that accepts a Config pointer and
// applies the configuration option it defines.
type Option func(c *Config)

// WithRequestWorker defines a Config option for the worker binary.
func WithRequestWorker(path string) Option {
	return func(c *Config) {
		c.RequestWorker = path
	}
}

// WithInsecureSkipVerify defines a Config option for the TLS verification.
func WithInsecureSkipVerify(skip bool) Option {
	return func(c *Config) {
		c.InsecureSkipVerify = skip
	}
}

// WithTimeouts defines a Config option for the discovery timeouts.
func WithTimeouts(request, total time.Duration) Option {
	return func(c *Config) {
		c.RequestTimeout = request.Milliseconds()
		c.TotalTimeout = total.Milliseconds()
	}
}

// NewConfig loads the configuration from the config file and the environment
// and applies the options provided as arguments. A configuration file that
// cannot be read or parsed, or invalid agent options JSON, is an error.
func NewConfig(env environ.Environment, opts ...Option) (*Config, error) {
	c := newConfig().reset()

	if err := c.loadConfigFile(env); err != nil {
		return nil, errors.Wrap(err, "NewConfig")
	}
	loadEnvsInternal(env, c)

	if raw, ok := env.Lookup(envAgentOptions); ok && strings.TrimSpace(raw) != "" {
		if err := mergeJSON(c.Agent, raw); err != nil {
			return nil, errors.Wrap(err, envAgentOptions)
		}
	}

	for _, opt := range opts {
		opt(c)
	}
	c.validate()

	log.Debugf("Accepted config items: \n%s", getDelta(newConfig().reset(), c).sanitize())
	return c, nil
}

func newConfig() *Config {
	return &Config{
		Agent: &Options{},
	}
}

func (c *Config) reset() *Config {
	initStruct(reflect.ValueOf(c).Elem())
	return c
}

func (c *Config) validate() {
	if c.RequestTimeout <= 0 {
		log.Warning(InvalidEnv("RequestTimeout", strconv.FormatInt(c.RequestTimeout, 10)))
		c.RequestTimeout = ToInt64(getFieldDefaultValue(c, "RequestTimeout"))
	}
	if c.TotalTimeout <= 0 {
		log.Warning(InvalidEnv("TotalTimeout", strconv.FormatInt(c.TotalTimeout, 10)))
		c.TotalTimeout = ToInt64(getFieldDefaultValue(c, "TotalTimeout"))
	}
	if c.TotalTimeout < c.RequestTimeout {
		log.Warningf("TotalTimeout %dms is shorter than RequestTimeout %dms", c.TotalTimeout, c.RequestTimeout)
	}
	if c.RequestWorker != "" && !IsValidFile(c.RequestWorker) {
		log.Warning(InvalidEnv("RequestWorker", c.RequestWorker))
		c.RequestWorker = ""
	}
	for _, u := range []string{c.Agent.APIURL, c.Agent.Endpoint, c.Agent.Server} {
		if u != "" && !IsValidURL(u) {
			log.Warningf("not an absolute URL: %s", u)
		}
	}
}

// GetAgentOptions returns a copy of the connection options
func (c *Config) GetAgentOptions() Options {
	c.RLock()
	defer c.RUnlock()
	o := *c.Agent
	o.CommunicationEndpoints = append([]string(nil), c.Agent.CommunicationEndpoints...)
	return o
}

// GetRequestWorker returns the path of the worker binary
func (c *Config) GetRequestWorker() string {
	c.RLock()
	defer c.RUnlock()
	return c.RequestWorker
}

// GetInsecureSkipVerify returns if the TLS verification may be relaxed
func (c *Config) GetInsecureSkipVerify() bool {
	c.RLock()
	defer c.RUnlock()
	return c.InsecureSkipVerify
}

// GetRequestTimeout returns the timeout of the discovery request
func (c *Config) GetRequestTimeout() time.Duration {
	c.RLock()
	defer c.RUnlock()
	return time.Duration(c.RequestTimeout) * time.Millisecond
}

// GetTotalTimeout returns the overall timeout of the discovery
func (c *Config) GetTotalTimeout() time.Duration {
	c.RLock()
	defer c.RUnlock()
	return time.Duration(c.TotalTimeout) * time.Millisecond
}

func getFieldDefaultValue(i interface{}, name string) string {
	iv := reflect.Indirect(reflect.ValueOf(i))
	if iv.Kind() != reflect.Struct {
		panic("calling getFieldDefaultValue with non-struct type")
	}

	field, ok := iv.Type().FieldByName(name)
	if !ok {
		panic(fmt.Sprintf("invalid field: %s", name))
	}

	return field.Tag.Get("default")
}

// initStruct initializes the struct with the default values of the struct
// tags. The input must be an addressable struct value.
func initStruct(val reflect.Value) {
	for i := 0; i < val.NumField(); i++ {
		field := val.Type().Field(i)
		fieldVal := val.Field(i)

		if field.Anonymous || !fieldVal.CanSet() {
			continue
		}
		if fieldVal.Kind() == reflect.Ptr && fieldVal.Type().Elem().Kind() == reflect.Struct {
			if fieldVal.IsNil() {
				fieldVal.Set(reflect.New(fieldVal.Type().Elem()))
			}
			initStruct(fieldVal.Elem())
			continue
		}
		if v, ok := stringToValue(field.Tag.Get("default"), field.Type); ok {
			fieldVal.Set(v)
		}
	}
}

// loadEnvsInternal loads environment variable values into the fields of the
// struct pointed to by c which carry an `env` tag.
func loadEnvsInternal(env environ.Environment, c interface{}) {
	cv := reflect.Indirect(reflect.ValueOf(c))
	if cv.Kind() != reflect.Struct || !cv.CanSet() {
		return
	}
	ct := cv.Type()

	for i := 0; i < ct.NumField(); i++ {
		field := ct.Field(i)
		fieldV := cv.Field(i)
		if !fieldV.CanSet() || field.Anonymous {
			continue
		}

		if fieldV.Kind() == reflect.Ptr && fieldV.Type().Elem().Kind() == reflect.Struct {
			if !fieldV.IsNil() {
				loadEnvsInternal(env, fieldV.Interface())
			}
			continue
		}

		tagV := field.Tag.Get("env")
		if tagV == "" {
			continue
		}

		envVal := environ.Get(env, tagV)
		if envVal == "" {
			continue
		}

		if v, ok := stringToValue(envVal, field.Type); ok {
			fieldV.Set(v)
		} else {
			log.Warning(InvalidEnv(tagV, envVal))
		}
	}
}

// stringToValue converts a string to a value of the given type. It returns
// false if the string cannot be converted or the type is unsupported.
func stringToValue(s string, typ reflect.Type) (reflect.Value, bool) {
	s = strings.TrimSpace(s)

	var val interface{}
	var err error
	switch typ.Kind() {
	case reflect.Int:
		if s == "" {
			s = "0"
		}
		val, err = strconv.Atoi(s)
	case reflect.Int64:
		if s == "" {
			s = "0"
		}
		val, err = strconv.ParseInt(s, 10, 64)
	case reflect.String:
		val = s
	case reflect.Bool:
		if s == "" {
			s = "false"
		}
		val, err = toBool(s)
	default:
		return reflect.Value{}, false
	}
	if err != nil {
		return reflect.Value{}, false
	}
	return reflect.ValueOf(val).Convert(typ), true
}

func toBool(s string) (bool, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "yes" || s == "true" || s == "1" {
		return true, nil
	} else if s == "no" || s == "false" || s == "0" {
		return false, nil
	}
	return false, errors.New("cannot convert input to bool")
}

// getConfigPath returns the absolute path of the config file.
func getConfigPath(env environ.Environment) string {
	if path, ok := env.Lookup(envConfigFile); ok && path != "" {
		if abs, err := filepath.Abs(path); err == nil {
			return abs
		} else {
			log.Warningf("Ignore config file %s: %s", path, err)
		}
	}

	candidates := []string{
		"./oneagent-loader.yaml",
		"./oneagent-loader.yml",
	}

	for _, file := range candidates {
		abs, err := filepath.Abs(file)
		if err != nil {
			continue
		}
		if _, e := os.Stat(abs); e != nil {
			continue
		}
		return abs
	}

	return ""
}

func (c *Config) loadYaml(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "loadYaml")
	}

	// The config struct is modified in place so we won't tolerate any error
	if err = yaml.Unmarshal(data, c); err != nil {
		return errors.Wrap(err, "loadYaml")
	}
	if c.Agent == nil {
		c.Agent = &Options{}
	}
	return nil
}

func checkFileSize(path string) error {
	file, err := os.Stat(path)
	if err != nil {
		return errors.Wrap(err, "checkFileSize")
	}
	size := file.Size()
	if size > maxConfigFileSize {
		return errors.Wrap(ErrFileTooLarge, fmt.Sprintf("File size: %d", size))
	}
	return nil
}

// loadConfigFile loads from the config file
func (c *Config) loadConfigFile(env environ.Environment) error {
	path := getConfigPath(env)
	if path == "" {
		log.Debug("No config file found.")
		return nil
	}

	if err := checkFileSize(path); err != nil {
		return errors.Wrap(err, "loadConfigFile")
	}

	switch filepath.Ext(path) {
	case ".yml", ".yaml":
		log.Infof("Loading config file: %s", path)
		return c.loadYaml(path)
	default:
		return errors.Wrap(ErrUnsupportedFormat, path)
	}
}
