// Copyright (c) 2017 Librato, Inc. All rights reserved.

package host

import (
	"bytes"
	"encoding/json"
	"regexp"

	"github.com/dynatrace/oneagent-loader-go/oneagent/internal/config"
	"github.com/dynatrace/oneagent-loader-go/oneagent/internal/environ"
	"github.com/dynatrace/oneagent-loader-go/oneagent/internal/log"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// servicePattern matches the product names a service binding may carry
var servicePattern = regexp.MustCompile(`(?i)dynatrace|ruxit`)

// ServiceInstance is one bound service instance of VCAP_SERVICES.
type ServiceInstance struct {
	Name        string                 `mapstructure:"name"`
	Label       string                 `mapstructure:"label"`
	Tags        []string               `mapstructure:"tags"`
	Credentials map[string]interface{} `mapstructure:"credentials"`
}

// ServiceBinding is a key of VCAP_SERVICES with its instances.
type ServiceBinding struct {
	Key       string
	Instances []ServiceInstance
}

// CloudFoundry is a Cloud Foundry application instance.
type CloudFoundry struct {
	// Services keeps the keys of VCAP_SERVICES in document order
	Services []ServiceBinding
	// Application is nil if VCAP_APPLICATION isn't a JSON object
	Application map[string]interface{}

	// the raw variables, kept if they can't be parsed
	RawServices    string
	RawApplication string
}

func newCloudFoundry(services, application string) *CloudFoundry {
	cf := &CloudFoundry{RawServices: services, RawApplication: application}

	var err error
	if cf.Services, err = ParseServices([]byte(services)); err != nil {
		log.Warningf("Failed to parse %s, using it as raw string: %v", envVcapServices, err)
	}
	if err := json.Unmarshal([]byte(application), &cf.Application); err != nil {
		log.Warningf("Failed to parse %s, using it as raw string: %v", envVcapApplication, err)
		cf.Application = nil
	}
	return cf
}

func (*CloudFoundry) Kind() Kind { return KindCloudFoundry }

// ApplicationName returns the application_name of VCAP_APPLICATION.
func (cf *CloudFoundry) ApplicationName() string {
	name, _ := cf.Application["application_name"].(string)
	return name
}

// Options returns the credentials of the first matching service binding.
func (cf *CloudFoundry) Options(config.Options) (config.Options, error) {
	inst := FindService(cf.Services)
	if inst == nil || inst.Credentials == nil {
		return config.Options{}, errors.Wrap(config.ErrNoCredentials, "no credentials found in VCAP_SERVICES")
	}
	log.Debugf("Using credentials of service %q", inst.Name)
	return config.DecodeOptions(inst.Credentials)
}

func (cf *CloudFoundry) Exports(env environ.Environment) []Export {
	var exports []Export
	name := cf.ApplicationName()
	if name != "" {
		exports = append(exports, Export{EnvApplicationID, name})
		if idx, ok := env.Lookup(envCFInstanceIndex); ok {
			exports = append(exports, Export{EnvHostID, name + "_" + idx})
		}
	}
	return append(exports, Export{EnvIgnoreDynamicPort, "true"})
}

// ParseServices decodes VCAP_SERVICES. The keys are returned in the order
// of the document. Instances that aren't objects are skipped, as are the
// values of keys that aren't arrays.
func ParseServices(data []byte) ([]ServiceBinding, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, errors.Wrap(err, "invalid service bindings")
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errors.New("invalid service bindings: not an object")
	}

	var bindings []ServiceBinding
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, errors.Wrap(err, "invalid service bindings")
		}
		key := tok.(string)

		var raw []interface{}
		if err := dec.Decode(&raw); err != nil {
			if _, ok := err.(*json.UnmarshalTypeError); !ok {
				return nil, errors.Wrapf(err, "invalid service binding %q", key)
			}
			log.Debugf("Service binding %q is not an array, ignored", key)
		}
		bindings = append(bindings, ServiceBinding{Key: key, Instances: decodeInstances(key, raw)})
	}
	if _, err := dec.Token(); err != nil {
		return nil, errors.Wrap(err, "invalid service bindings")
	}
	return bindings, nil
}

func decodeInstances(key string, raw []interface{}) []ServiceInstance {
	instances := make([]ServiceInstance, 0, len(raw))
	for i, r := range raw {
		if _, ok := r.(map[string]interface{}); !ok {
			log.Debugf("Instance %d of service binding %q is not an object, ignored", i, key)
			continue
		}
		var inst ServiceInstance
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			Result:           &inst,
		})
		if err == nil {
			err = dec.Decode(r)
		}
		if err != nil {
			log.Debugf("Instance %d of service binding %q ignored: %v", i, key, err)
			continue
		}
		instances = append(instances, inst)
	}
	return instances
}

// FindService returns the service instance holding the credentials, or nil.
//
// The first pass looks at the keys only and picks the first instance of the
// first key naming the product. The second pass walks the instances of all
// keys and matches the name, then the label, then the tags of each. Keys
// and instances are visited in document order, so a matching key always
// beats a matching tag.
func FindService(bindings []ServiceBinding) *ServiceInstance {
	for _, b := range bindings {
		if servicePattern.MatchString(b.Key) && len(b.Instances) > 0 {
			return &b.Instances[0]
		}
	}
	for _, b := range bindings {
		for i := range b.Instances {
			if matchInstance(&b.Instances[i]) {
				return &b.Instances[i]
			}
		}
	}
	return nil
}

func matchInstance(inst *ServiceInstance) bool {
	if servicePattern.MatchString(inst.Name) || servicePattern.MatchString(inst.Label) {
		return true
	}
	for _, tag := range inst.Tags {
		if servicePattern.MatchString(tag) {
			return true
		}
	}
	return false
}
