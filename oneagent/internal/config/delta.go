// Copyright (C) 2017 Librato, Inc. All rights reserved.

package config

import (
	"fmt"
	"reflect"
	"strings"
)

// the fields which are masked before being printed
var secretFields = map[string]bool{
	"APIToken":    true,
	"TenantToken": true,
}

// DeltaItem defines a delta item of two Config objects
type DeltaItem struct {
	key        string
	env        string
	value      string
	defaultVal string
}

// Delta defines the overall delta of two Config objects
type Delta struct {
	delta []DeltaItem
}

func (d *Delta) add(item ...DeltaItem) {
	d.delta = append(d.delta, item...)
}

func (d *Delta) items() []DeltaItem {
	return d.delta
}

func (d *Delta) sanitize() *Delta {
	for idx, item := range d.delta {
		if secretFields[item.key] {
			d.delta[idx].value = MaskToken(item.value)
		}
	}
	return d
}

func (d *Delta) String() string {
	var s []string
	for _, item := range d.delta {
		s = append(s, fmt.Sprintf("%s(%s)=%s (default=%s)",
			item.key,
			item.env,
			item.value,
			item.defaultVal))
	}
	return strings.Join(s, "\n")
}

// getDelta compares two instances of the same struct and returns the delta.
func getDelta(base, changed interface{}) *Delta {
	delta := &Delta{}

	baseVal := reflect.Indirect(reflect.ValueOf(base))
	changedVal := reflect.Indirect(reflect.ValueOf(changed))

	if changedVal.Kind() != reflect.Struct {
		return delta
	}

	for i := 0; i < changedVal.NumField(); i++ {
		typeFieldChanged := changedVal.Type().Field(i)
		if typeFieldChanged.Anonymous {
			continue
		}

		fieldChanged := reflect.Indirect(changedVal.Field(i))
		fieldBase := reflect.Indirect(baseVal.Field(i))
		if !fieldChanged.IsValid() || !fieldBase.IsValid() {
			continue
		}

		if fieldChanged.Kind() == reflect.Struct {
			// pass the pointers so the nested fields stay settable
			delta.add(getDelta(fieldBase.Addr().Interface(), fieldChanged.Addr().Interface()).items()...)
			continue
		}
		if fieldChanged.CanSet() &&
			!reflect.DeepEqual(fieldBase.Interface(), fieldChanged.Interface()) {
			delta.add(DeltaItem{
				key:        typeFieldChanged.Name,
				env:        typeFieldChanged.Tag.Get("env"),
				value:      fmt.Sprintf("%v", fieldChanged.Interface()),
				defaultVal: fmt.Sprintf("%v", fieldBase.Interface()),
			})
		}
	}
	return delta
}
