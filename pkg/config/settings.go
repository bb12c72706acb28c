// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/gomlx/nmtdecode/pkg/support/fsutil"
	"github.com/pkg/errors"
)

// ApplySettings changes the state with the given settings -- typically the contents of a
// command line argument. The settings are a list separated by ";": e.g.:
// "maintain_coverage=false;coverage_dim=1".
//
// The keys are the YAML keys of State, and unknown keys are rejected. Booleans accept the
// spellings "True" and "False" as well.
//
// An entry like "file:settings.txt" reads the settings from the file, with new-lines working
// as ";" to separate settings, and lines starting with "#" considered comments.
//
// For integer values "_" is removed: it allows one to enter large numbers using it as a
// separator, like in Go. E.g.: 30_000 = 30000.
//
// It returns the keys changed, in the order they were set.
func (s *State) ApplySettings(settings string) (keysSet []string, err error) {
	params := s.params()
	for _, setting := range strings.Split(settings, ";") {
		keysSet, err = applySetting(params, setting, keysSet)
		if err != nil {
			return
		}
	}
	return
}

// params maps each YAML key of the state to a pointer to its field.
func (s *State) params() map[string]any {
	params := make(map[string]any)
	value := reflect.ValueOf(s).Elem()
	for ii := range value.NumField() {
		field := value.Type().Field(ii)
		key, _, _ := strings.Cut(field.Tag.Get("yaml"), ",")
		if key == "" || key == "-" || !field.IsExported() {
			continue
		}
		params[key] = value.Field(ii).Addr().Interface()
	}
	return params
}

// Keys returns the sorted list of keys that can be set.
func (s *State) Keys() []string {
	params := s.params()
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

func applySetting(params map[string]any, setting string, keysSet []string) (newKeysSet []string, err error) {
	newKeysSet = keysSet
	setting = strings.TrimSpace(setting)
	if setting == "" {
		return
	}
	if strings.HasPrefix(setting, "file:") {
		var filePath string
		filePath, err = fsutil.ExpandHome(strings.TrimPrefix(setting, "file:"))
		if err != nil {
			return
		}
		var contents []byte
		contents, err = os.ReadFile(filePath)
		if err != nil {
			err = errors.Wrapf(err, "failed to read settings from file %q", filePath)
			return
		}
		for _, line := range strings.Split(string(contents), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			for _, lineSetting := range strings.Split(line, ";") {
				newKeysSet, err = applySetting(params, lineSetting, newKeysSet)
				if err != nil {
					return
				}
			}
		}
		return
	}

	key, valueStr, found := strings.Cut(setting, "=")
	if !found {
		err = errors.Errorf("can't parse setting %q: each setting requires the format \"<key>=<value>\"", setting)
		return
	}
	key, valueStr = strings.TrimSpace(key), strings.TrimSpace(valueStr)
	param, found := params[key]
	if !found {
		err = errors.Errorf("can't set %q: unknown state key", key)
		return
	}

	switch p := param.(type) {
	case *int:
		err = json.Unmarshal([]byte(strings.ReplaceAll(valueStr, "_", "")), p)
	case *uint64:
		err = json.Unmarshal([]byte(strings.ReplaceAll(valueStr, "_", "")), p)
	case *float64:
		err = json.Unmarshal([]byte(valueStr), p)
	case *bool:
		switch valueStr {
		case "True":
			*p = true
		case "False":
			*p = false
		default:
			err = json.Unmarshal([]byte(valueStr), p)
		}
	case *string:
		*p = strings.Trim(valueStr, `"'`)
	case *time.Duration:
		*p, err = time.ParseDuration(valueStr)
	default:
		err = fmt.Errorf("don't know how to parse type %T for setting %q", param, setting)
	}
	if err != nil {
		err = errors.Wrapf(err, "failed to parse value %q for %q", valueStr, key)
		return
	}
	newKeysSet = append(newKeysSet, key)
	return
}

// String pretty-prints the state, one "key: value" per line, sorted by key.
func (s *State) String() string {
	params := s.params()
	parts := make([]string, 0, len(params))
	for _, key := range s.Keys() {
		parts = append(parts, fmt.Sprintf("\t%s: %v", key, reflect.ValueOf(params[key]).Elem().Interface()))
	}
	return strings.Join(parts, "\n")
}
