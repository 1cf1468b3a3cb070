package claimgate

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"
)

// Settings is the configuration lookup consumed by key resolution and session
// limits. Implementations return the raw string value and whether the key was
// present; absence is not an error.
type Settings interface {
	Get(key string) (string, bool)
}

// MapSettings is an in-memory Settings backed by a flat map of dotted keys
// (for example "Jwt.Signing.Symmetric.Key").
type MapSettings map[string]string

// Get implements [Settings]. Empty values count as absent.
func (m MapSettings) Get(key string) (string, bool) {
	v, ok := m[key]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// LoadSettings reads a YAML file and flattens nested mappings into dotted
// keys, so a document like
//
//	Jwt:
//	  Signing:
//	    Symmetric:
//	      Key: s3cret
//
// yields "Jwt.Signing.Symmetric.Key" = "s3cret".
func LoadSettings(path string) (MapSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}

	out := MapSettings{}
	flattenSettings("", doc, out)
	return out, nil
}

func flattenSettings(prefix string, node map[string]any, out MapSettings) {
	for k, v := range node {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]any:
			flattenSettings(key, val, out)
		case []any:
			parts := make([]string, 0, len(val))
			for _, item := range val {
				parts = append(parts, fmt.Sprintf("%v", item))
			}
			out[key] = strings.Join(parts, ",")
		case nil:
			// Explicit nulls are treated as absent.
		default:
			out[key] = fmt.Sprintf("%v", val)
		}
	}
}

// IntSetting returns the integer value at key, or def when the key is absent
// or not an integer.
func IntSetting(s Settings, key string, def int) int {
	raw, ok := s.Get(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return def
	}
	return n
}
