package runner

import (
	"sort"

	"github.com/redbeam/redbeam/errors"
)

// FieldType is the declared type of one configuration field.
type FieldType string

const (
	FieldString  FieldType = "string"
	FieldNumber  FieldType = "number"
	FieldBoolean FieldType = "boolean"
)

// Field declares one configuration key a runner accepts.
type Field struct {
	Type     FieldType   `json:"type"`
	Title    string      `json:"title,omitempty"`
	Required bool        `json:"required"`
	Secret   bool        `json:"secret"`
	Default  interface{} `json:"default,omitempty"`
}

// Schema is a runner's declarative configuration schema: field name to
// its declaration. A DataSource's configuration is validated against the
// owning runner's schema before first use.
type Schema map[string]Field

// Configuration is the opaque key/value connection configuration of a
// DataSource. Read-only to running tasks.
type Configuration map[string]interface{}

// Validate checks cfg against the schema. Missing required fields yield
// ErrConfiguration; optional fields with defaults never raise.
func (s Schema) Validate(cfg Configuration) error {
	for name, field := range s {
		if !field.Required {
			continue
		}
		v, ok := cfg[name]
		if !ok || v == nil || v == "" {
			if field.Default != nil {
				continue
			}
			return errors.Wrapf(errors.ErrConfiguration, "missing required field %q", name)
		}
	}
	return nil
}

// Redact returns a copy of cfg with every secret field's value masked.
// Secret values must never be echoed back in listings or error messages.
func (s Schema) Redact(cfg Configuration) Configuration {
	out := make(Configuration, len(cfg))
	for k, v := range cfg {
		if field, ok := s[k]; ok && field.Secret {
			out[k] = "--------"
			continue
		}
		out[k] = v
	}
	return out
}

// SecretFields returns the sorted names of all secret fields.
func (s Schema) SecretFields() []string {
	var names []string
	for name, field := range s {
		if field.Secret {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// GetString reads a string field, falling back to the schema default and
// then to fallback.
func (s Schema) GetString(cfg Configuration, name, fallback string) string {
	if v, ok := cfg[name].(string); ok && v != "" {
		return v
	}
	if field, ok := s[name]; ok {
		if d, ok := field.Default.(string); ok && d != "" {
			return d
		}
	}
	return fallback
}

// GetInt reads a numeric field, accepting the numeric shapes JSON and TOML
// decoding produce, falling back to the schema default and then to fallback.
func (s Schema) GetInt(cfg Configuration, name string, fallback int) int {
	if v, ok := toInt(cfg[name]); ok {
		return v
	}
	if field, ok := s[name]; ok {
		if v, ok := toInt(field.Default); ok {
			return v
		}
	}
	return fallback
}

// GetBool reads a boolean field with the same fallback chain.
func (s Schema) GetBool(cfg Configuration, name string, fallback bool) bool {
	if v, ok := cfg[name].(bool); ok {
		return v
	}
	if field, ok := s[name]; ok {
		if d, ok := field.Default.(bool); ok {
			return d
		}
	}
	return fallback
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
