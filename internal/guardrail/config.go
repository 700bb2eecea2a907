package guardrail

import (
	"errors"
	"time"
)

// ErrInvalidPersonaConfig is returned by ConfigurePersona when the raw
// configuration is malformed (e.g. "enabled" is not a list).
var ErrInvalidPersonaConfig = errors.New("invalid persona configuration")

// Config carries per-guardrail settings resolved from the persona
// configuration. Keys are guardrail-specific; "enabled" is understood
// by the pipeline itself and defaults to true.
type Config map[string]any

// Enabled reports whether the guardrail should run at all.
func (c Config) Enabled() bool {
	return c.Bool("enabled", true)
}

// Bool returns the named key as a bool, or def when absent or mistyped.
func (c Config) Bool(key string, def bool) bool {
	if v, ok := c[key].(bool); ok {
		return v
	}
	return def
}

// String returns the named key as a string, or def when absent or empty.
func (c Config) String(key, def string) string {
	if v, ok := c[key].(string); ok && v != "" {
		return v
	}
	return def
}

// Int returns the named key as an int. JSON decoding yields float64 for
// numbers, so both forms are accepted.
func (c Config) Int(key string, def int) int {
	switch v := c[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

// Float returns the named key as a float64.
func (c Config) Float(key string, def float64) float64 {
	switch v := c[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}

// Duration reads the named key as milliseconds.
func (c Config) Duration(key string, def time.Duration) time.Duration {
	ms := c.Int(key, -1)
	if ms < 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

// Strings returns the named key as a string slice. Both []string and
// []any (the shape JSON decoding produces) are accepted.
func (c Config) Strings(key string) []string {
	switch v := c[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// PersonaConfig binds a persona to its ordered set of enabled guardrail
// names plus per-guardrail overrides.
type PersonaConfig struct {
	Enabled    []string          `json:"enabled"`
	Guardrails map[string]Config `json:"guardrails,omitempty"`
}

// GuardrailConfig resolves the configuration for one guardrail,
// defaulting to an enabled empty config.
func (p PersonaConfig) GuardrailConfig(name string) Config {
	if cfg, ok := p.Guardrails[name]; ok {
		return cfg
	}
	return Config{}
}

// ParsePersonaConfig validates and converts a raw configuration map.
// "enabled" must be a list of guardrail names; "guardrails" is an
// optional map from guardrail name to its settings.
func ParsePersonaConfig(raw map[string]any) (PersonaConfig, error) {
	var cfg PersonaConfig

	enabledRaw, ok := raw["enabled"]
	if !ok {
		return cfg, ErrInvalidPersonaConfig
	}
	switch v := enabledRaw.(type) {
	case []string:
		cfg.Enabled = append(cfg.Enabled, v...)
	case []any:
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return cfg, ErrInvalidPersonaConfig
			}
			cfg.Enabled = append(cfg.Enabled, s)
		}
	default:
		return cfg, ErrInvalidPersonaConfig
	}

	if rawGuardrails, ok := raw["guardrails"].(map[string]any); ok {
		cfg.Guardrails = make(map[string]Config, len(rawGuardrails))
		for name, rawCfg := range rawGuardrails {
			if m, ok := rawCfg.(map[string]any); ok {
				cfg.Guardrails[name] = Config(m)
			}
		}
	}

	return cfg, nil
}
