package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PANELBUS_"

// setter applies a raw environment value to a config field.
type setter func(c *Config, value string) error

// EnvLoader applies environment variable overrides to a Config.
type EnvLoader struct {
	mapping map[string]string // env var -> config path
	setters map[string]setter // config path -> setter
}

// NewEnvLoader creates a loader with the default PANELBUS_* mapping.
func NewEnvLoader() *EnvLoader {
	return &EnvLoader{
		mapping: defaultEnvMapping(),
		setters: defaultSetters(),
	}
}

func defaultEnvMapping() map[string]string {
	return map[string]string{
		EnvPrefix + "SOCKET":          "compositor.socket",
		EnvPrefix + "LOG_LEVEL":       "log.level",
		EnvPrefix + "HEALTH_INTERVAL": "compositor.health_interval",
		EnvPrefix + "DISPATCH_MODE":   "dispatch.mode",
		EnvPrefix + "RELAY_LISTEN":    "relay.listen",
	}
}

func defaultSetters() map[string]setter {
	return map[string]setter{
		"compositor.socket": func(c *Config, v string) error {
			c.Compositor.Socket = v
			return nil
		},
		"compositor.health_interval": func(c *Config, v string) error {
			d, err := parseDuration(v)
			if err != nil {
				return err
			}
			c.Compositor.HealthInterval = Duration(d)
			return nil
		},
		"log.level": func(c *Config, v string) error {
			c.Log.Level = strings.ToLower(v)
			return nil
		},
		"dispatch.mode": func(c *Config, v string) error {
			c.Dispatch.Mode = strings.ToLower(v)
			return nil
		},
		"relay.listen": func(c *Config, v string) error {
			c.Relay.Listen = v
			return nil
		},
	}
}

// Mapping returns the env var to config path mapping.
func (l *EnvLoader) Mapping() map[string]string {
	out := make(map[string]string, len(l.mapping))
	for k, v := range l.mapping {
		out[k] = v
	}
	return out
}

// Apply overwrites fields of c from set environment variables. An empty
// value counts as set. Variables are applied in name order so that the
// first error reported is stable.
func (l *EnvLoader) Apply(c *Config) error {
	names := make([]string, 0, len(l.mapping))
	for env := range l.mapping {
		names = append(names, env)
	}
	sort.Strings(names)

	for _, env := range names {
		val, ok := os.LookupEnv(env)
		if !ok {
			continue
		}
		path := l.mapping[env]
		set, ok := l.setters[path]
		if !ok {
			continue
		}
		if err := set(c, val); err != nil {
			return &FieldError{Field: path, Value: val, Message: fmt.Sprintf("invalid %s: %v", env, err)}
		}
	}
	return nil
}

// parseDuration accepts a Go duration ("3s") or a bare number of
// seconds ("3").
func parseDuration(s string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(s)
}
