package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "MEMOPT_"
	// Delimiter is the key delimiter for nested config.
	Delimiter = "."
	// EnvNestingSeparator separates sections in environment variable names.
	// Single underscores stay part of the key: MEMOPT_OPTIMIZER__CACHE_TTL
	// is optimizer.cache_ttl.
	EnvNestingSeparator = "__"
)

// ErrConfigNotFound is returned when an explicit config path does not exist.
var ErrConfigNotFound = errors.New("config file not found")

// SearchPaths are tried in order when no config path is given.
var SearchPaths = []string{
	"memopt.yaml",
	"config.yaml",
	"config.yml",
	"config.json",
	"configs/config.yaml",
	"/etc/memopt/config.yaml",
}

// layer is one configuration source. Layers are merged in order, so later
// layers win.
type layer struct {
	name string
	load func(k *koanf.Koanf) error
}

// Loader merges defaults, a config file, MEMOPT_* environment variables and
// command line overrides into a validated Config.
type Loader struct {
	k *koanf.Koanf

	// overrides of the last Load, replayed by Reload.
	overrides map[string]any
	// file is the config file used by the last Load, if any.
	file    string
	applied []string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{k: koanf.New(Delimiter)}
}

// Load builds a Config. An empty configPath searches SearchPaths and
// carries on with defaults when none exists.
func (l *Loader) Load(configPath string, overrides map[string]any) (*Config, error) {
	l.overrides = overrides
	l.file = configPath
	if l.file == "" {
		l.file = discover(SearchPaths)
	} else if _, err := os.Stat(l.file); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, l.file)
	}

	defaults := flatten(DefaultConfig())
	layers := []layer{
		{"defaults", func(k *koanf.Koanf) error {
			return k.Load(confmap.Provider(defaults, Delimiter), nil)
		}},
	}
	if l.file != "" {
		path := l.file
		layers = append(layers, layer{"file:" + path, func(k *koanf.Koanf) error {
			parser, err := parserFor(path)
			if err != nil {
				return err
			}
			return k.Load(file.Provider(path), parser)
		}})
	}
	layers = append(layers, layer{"env", func(k *koanf.Koanf) error {
		return k.Load(env.Provider(EnvPrefix, Delimiter, envKey), nil)
	}})
	if len(overrides) > 0 {
		layers = append(layers, layer{"flags", func(k *koanf.Koanf) error {
			return k.Load(confmap.Provider(overrides, Delimiter), nil)
		}})
	}

	l.applied = l.applied[:0]
	for _, ly := range layers {
		if err := ly.load(l.k); err != nil {
			return nil, fmt.Errorf("config %s: %w", ly.name, err)
		}
		l.applied = append(l.applied, ly.name)
	}

	// An explicit null in the file removes a key; restore its default.
	for key, value := range defaults {
		if l.k.Exists(key) && l.k.Get(key) != nil {
			continue
		}
		if err := l.k.Set(key, value); err != nil {
			return nil, fmt.Errorf("config default %s: %w", key, err)
		}
	}

	var cfg Config
	if err := l.k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "mapstructure"}); err != nil {
		return nil, fmt.Errorf("config decode: %w", err)
	}
	if err := ValidateWithDetails(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Reload re-reads configPath from scratch with the overrides of the last
// Load, so keys removed from the file fall back to their defaults.
func (l *Loader) Reload(configPath string) (*Config, error) {
	l.k = koanf.New(Delimiter)
	return l.Load(configPath, l.overrides)
}

// File returns the config file the last Load read, or "" for none.
func (l *Loader) File() string {
	return l.file
}

// Sources lists the layers the last Load merged, lowest priority first.
func (l *Loader) Sources() []string {
	return append([]string(nil), l.applied...)
}

// Value returns the merged value of a dotted key.
func (l *Loader) Value(key string) any {
	return l.k.Get(key)
}

func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return json.Parser(), nil
	default:
		return nil, fmt.Errorf("unsupported config file format %q", filepath.Ext(path))
	}
}

func discover(paths []string) string {
	for _, p := range paths {
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			return p
		}
	}
	return ""
}

// envKey maps MEMOPT_SERVER__HTTP__READ_TIMEOUT to server.http.read_timeout.
func envKey(name string) string {
	key := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	return strings.ReplaceAll(key, EnvNestingSeparator, Delimiter)
}

// flatten turns a struct into dotted mapstructure keys. Nil maps and
// slices are left out so they do not shadow file values.
func flatten(v any) map[string]any {
	out := make(map[string]any)
	flattenValue(reflect.Indirect(reflect.ValueOf(v)), "", out)
	return out
}

func flattenValue(v reflect.Value, prefix string, out map[string]any) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("mapstructure")
		if !f.IsExported() || tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + Delimiter + tag
		}

		fv := v.Field(i)
		switch fv.Kind() {
		case reflect.Struct:
			flattenValue(fv, key, out)
		case reflect.Pointer:
			if !fv.IsNil() && fv.Elem().Kind() == reflect.Struct {
				flattenValue(fv.Elem(), key, out)
			}
		case reflect.Map, reflect.Slice:
			if !fv.IsNil() && fv.Len() > 0 {
				out[key] = fv.Interface()
			}
		default:
			out[key] = fv.Interface()
		}
	}
}
