package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode"

	"gopkg.in/yaml.v3"
)

type ConfigSource struct {
	Phase  string
	Path   string
	Loaded bool
}

// runtimeFile holds the flattened YAML config for the current phase. Keys are
// UPPER_SNAKE paths, e.g. `rate_limit: {window: 1m}` becomes RATE_LIMIT_WINDOW.
type runtimeFile struct {
	once   sync.Once
	err    error
	values map[string]string
	loaded bool
	path   string
	phase  string
}

var runtimeCfg = &runtimeFile{}

// resetRuntimeConfig forgets the loaded file so tests can point CONFIG_FILE elsewhere.
func resetRuntimeConfig() {
	runtimeCfg = &runtimeFile{}
}

func CurrentConfigSource() (ConfigSource, error) {
	if err := ensureRuntimeConfigLoaded(); err != nil {
		return ConfigSource{}, err
	}
	return ConfigSource{
		Phase:  runtimeCfg.phase,
		Path:   runtimeCfg.path,
		Loaded: runtimeCfg.loaded,
	}, nil
}

func ensureRuntimeConfigLoaded() error {
	rt := runtimeCfg
	rt.once.Do(func() {
		rt.values = make(map[string]string)

		rt.phase = strings.TrimSpace(os.Getenv("CONFIG_PHASE"))
		if rt.phase == "" {
			rt.phase = "local"
		}

		path := strings.TrimSpace(os.Getenv("CONFIG_FILE"))
		explicit := path != ""
		if !explicit {
			path = filepath.Join("config", "config-"+rt.phase+".yaml")
		}

		body, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) && !explicit {
				return
			}
			rt.err = fmt.Errorf("read config file %q: %w", path, err)
			return
		}

		raw := make(map[string]any)
		if err := yaml.Unmarshal(body, &raw); err != nil {
			rt.err = fmt.Errorf("parse config file %q: %w", path, err)
			return
		}
		flattened, err := flattenConfig(raw)
		if err != nil {
			rt.err = fmt.Errorf("flatten config file %q: %w", path, err)
			return
		}

		rt.values = flattened
		rt.loaded = true
		rt.path = path
		if abs, err := filepath.Abs(path); err == nil {
			rt.path = abs
		}
	})
	return rt.err
}

func flattenConfig(raw map[string]any) (map[string]string, error) {
	out := make(map[string]string)
	for key, value := range raw {
		segment := normalizeKeySegment(key)
		if segment == "" {
			continue
		}
		if err := flattenConfigValue(segment, value, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func flattenConfigValue(prefix string, value any, out map[string]string) error {
	switch typed := value.(type) {
	case map[string]any:
		for key, child := range typed {
			if err := flattenChild(prefix, key, child, out); err != nil {
				return err
			}
		}
	case map[any]any:
		for key, child := range typed {
			text, ok := key.(string)
			if !ok {
				text = fmt.Sprint(key)
			}
			if err := flattenChild(prefix, text, child, out); err != nil {
				return err
			}
		}
	case []any:
		parts := make([]string, 0, len(typed))
		for _, item := range typed {
			switch scalar := item.(type) {
			case string:
				if s := strings.TrimSpace(scalar); s != "" {
					parts = append(parts, s)
				}
			case bool, int, int64, uint64, float64:
				parts = append(parts, fmt.Sprint(scalar))
			default:
				return fmt.Errorf("unsupported list item type %T under %q", item, prefix)
			}
		}
		out[prefix] = strings.Join(parts, ",")
	case nil:
	default:
		out[prefix] = fmt.Sprint(typed)
	}
	return nil
}

func flattenChild(prefix, key string, child any, out map[string]string) error {
	segment := normalizeKeySegment(key)
	if segment == "" {
		return nil
	}
	return flattenConfigValue(prefix+"_"+segment, child, out)
}

func normalizeKeySegment(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	pendingUnderscore := false
	for _, r := range strings.TrimSpace(raw) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingUnderscore && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingUnderscore = false
			b.WriteRune(unicode.ToUpper(r))
			continue
		}
		pendingUnderscore = true
	}
	return b.String()
}

// valueForKey prefers the environment over the runtime file.
func valueForKey(key string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	if err := ensureRuntimeConfigLoaded(); err != nil {
		return ""
	}
	return strings.TrimSpace(runtimeCfg.values[key])
}
