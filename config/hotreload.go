package config

import (
	"reflect"
	"sort"
	"strings"
)

// HotReloadable is the part of Config that running components accept
// without a restart. The source guard settings of Optimizer are always zero:
// the guard is built once at startup.
type HotReloadable struct {
	LogLevel  string
	Optimizer OptimizerConfig
}

// ExtractHotReloadable extracts the hot-reloadable values of cfg.
func ExtractHotReloadable(cfg *Config) HotReloadable {
	opt := cfg.Optimizer
	opt.SourceTimeout = 0
	opt.SourceRateLimit = 0
	opt.SourceBurst = 0
	return HotReloadable{
		LogLevel:  cfg.Log.Level,
		Optimizer: opt,
	}
}

// Apply returns a copy of cfg carrying the values of h. Everything that is
// not hot-reloadable, the source guard settings included, keeps cfg's value.
func (h HotReloadable) Apply(cfg *Config) *Config {
	live := *cfg
	live.Log.Level = h.LogLevel
	opt := h.Optimizer
	opt.SourceTimeout = cfg.Optimizer.SourceTimeout
	opt.SourceRateLimit = cfg.Optimizer.SourceRateLimit
	opt.SourceBurst = cfg.Optimizer.SourceBurst
	live.Optimizer = opt
	return &live
}

// Changed reports whether any hot-reloadable value differs.
func (h HotReloadable) Changed(other HotReloadable) bool {
	return h != other
}

func isHotKey(key string) bool {
	if key == "log.level" {
		return true
	}
	return strings.HasPrefix(key, "optimizer.") && !strings.HasPrefix(key, "optimizer.source_")
}

// Diff lists the dotted keys whose values differ between a and b, split
// into those applied live and those that only take effect after a restart.
func Diff(a, b *Config) (hot, restart []string) {
	fa, fb := flatten(a), flatten(b)
	keys := make(map[string]struct{}, len(fa))
	for k := range fa {
		keys[k] = struct{}{}
	}
	for k := range fb {
		keys[k] = struct{}{}
	}

	for k := range keys {
		if reflect.DeepEqual(fa[k], fb[k]) {
			continue
		}
		if isHotKey(k) {
			hot = append(hot, k)
		} else {
			restart = append(restart, k)
		}
	}
	sort.Strings(hot)
	sort.Strings(restart)
	return hot, restart
}
