package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fieldCase struct {
	name  string
	value any
	ok    bool
}

func checkField(t *testing.T, tag string, cases []fieldCase) {
	t.Helper()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validate.Var(tc.value, tag)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestValidator_PositiveDuration(t *testing.T) {
	checkField(t, "positive_duration", []fieldCase{
		{"source timeout", 750 * time.Millisecond, true},
		{"nanosecond", time.Nanosecond, true},
		{"zero", time.Duration(0), false},
		{"negative", -time.Minute, false},
		{"plain int", 5, false},
	})
}

func TestValidator_Host(t *testing.T) {
	checkField(t, "host", []fieldCase{
		{"unset", "", true},
		{"wildcard bind", "0.0.0.0", true},
		{"ipv6 loopback", "::1", true},
		{"ipv4 with port", "10.0.0.7:8080", true},
		{"service name", "memopt-api", true},
		{"fqdn", "memopt.svc.cluster.local", true},
		{"underscore", "memopt_api", true},
		{"space", "memopt api", false},
		{"slash", "memopt/api", false},
		{"newline", "memopt\napi", false},
	})
}

func TestValidator_Env(t *testing.T) {
	checkField(t, "env", []fieldCase{
		{"development", "development", true},
		{"production", "production", true},
		{"short form", "prod", false},
		{"empty", "", false},
	})
}

func TestValidator_Origin(t *testing.T) {
	checkField(t, "origin", []fieldCase{
		{"wildcard", "*", true},
		{"https", "https://console.example.com", true},
		{"http with port", "http://localhost:3000", true},
		{"trailing path", "https://console.example.com/ui", false},
		{"query", "https://console.example.com?x=1", false},
		{"no scheme", "console.example.com", false},
		{"ftp", "ftp://files.example.com", false},
		{"credentials", "https://user@console.example.com", false},
	})
}

func TestValidateWithDetails_KeysAndMessages(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Optimizer.CacheTTL = 0
	cfg.Optimizer.MaxBoostFactor = 4
	cfg.Metrics.Port = cfg.Server.Port
	cfg.App.Environment = "qa"

	err := ValidateWithDetails(cfg)
	var details ValidationErrors
	require.True(t, errors.As(err, &details), "got %T", err)

	assert.ElementsMatch(t, []string{
		"app.environment",
		"optimizer.cache_ttl",
		"optimizer.max_boost_factor",
		"metrics.port",
	}, details.Fields())

	byField := make(map[string]ConfigError, len(details))
	for _, d := range details {
		byField[d.Field] = d
	}
	assert.Equal(t, "must be a positive duration", byField["optimizer.cache_ttl"].Message)
	assert.Equal(t, "must be less than or equal to 3", byField["optimizer.max_boost_factor"].Message)
	assert.Equal(t, "must differ from server.port", byField["metrics.port"].Message)
	assert.Equal(t, "must be one of [development staging production]", byField["app.environment"].Message)
	assert.Equal(t, "qa", byField["app.environment"].Value)
}

func TestValidateWithDetails_Valid(t *testing.T) {
	assert.NoError(t, ValidateWithDetails(DefaultConfig()))
}

func TestIsValidHostChar(t *testing.T) {
	for _, c := range "azAZ09-._:" {
		assert.True(t, isValidHostChar(c), "%q", c)
	}
	for _, c := range " !@#$%/\t" {
		assert.False(t, isValidHostChar(c), "%q", c)
	}
}
