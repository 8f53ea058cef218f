package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

var environments = []string{"development", "staging", "production"}

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by their config key, e.g. optimizer.cache_ttl.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := f.Tag.Get("mapstructure")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("env", func(fl validator.FieldLevel) bool {
		return slices.Contains(environments, fl.Field().String())
	})
	_ = v.RegisterValidation("host", validateHost)
	_ = v.RegisterValidation("positive_duration", validatePositiveDuration)
	_ = v.RegisterValidation("origin", validateOrigin)
	v.RegisterStructValidation(validatePorts, Config{})
	return v
}

// ConfigError is one invalid config key.
type ConfigError struct {
	Field   string
	Message string
	Value   any
}

func (e ConfigError) Error() string {
	return fmt.Sprintf("%s: %s (got %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects every invalid key of a Config.
type ValidationErrors []ConfigError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, ce := range e {
		fmt.Fprintf(&sb, "  - %s\n", ce.Error())
	}
	return sb.String()
}

// Fields returns the dotted keys that failed.
func (e ValidationErrors) Fields() []string {
	out := make([]string, len(e))
	for i, ce := range e {
		out[i] = ce.Field
	}
	return out
}

// ValidateWithDetails validates cfg and returns ValidationErrors naming
// each failing key.
func ValidateWithDetails(cfg *Config) error {
	err := validate.Struct(cfg)
	var fes validator.ValidationErrors
	if !errors.As(err, &fes) {
		return err
	}
	details := make(ValidationErrors, 0, len(fes))
	for _, fe := range fes {
		field := fe.Namespace()
		if _, rest, ok := strings.Cut(field, "."); ok {
			field = rest
		}
		details = append(details, ConfigError{
			Field:   field,
			Message: describe(fe),
			Value:   fe.Value(),
		})
	}
	return details
}

func describe(fe validator.FieldError) string {
	p := fe.Param()
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "required_if":
		return "is required when " + p
	case "min":
		return "must be at least " + p
	case "max":
		return "must be at most " + p
	case "gte":
		return "must be greater than or equal to " + p
	case "lte":
		return "must be less than or equal to " + p
	case "gt":
		return "must be greater than " + p
	case "lt", "ltfield":
		return "must be less than " + p
	case "oneof":
		return "must be one of [" + p + "]"
	case "startswith":
		return fmt.Sprintf("must start with %q", p)
	case "env":
		return "must be one of [" + strings.Join(environments, " ") + "]"
	case "host":
		return "must be a hostname or IP address"
	case "positive_duration":
		return "must be a positive duration"
	case "origin":
		return `must be "*" or a scheme://host[:port] origin`
	case "port_conflict":
		return "must differ from " + p
	default:
		return "failed validation: " + fe.Tag()
	}
}

// validatePorts rejects a metrics listener on the API port.
func validatePorts(sl validator.StructLevel) {
	cfg := sl.Current().Interface().(Config)
	if cfg.Metrics.Enabled && cfg.Metrics.Port == cfg.Server.Port {
		sl.ReportError(cfg.Metrics.Port, "metrics.port", "Port", "port_conflict", "server.port")
	}
}

// validateHost accepts IP addresses, host:port pairs and hostnames made of
// letters, digits and '-', '.', '_' or ':'.
func validateHost(fl validator.FieldLevel) bool {
	host := fl.Field().String()
	if host == "" || net.ParseIP(host) != nil {
		return true
	}
	if h, _, err := net.SplitHostPort(host); err == nil && h != "" {
		host = h
	}
	return strings.IndexFunc(host, func(c rune) bool { return !isValidHostChar(c) }) < 0
}

func isValidHostChar(c rune) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	return strings.ContainsRune("-._:", c)
}

func validatePositiveDuration(fl validator.FieldLevel) bool {
	d, ok := fl.Field().Interface().(time.Duration)
	return ok && d > 0
}

// validateOrigin accepts "*" or a bare origin such as https://app.example.com.
func validateOrigin(fl validator.FieldLevel) bool {
	o := fl.Field().String()
	if o == "*" {
		return true
	}
	u, err := url.Parse(o)
	if err != nil || u.Host == "" {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Path == "" && u.RawQuery == "" && u.User == nil
}
