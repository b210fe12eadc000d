package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError describes one invalid configuration value.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ConfigurationError is returned when a scenario cannot be loaded.
// It is fatal: no VU is started when one is reported.
type ConfigurationError struct {
	Errors []*ValidationError
}

func (e *ConfigurationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration error"
	}
	if len(e.Errors) == 1 {
		return "configuration error: " + e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration error: %d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ConfigurationError) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ConfigurationError) HasErrors() bool {
	return len(e.Errors) > 0
}

// Validate checks the scenario and returns a *ConfigurationError listing
// every problem, or nil.
func (s *Scenario) Validate() error {
	errs := &ConfigurationError{}

	if s.Executor != ExecutorRampingVUs {
		errs.Add("executor", fmt.Sprintf("unknown executor type: %q", s.Executor))
	}

	validateBaseURL(s.BaseURL, errs)

	if s.StartVUs < 0 {
		errs.Add("startVUs", "startVUs cannot be negative")
	}

	if len(s.Stages) == 0 {
		errs.Add("stages", "at least one stage is required for ramping-vus executor")
	}
	for i, stage := range s.Stages {
		prefix := fmt.Sprintf("stages[%d]", i)
		if stage.Target < 0 {
			errs.Add(prefix+".target", "target cannot be negative")
		}
		if stage.Duration < 0 {
			errs.Add(prefix+".duration", "duration cannot be negative")
		}
	}

	if s.ThinkTime < 0 {
		errs.Add("thinkTime", "thinkTime cannot be negative")
	}
	if s.ControlTick <= 0 {
		errs.Add("tick", "tick must be greater than 0")
	}
	if s.DrainTimeout < 0 {
		errs.Add("gracefulStop", "gracefulStop cannot be negative")
	}
	if s.RequestTimeout < 0 {
		errs.Add("requestTimeout", "requestTimeout cannot be negative")
	}
	if s.MaxIdleConnsPerHost < 0 {
		errs.Add("maxIdleConnsPerHost", "cannot be negative")
	}
	if s.MaxConnectionsPerHost < 0 {
		errs.Add("maxConnectionsPerHost", "cannot be negative")
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// validateBaseURL requires an absolute http(s) URL.
func validateBaseURL(raw string, errs *ConfigurationError) {
	if raw == "" {
		errs.Add("baseUrl", "baseUrl is required")
		return
	}

	u, err := url.Parse(raw)
	if err != nil {
		errs.Add("baseUrl", fmt.Sprintf("invalid URL: %v", err))
		return
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		errs.Add("baseUrl", fmt.Sprintf("unsupported scheme %q", u.Scheme))
	}
	if u.Host == "" {
		errs.Add("baseUrl", "host is required")
	}
}
