package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadFile reads a YAML scenario file and returns the validated scenario.
func LoadFile(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML scenario data and returns the validated scenario.
func Parse(data []byte) (*Scenario, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		errs := &ConfigurationError{}
		errs.Add("", fmt.Sprintf("invalid YAML: %v", err))
		return nil, errs
	}

	scenario, err := f.ToScenario()
	if err != nil {
		return nil, err
	}
	if err := scenario.Validate(); err != nil {
		return nil, err
	}
	return scenario, nil
}

// ToScenario converts the file form into a typed scenario, applying
// defaults for empty fields. The result is not validated.
func (f *File) ToScenario() (*Scenario, error) {
	errs := &ConfigurationError{}

	s := NewScenario(f.BaseURL, 1)
	if f.Name != "" {
		s.Name = f.Name
	}
	if f.Executor != "" {
		s.Executor = f.Executor
	}
	if f.StartVUs != nil {
		s.StartVUs = *f.StartVUs
	}
	if f.Message != "" {
		s.Message = f.Message
	}
	if f.TimestampDependency != nil {
		s.TimestampDependency = *f.TimestampDependency
	}
	s.ValidateSchema = f.ValidateSchema
	s.MaxIdleConnsPerHost = f.MaxIdleConnsPerHost
	s.MaxConnectionsPerHost = f.MaxConnectionsPerHost

	parseInto(&s.ThinkTime, "thinkTime", f.ThinkTime, errs)
	parseInto(&s.ControlTick, "tick", f.Tick, errs)
	parseInto(&s.DrainTimeout, "gracefulStop", f.GracefulStop, errs)
	parseInto(&s.RequestTimeout, "requestTimeout", f.RequestTimeout, errs)

	s.Stages = make([]Stage, 0, len(f.Stages))
	for i, sf := range f.Stages {
		field := fmt.Sprintf("stages[%d].duration", i)
		if strings.TrimSpace(sf.Duration) == "" {
			errs.Add(field, "duration is required")
			continue
		}
		d, err := ParseDurationString(sf.Duration)
		if err != nil {
			errs.Add(field, fmt.Sprintf("invalid duration: %v", err))
			continue
		}
		s.Stages = append(s.Stages, Stage{Target: sf.Target, Duration: d})
	}

	if errs.HasErrors() {
		return nil, errs
	}
	return s, nil
}

// parseInto overwrites dst when raw is set.
func parseInto(dst *time.Duration, field, raw string, errs *ConfigurationError) {
	if strings.TrimSpace(raw) == "" {
		return
	}
	d, err := ParseDurationString(raw)
	if err != nil {
		errs.Add(field, fmt.Sprintf("invalid duration: %v", err))
		return
	}
	*dst = d
}

// ParseDurationString parses a Go duration string. A bare integer is
// taken as seconds and an empty string is zero.
func ParseDurationString(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second, nil
	}

	return time.ParseDuration(s)
}

// ParseStages parses a compact stage list such as "2s:10,0:100,28s:100",
// where each entry is duration:target.
func ParseStages(raw string) ([]Stage, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	errs := &ConfigurationError{}
	var stages []Stage
	for i, part := range strings.Split(raw, ",") {
		field := fmt.Sprintf("stages[%d]", i)
		durStr, targetStr, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok {
			errs.Add(field, fmt.Sprintf("expected duration:target, got %q", part))
			continue
		}

		d, err := ParseDurationString(durStr)
		if err != nil {
			errs.Add(field+".duration", fmt.Sprintf("invalid duration: %v", err))
			continue
		}
		target, err := strconv.Atoi(strings.TrimSpace(targetStr))
		if err != nil {
			errs.Add(field+".target", fmt.Sprintf("invalid target: %v", err))
			continue
		}
		stages = append(stages, Stage{Target: target, Duration: d})
	}

	if errs.HasErrors() {
		return nil, errs
	}
	return stages, nil
}
