package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseDurationString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{
			name:     "standard seconds",
			input:    "30s",
			expected: 30 * time.Second,
		},
		{
			name:     "milliseconds",
			input:    "100ms",
			expected: 100 * time.Millisecond,
		},
		{
			name:     "combined duration",
			input:    "1h30m",
			expected: 90 * time.Minute,
		},
		{
			name:     "integer as seconds",
			input:    "28",
			expected: 28 * time.Second,
		},
		{
			name:     "zero",
			input:    "0",
			expected: 0,
		},
		{
			name:     "empty string",
			input:    "",
			expected: 0,
		},
		{
			name:     "negative is parsed, rejected later",
			input:    "-1s",
			expected: -time.Second,
		},
		{
			name:    "invalid format",
			input:   "abc",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDurationString(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseDurationString() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.expected {
				t.Errorf("ParseDurationString() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestParse_YAML(t *testing.T) {
	data := `
name: "message-api"
baseUrl: "http://localhost:1323"
executor: ramping-vus
startVUs: 1
thinkTime: 100ms
tick: 500ms
gracefulStop: 10s
stages:
  - target: 10
    duration: 2s
  - target: 100
    duration: "0"
  - target: 100
    duration: 28s
`
	s, err := Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if s.Name != "message-api" {
		t.Errorf("Name = %v, want %v", s.Name, "message-api")
	}
	if s.BaseURL != "http://localhost:1323" {
		t.Errorf("BaseURL = %v, want %v", s.BaseURL, "http://localhost:1323")
	}
	if s.StartVUs != 1 {
		t.Errorf("StartVUs = %v, want 1", s.StartVUs)
	}
	if s.ThinkTime != 100*time.Millisecond {
		t.Errorf("ThinkTime = %v, want 100ms", s.ThinkTime)
	}
	if s.ControlTick != 500*time.Millisecond {
		t.Errorf("ControlTick = %v, want 500ms", s.ControlTick)
	}
	if s.DrainTimeout != 10*time.Second {
		t.Errorf("DrainTimeout = %v, want 10s", s.DrainTimeout)
	}
	if !s.TimestampDependency {
		t.Error("TimestampDependency should default to true")
	}

	want := []Stage{
		{Target: 10, Duration: 2 * time.Second},
		{Target: 100, Duration: 0},
		{Target: 100, Duration: 28 * time.Second},
	}
	if len(s.Stages) != len(want) {
		t.Fatalf("len(Stages) = %v, want %v", len(s.Stages), len(want))
	}
	for i := range want {
		if s.Stages[i] != want[i] {
			t.Errorf("Stages[%d] = %+v, want %+v", i, s.Stages[i], want[i])
		}
	}

	if s.TotalDuration() != 30*time.Second {
		t.Errorf("TotalDuration() = %v, want 30s", s.TotalDuration())
	}
	if s.MaxTarget() != 100 {
		t.Errorf("MaxTarget() = %v, want 100", s.MaxTarget())
	}
}

func TestParse_Defaults(t *testing.T) {
	data := `
baseUrl: "http://localhost:1323"
stages:
  - target: 5
    duration: 1s
`
	s, err := Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if s.Executor != ExecutorRampingVUs {
		t.Errorf("Executor = %v, want %v", s.Executor, ExecutorRampingVUs)
	}
	if s.StartVUs != 1 {
		t.Errorf("StartVUs = %v, want 1", s.StartVUs)
	}
	if s.ThinkTime != DefaultThinkTime {
		t.Errorf("ThinkTime = %v, want %v", s.ThinkTime, DefaultThinkTime)
	}
	if s.ControlTick != DefaultControlTick {
		t.Errorf("ControlTick = %v, want %v", s.ControlTick, DefaultControlTick)
	}
	if s.Message != DefaultMessage {
		t.Errorf("Message = %v, want %v", s.Message, DefaultMessage)
	}
}

func TestParse_StartVUsZeroAndNoDependency(t *testing.T) {
	data := `
baseUrl: "http://localhost:1323"
startVUs: 0
timestampDependency: false
stages:
  - target: 5
    duration: 1s
`
	s, err := Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if s.StartVUs != 0 {
		t.Errorf("StartVUs = %v, want 0", s.StartVUs)
	}
	if s.TimestampDependency {
		t.Error("TimestampDependency = true, want false")
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("stages: [\n"))
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Parse() error = %v, want *ConfigurationError", err)
	}
}

func TestParse_InvalidStageDuration(t *testing.T) {
	data := `
baseUrl: "http://localhost:1323"
stages:
  - target: 5
    duration: soon
  - target: 5
`
	_, err := Parse([]byte(data))
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Parse() error = %v, want *ConfigurationError", err)
	}
	if len(cfgErr.Errors) != 2 {
		t.Errorf("len(Errors) = %d, want 2: %v", len(cfgErr.Errors), cfgErr)
	}
}

func TestParse_NegativeDuration(t *testing.T) {
	data := `
baseUrl: "http://localhost:1323"
stages:
  - target: 5
    duration: -2s
`
	_, err := Parse([]byte(data))
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Parse() error = %v, want *ConfigurationError", err)
	}
	if cfgErr.Errors[0].Field != "stages[0].duration" {
		t.Errorf("Field = %q, want stages[0].duration", cfgErr.Errors[0].Field)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scenario.yaml")
	content := `
name: "file-test"
baseUrl: "http://127.0.0.1:8080"
stages:
  - target: 2
    duration: 1s
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	s, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if s.Name != "file-test" {
		t.Errorf("Name = %v, want file-test", s.Name)
	}
}

func TestLoadFile_NotFound(t *testing.T) {
	_, err := LoadFile("/nonexistent/path/scenario.yaml")
	if err == nil {
		t.Error("LoadFile() expected error for nonexistent file")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("LoadFile() error = %v, want wrapped os.ErrNotExist", err)
	}
}

func TestParseStages(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []Stage
		wantErr bool
	}{
		{
			name:  "reference profile",
			input: "2s:10,0:100,28s:100",
			want: []Stage{
				{Target: 10, Duration: 2 * time.Second},
				{Target: 100, Duration: 0},
				{Target: 100, Duration: 28 * time.Second},
			},
		},
		{
			name:  "spaces tolerated",
			input: " 1m : 5 , 30s:0 ",
			want: []Stage{
				{Target: 5, Duration: time.Minute},
				{Target: 0, Duration: 30 * time.Second},
			},
		},
		{
			name:  "empty",
			input: "",
			want:  nil,
		},
		{
			name:    "missing target",
			input:   "2s",
			wantErr: true,
		},
		{
			name:    "bad target",
			input:   "2s:ten",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseStages(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseStages() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("ParseStages() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("stage %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestLoadFile_BundledScenario(t *testing.T) {
	scenario, err := LoadFile(filepath.Join("..", "..", "..", "scenarios", "message-ramp.yaml"))
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	want, err := ParseStages("2s:10,0:100,28s:100")
	if err != nil {
		t.Fatalf("ParseStages() error = %v", err)
	}
	if len(scenario.Stages) != len(want) {
		t.Fatalf("expected %d stages, got %d", len(want), len(scenario.Stages))
	}
	for i := range want {
		if scenario.Stages[i] != want[i] {
			t.Errorf("stage %d = %+v, want %+v", i, scenario.Stages[i], want[i])
		}
	}
	if scenario.TotalDuration() != 30*time.Second {
		t.Errorf("expected 30s total, got %v", scenario.TotalDuration())
	}
	if scenario.MaxTarget() != 100 {
		t.Errorf("expected max target 100, got %d", scenario.MaxTarget())
	}
}
