package executor

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/wesleyorama2/rampvu/internal/loadgen"
	"github.com/wesleyorama2/rampvu/internal/loadgen/config"
	"github.com/wesleyorama2/rampvu/internal/loadgen/metrics"
)

// NewExecutor creates the executor named by the scenario.
func NewExecutor(scenario *config.Scenario, scheduler *loadgen.VUScheduler, aggregator *metrics.Aggregator, logger *zap.Logger) (Executor, error) {
	switch Type(scenario.Executor) {
	case TypeRampingVUs:
		return NewRampingVUs(scenario, scheduler, aggregator, logger), nil
	default:
		return nil, fmt.Errorf("unknown executor type: %s", scenario.Executor)
	}
}

// IsValidExecutorType checks if the given string is a valid executor type.
func IsValidExecutorType(executorType string) bool {
	for _, t := range GetSupportedExecutors() {
		if string(t) == executorType {
			return true
		}
	}
	return false
}

// GetSupportedExecutors returns a list of all supported executor types.
func GetSupportedExecutors() []Type {
	return []Type{TypeRampingVUs}
}
