package location

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"tracklog/internal/types"
)

// planFile is the on-disk YAML shape of an acquisition plan:
//
//	providers:
//	  - provider: network
//	    timeout: 6s
//	    max_age: 10s
//	  - provider: gps
//	    timeout: 12s
//	    max_age: 2s
type planFile struct {
	Providers []planStep `yaml:"providers"`
}

type planStep struct {
	Provider string `yaml:"provider"`
	Timeout  string `yaml:"timeout"`
	MaxAge   string `yaml:"max_age"`
}

// validKinds are the provider selectors a plan file may name.
var validKinds = map[types.ProviderKind]bool{
	types.ProviderNetwork: true,
	types.ProviderGPS:     true,
	types.ProviderFused:   true,
	types.ProviderNone:    true,
}

// LoadPlan reads an acquisition plan from a YAML file. Durations use Go
// syntax ("6s", "500ms"). An omitted max_age disables the staleness hint
// for that step.
func LoadPlan(path string) ([]Attempt, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeConfigInvalid,
			fmt.Sprintf("failed to read strategy file %s", path), err)
	}
	return ParsePlan(raw)
}

// ParsePlan decodes and validates plan YAML.
func ParsePlan(raw []byte) ([]Attempt, error) {
	var file planFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, types.NewAppError(types.ErrCodeConfigInvalid,
			"strategy file is not valid YAML", err)
	}
	if len(file.Providers) == 0 {
		return nil, types.NewAppError(types.ErrCodeConfigInvalid,
			"strategy file names no providers", nil)
	}

	attempts := make([]Attempt, 0, len(file.Providers))
	for i, step := range file.Providers {
		kind := types.ProviderKind(step.Provider)
		if !validKinds[kind] {
			return nil, types.NewAppError(types.ErrCodeConfigInvalid,
				fmt.Sprintf("step %d: unknown provider %q", i, step.Provider), nil)
		}

		timeout, err := time.ParseDuration(step.Timeout)
		if err != nil || timeout <= 0 {
			return nil, types.NewAppError(types.ErrCodeConfigInvalid,
				fmt.Sprintf("step %d (%s): invalid timeout %q", i, step.Provider, step.Timeout), err)
		}

		var maxAge time.Duration
		if step.MaxAge != "" {
			maxAge, err = time.ParseDuration(step.MaxAge)
			if err != nil || maxAge < 0 {
				return nil, types.NewAppError(types.ErrCodeConfigInvalid,
					fmt.Sprintf("step %d (%s): invalid max_age %q", i, step.Provider, step.MaxAge), err)
			}
		}

		attempts = append(attempts, Attempt{
			Provider: kind,
			Timeout:  timeout,
			MaxAge:   maxAge,
		})
	}

	return attempts, nil
}
