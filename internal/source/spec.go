package source

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	perrors "perfwatch/internal/errors"
)

// Spec is the resolved configuration of one source instance.
type Spec struct {
	Name     string
	Type     string
	Interval time.Duration
	Timeout  time.Duration
	Settings map[string]any
}

var settingsValidator = validator.New()

// Decode copies the free-form settings into out, a pointer to a struct with
// yaml tags, and validates it with its validate tags.
func (s Spec) Decode(out any) error {
	if len(s.Settings) > 0 {
		raw, err := yaml.Marshal(s.Settings)
		if err != nil {
			return perrors.ConfigError(fmt.Sprintf("source %s: encode settings: %v", s.Name, err), "settings")
		}
		if err := yaml.Unmarshal(raw, out); err != nil {
			return perrors.ConfigError(fmt.Sprintf("source %s: decode settings: %v", s.Name, err), "settings")
		}
	}
	if err := settingsValidator.Struct(out); err != nil {
		return perrors.ConfigError(fmt.Sprintf("source %s: invalid settings: %v", s.Name, err), "settings")
	}
	return nil
}

// TimeoutOr returns the configured timeout, or def when unset.
func (s Spec) TimeoutOr(def time.Duration) time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return def
}
