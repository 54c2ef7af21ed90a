package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is time.Duration with YAML (un)marshaling via Go's duration
// string syntax ("5s", "1m30s") — yaml.v3 has no built-in support for
// time.Duration, so every duration-valued Config field uses this instead.
type Duration time.Duration

func (d Duration) std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("config: duration must be a string (e.g. \"5s\"): %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}
