package display

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	ErrNoMatchingConfig = errors.New("no display config matches the selector")
	ErrInvalidConfig    = errors.New("display config has no spec")
)

// Duration reads either a Go duration string ("300ms") or a number of seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", value.Line)
	}
	if seconds, err := strconv.ParseFloat(value.Value, 64); err == nil {
		*d = Duration(seconds * float64(time.Second))
		return nil
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q", value.Line, value.Value)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

type Frame struct {
	Lines    []string `yaml:"lines"`
	Duration Duration `yaml:"duration"`
	Refresh  Duration `yaml:"refresh"`
}

// State is a named screen: static lines, or a sequence of frames.
type State struct {
	Lines   []string `yaml:"lines"`
	Seq     []Frame  `yaml:"seq"`
	Refresh Duration `yaml:"refresh"`
}

type Config struct {
	States map[string]State `yaml:"states"`
}

type document struct {
	Kind     string                 `yaml:"kind"`
	Metadata map[string]interface{} `yaml:"metadata"`
	Spec     *Config                `yaml:"spec"`
}

// LoadConfig returns the spec of the first document of r whose kind and
// every metadata pair match. An empty kind or a nil metadata matches anything.
func LoadConfig(r io.Reader, kind string, metadata map[string]string) (*Config, error) {
	decoder := yaml.NewDecoder(r)
	for {
		var doc document
		err := decoder.Decode(&doc)
		if errors.Is(err, io.EOF) {
			return nil, ErrNoMatchingConfig
		}
		if err != nil {
			return nil, fmt.Errorf("unable to interpret display config: %w", err)
		}

		if !doc.matches(kind, metadata) {
			continue
		}
		if doc.Spec == nil {
			return nil, ErrInvalidConfig
		}
		if err := doc.Spec.validate(); err != nil {
			return nil, err
		}
		return doc.Spec, nil
	}
}

func (doc *document) matches(kind string, metadata map[string]string) bool {
	if kind != "" && doc.Kind != kind {
		return false
	}
	for k, v := range metadata {
		got, ok := doc.Metadata[k]
		if !ok || fmt.Sprint(got) != v {
			return false
		}
	}
	return true
}

func (c *Config) validate() error {
	for name, state := range c.States {
		if len(state.Lines) > 0 && len(state.Seq) > 0 {
			return fmt.Errorf("display state %s: lines and seq are exclusive", name)
		}
		if state.Refresh < 0 {
			return fmt.Errorf("display state %s: negative refresh", name)
		}
		for i, frame := range state.Seq {
			if frame.Duration < 0 || frame.Refresh < 0 {
				return fmt.Errorf("display state %s frame %d: negative duration", name, i)
			}
		}
	}
	return nil
}
