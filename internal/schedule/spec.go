package schedule

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Spec is a declarative schedule specification. Exactly one field is set
// per node; an empty top-level Spec describes an empty schedule.
type Spec struct {
	Interval   *IntervalSpec  `yaml:"interval,omitempty"`
	Intervals  []IntervalSpec `yaml:"intervals,omitempty"`
	Daily      *DailySpec     `yaml:"daily,omitempty"`
	Cron       *CronSpec      `yaml:"cron,omitempty"`
	Union      []Spec         `yaml:"union,omitempty"`
	Difference []Spec         `yaml:"difference,omitempty"`
}

// IntervalSpec is a single absolute interval. End and Duration are
// alternatives.
type IntervalSpec struct {
	Start    string `yaml:"start"`
	End      string `yaml:"end,omitempty"`
	Duration string `yaml:"duration,omitempty"`
}

// DailySpec is a recurring interval, one per calendar day from StartDate
// through EndDate inclusive. Either bound may be omitted.
type DailySpec struct {
	StartDate string `yaml:"start_date,omitempty"`
	EndDate   string `yaml:"end_date,omitempty"`
	StartTime string `yaml:"start_time"`
	EndTime   string `yaml:"end_time,omitempty"`
	Duration  string `yaml:"duration,omitempty"`
}

// CronSpec starts an interval of length Duration at every firing of a
// five-field cron expression.
type CronSpec struct {
	Expression string `yaml:"expression"`
	Duration   string `yaml:"duration"`
	StartDate  string `yaml:"start_date,omitempty"`
	EndDate    string `yaml:"end_date,omitempty"`
}

// Parse decodes a YAML schedule specification. Unknown keys are rejected.
func Parse(data []byte) (Spec, error) {
	var spec Spec
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil && !errors.Is(err, io.EOF) {
		return Spec{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return spec, nil
}

// ParseNode decodes a schedule embedded in a larger YAML document.
func ParseNode(node *yaml.Node) (Spec, error) {
	if node == nil || node.Kind == 0 {
		return Spec{}, nil
	}
	data, err := yaml.Marshal(node)
	if err != nil {
		return Spec{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return Parse(data)
}

func (s Spec) kinds() int {
	n := 0
	for _, set := range []bool{
		s.Interval != nil,
		s.Intervals != nil,
		s.Daily != nil,
		s.Cron != nil,
		s.Union != nil,
		s.Difference != nil,
	} {
		if set {
			n++
		}
	}
	return n
}
