// Package policy decides when an audit issue is due for a reminder.
//
// A Config lists day offsets relative to an issue's resolution date. The
// engine functions in this package are pure: they take the records, the
// policy and the evaluation date and return a selection without touching
// any state.
package policy

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// DefaultOffsets are the day offsets enabled on a fresh install.
var DefaultOffsets = []int{30, 14, 7, 3, 1, 0}

// Offset fires a reminder DayOffset days before the resolution date.
type Offset struct {
	DayOffset int  `yaml:"day_offset" json:"day_offset"`
	Enabled   bool `yaml:"enabled" json:"enabled"`
}

// UnmarshalYAML accepts the legacy days_before key and defaults enabled to true.
func (o *Offset) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		DayOffset  *int  `yaml:"day_offset"`
		DaysBefore *int  `yaml:"days_before"`
		Enabled    *bool `yaml:"enabled"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	switch {
	case raw.DayOffset != nil:
		o.DayOffset = *raw.DayOffset
	case raw.DaysBefore != nil:
		o.DayOffset = *raw.DaysBefore
	default:
		return fmt.Errorf("line %d: reminder interval has no day_offset", value.Line)
	}
	o.Enabled = true
	if raw.Enabled != nil {
		o.Enabled = *raw.Enabled
	}
	return nil
}

// Config is the ordered reminder policy.
type Config struct {
	Intervals []Offset `yaml:"reminder_intervals" json:"reminder_intervals"`
}

// Default returns the policy with every default offset enabled.
func Default() Config {
	cfg := Config{Intervals: make([]Offset, 0, len(DefaultOffsets))}
	for _, d := range DefaultOffsets {
		cfg.Intervals = append(cfg.Intervals, Offset{DayOffset: d, Enabled: true})
	}
	return cfg
}

// Validate rejects negative offsets.
func (c Config) Validate() error {
	for _, o := range c.Intervals {
		if o.DayOffset < 0 {
			return fmt.Errorf("invalid day offset %d: must be >= 0", o.DayOffset)
		}
	}
	return nil
}

// Clone returns a copy that shares no backing array with c.
func (c Config) Clone() Config {
	out := Config{Intervals: make([]Offset, len(c.Intervals))}
	copy(out.Intervals, c.Intervals)
	return out
}

// Normalize collapses duplicate offsets. The last entry for an offset
// decides its enabled flag; the position of the first entry is kept.
func (c Config) Normalize() Config {
	pos := make(map[int]int, len(c.Intervals))
	out := Config{Intervals: make([]Offset, 0, len(c.Intervals))}
	for _, o := range c.Intervals {
		if i, ok := pos[o.DayOffset]; ok {
			out.Intervals[i].Enabled = o.Enabled
			continue
		}
		pos[o.DayOffset] = len(out.Intervals)
		out.Intervals = append(out.Intervals, o)
	}
	return out
}

// Fires reports whether a reminder fires at days before the deadline.
// With duplicate entries for the same offset the last one wins.
func (c Config) Fires(days int) bool {
	fires := false
	for _, o := range c.Intervals {
		if o.DayOffset == days {
			fires = o.Enabled
		}
	}
	return fires
}

// EnabledOffsets lists the enabled offsets in policy order, deduplicated.
func (c Config) EnabledOffsets() []int {
	var out []int
	for _, o := range c.Normalize().Intervals {
		if o.Enabled {
			out = append(out, o.DayOffset)
		}
	}
	return out
}

// Has reports whether the policy has an entry for offset.
func (c Config) Has(offset int) bool {
	for _, o := range c.Intervals {
		if o.DayOffset == offset {
			return true
		}
	}
	return false
}

// Set enables or disables offset, appending it when it is not listed.
func (c *Config) Set(offset int, enabled bool) error {
	if offset < 0 {
		return fmt.Errorf("invalid day offset %d: must be >= 0", offset)
	}
	found := false
	for i := range c.Intervals {
		if c.Intervals[i].DayOffset == offset {
			c.Intervals[i].Enabled = enabled
			found = true
		}
	}
	if !found {
		c.Intervals = append(c.Intervals, Offset{DayOffset: offset, Enabled: enabled})
	}
	return nil
}

// Remove deletes every entry for offset and reports whether any existed.
func (c *Config) Remove(offset int) bool {
	kept := c.Intervals[:0]
	removed := false
	for _, o := range c.Intervals {
		if o.DayOffset == offset {
			removed = true
			continue
		}
		kept = append(kept, o)
	}
	c.Intervals = kept
	return removed
}
