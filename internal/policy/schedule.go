package policy

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Schedule is a set of weekly do-not-disturb windows.
type Schedule struct {
	Location *time.Location
	Windows  []Window
}

// Window covers [Start, End) on each of Days. A window whose end is not
// after its start runs past midnight into the following day.
type Window struct {
	Days  [7]bool
	Start time.Duration // offset from midnight
	End   time.Duration
}

type scheduleFile struct {
	Timezone string `yaml:"timezone"`
	Windows  []struct {
		Days  []string `yaml:"days"`
		Start string   `yaml:"start"`
		End   string   `yaml:"end"`
	} `yaml:"windows"`
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

func LoadSchedule(path string) (*Schedule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schedule: %w", err)
	}
	return ParseSchedule(data)
}

func ParseSchedule(data []byte) (*Schedule, error) {
	var f scheduleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	s := &Schedule{Location: time.Local}
	if f.Timezone != "" {
		loc, err := time.LoadLocation(f.Timezone)
		if err != nil {
			return nil, fmt.Errorf("timezone %q: %w", f.Timezone, err)
		}
		s.Location = loc
	}

	for i, w := range f.Windows {
		var win Window
		if len(w.Days) == 0 {
			return nil, fmt.Errorf("window %d: no days", i)
		}
		for _, d := range w.Days {
			d = strings.ToLower(strings.TrimSpace(d))
			if d == "*" || d == "all" {
				win.Days = [7]bool{true, true, true, true, true, true, true}
				continue
			}
			wd, ok := weekdays[d[:min(3, len(d))]]
			if !ok {
				return nil, fmt.Errorf("window %d: unknown day %q", i, d)
			}
			win.Days[wd] = true
		}
		var err error
		if win.Start, err = parseClock(w.Start); err != nil {
			return nil, fmt.Errorf("window %d: start: %w", i, err)
		}
		if win.End, err = parseClock(w.End); err != nil {
			return nil, fmt.Errorf("window %d: end: %w", i, err)
		}
		s.Windows = append(s.Windows, win)
	}
	return s, nil
}

func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// Contains reports whether t falls inside any window.
func (s *Schedule) Contains(t time.Time) bool {
	if s == nil {
		return false
	}
	if s.Location != nil {
		t = t.In(s.Location)
	}
	offset := time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second
	today := t.Weekday()
	yesterday := (today + 6) % 7

	for _, w := range s.Windows {
		if w.Start < w.End {
			if w.Days[today] && offset >= w.Start && offset < w.End {
				return true
			}
			continue
		}
		if w.Days[today] && offset >= w.Start {
			return true
		}
		if w.Days[yesterday] && offset < w.End {
			return true
		}
	}
	return false
}
