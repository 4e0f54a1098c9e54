// Package flow defines the data-driven step list consumed by the engine and
// loads it from YAML flow files.
package flow

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"uipilot/internal/browser"
)

// Action is what a step does once its target resolves.
type Action string

const (
	ActionNavigate Action = "navigate" // load Step.URL
	ActionClick    Action = "click"    // click the first matching locator
	ActionType     Action = "type"     // type Step.Text into the first matching locator
	ActionWait     Action = "wait"     // resolve a locator, no action
	ActionExtract  Action = "extract"  // poll page text and links for Step.Pattern
)

// ConditionKind selects what a Condition checks.
type ConditionKind string

const (
	ConditionText    ConditionKind = "text"    // visible text contains Value
	ConditionURL     ConditionKind = "url"     // current URL contains Value
	ConditionPresent ConditionKind = "present" // one of Locators resolves
	ConditionAbsent  ConditionKind = "absent"  // none of Locators resolves
)

// Condition is a post-action check evaluated through the poller.
type Condition struct {
	Kind     ConditionKind     `json:"kind"`
	Value    string            `json:"value,omitempty"`
	Locators []browser.Locator `json:"locators,omitempty"`
	Timeout  time.Duration     `json:"timeout,omitempty"`
}

// Step is one named find-and-act unit. Locators are tried in declared order
// and the first one that resolves wins.
type Step struct {
	Name     string            `json:"name"`
	Action   Action            `json:"action"`
	Locators []browser.Locator `json:"locators,omitempty"`

	URL      string   `json:"url,omitempty"`
	Text     string   `json:"text,omitempty"`
	Pattern  string   `json:"pattern,omitempty"`
	Contains []string `json:"contains,omitempty"`

	Timeout  time.Duration `json:"timeout"`
	Interval time.Duration `json:"interval"`
	Backoff  time.Duration `json:"backoff"`
	Retries  int           `json:"retries"`

	Verify     *Condition `json:"verify,omitempty"`
	Checkpoint bool       `json:"checkpoint,omitempty"`
	// ProgressEvery, when positive, snapshots the page at most this often
	// while the step is still polling. Zero disables progress captures.
	ProgressEvery time.Duration `json:"progress_every,omitempty"`
}

// Defaults fill unset step timing fields.
type Defaults struct {
	Timeout  time.Duration
	Interval time.Duration
	Backoff  time.Duration
}

// DefaultDefaults mirrors the config package defaults.
func DefaultDefaults() Defaults {
	return Defaults{
		Timeout:  15 * time.Second,
		Interval: 500 * time.Millisecond,
		Backoff:  2 * time.Second,
	}
}

// WithDefaults returns a copy of the step with unset timings filled in.
func (s Step) WithDefaults(d Defaults) Step {
	if s.Timeout <= 0 {
		s.Timeout = d.Timeout
	}
	if s.Interval <= 0 {
		s.Interval = d.Interval
	}
	if s.Backoff <= 0 {
		s.Backoff = d.Backoff
	}
	if s.Verify != nil && s.Verify.Timeout <= 0 {
		v := *s.Verify
		v.Timeout = s.Timeout
		s.Verify = &v
	}
	return s
}

// Validate reports configuration errors for a single step.
func (s Step) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("step name is required")
	}
	if s.Retries < 0 {
		return fmt.Errorf("step %q: retries must not be negative", s.Name)
	}
	if s.ProgressEvery < 0 {
		return fmt.Errorf("step %q: progress_every must not be negative", s.Name)
	}
	for _, loc := range s.Locators {
		if err := loc.Validate(); err != nil {
			return fmt.Errorf("step %q: %w", s.Name, err)
		}
	}

	switch s.Action {
	case ActionNavigate:
		if s.URL == "" {
			return fmt.Errorf("step %q: navigate requires url", s.Name)
		}
		if len(s.Locators) > 0 {
			return fmt.Errorf("step %q: navigate takes no locators", s.Name)
		}
	case ActionClick, ActionWait:
		if len(s.Locators) == 0 {
			return fmt.Errorf("step %q: %s requires at least one locator", s.Name, s.Action)
		}
	case ActionType:
		if len(s.Locators) == 0 {
			return fmt.Errorf("step %q: type requires at least one locator", s.Name)
		}
	case ActionExtract:
		if s.Pattern == "" {
			return fmt.Errorf("step %q: extract requires pattern", s.Name)
		}
		if _, err := regexp.Compile(s.Pattern); err != nil {
			return fmt.Errorf("step %q: bad pattern: %w", s.Name, err)
		}
	default:
		return fmt.Errorf("step %q: unknown action %q", s.Name, s.Action)
	}

	if s.Verify != nil {
		if err := s.Verify.Validate(); err != nil {
			return fmt.Errorf("step %q: verify: %w", s.Name, err)
		}
	}
	return nil
}

// Validate reports configuration errors for a condition.
func (c Condition) Validate() error {
	switch c.Kind {
	case ConditionText, ConditionURL:
		if c.Value == "" {
			return fmt.Errorf("%s condition requires value", c.Kind)
		}
	case ConditionPresent, ConditionAbsent:
		if len(c.Locators) == 0 {
			return fmt.Errorf("%s condition requires locators", c.Kind)
		}
		for _, loc := range c.Locators {
			if err := loc.Validate(); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unknown condition kind %q", c.Kind)
	}
	return nil
}

// ValidateSteps validates a whole step list.
func ValidateSteps(steps []Step) error {
	if len(steps) == 0 {
		return errors.New("flow has no steps")
	}
	for i, s := range steps {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	return nil
}

// Navigate builds a navigate step.
func Navigate(name, url string) Step {
	return Step{Name: name, Action: ActionNavigate, URL: url}
}

// Click builds a click step over ordered locator candidates.
func Click(name string, locators ...browser.Locator) Step {
	return Step{Name: name, Action: ActionClick, Locators: locators}
}

// Type builds a type step.
func Type(name, text string, locators ...browser.Locator) Step {
	return Step{Name: name, Action: ActionType, Text: text, Locators: locators}
}

// Wait builds a wait step.
func Wait(name string, locators ...browser.Locator) Step {
	return Step{Name: name, Action: ActionWait, Locators: locators}
}

// Extract builds an extract step polling for pattern.
func Extract(name, pattern string) Step {
	return Step{Name: name, Action: ActionExtract, Pattern: pattern}
}
