package flow

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"uipilot/internal/browser"

	"gopkg.in/yaml.v3"
)

// File is a parsed flow file.
type File struct {
	Name  string
	Path  string
	Run   RunSection
	Steps []Step
}

// RunSection carries per-flow run settings. Zero values defer to the app config.
type RunSection struct {
	Driver         string
	StartURL       string
	Headless       *bool
	Deadline       time.Duration
	DiagnosticsDir string
	ViewportWidth  int
	ViewportHeight int
	UserAgent      string
	Defaults       Defaults
}

// Duration decodes Go duration strings ("1m30s") from YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	if parsed < 0 {
		return fmt.Errorf("line %d: negative duration %q", value.Line, s)
	}
	*d = Duration(parsed)
	return nil
}

// rawLocator is a single-key map such as {css: "a[href*=new]"}.
type rawLocator struct {
	browser.Locator
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *rawLocator) UnmarshalYAML(value *yaml.Node) error {
	var m map[string]string
	if err := value.Decode(&m); err != nil {
		return fmt.Errorf("line %d: locator must be a map like {css: ...}: %w", value.Line, err)
	}
	if len(m) != 1 {
		return fmt.Errorf("line %d: locator must have exactly one of css, text, xpath", value.Line)
	}
	for k, v := range m {
		l.Locator = browser.Locator{Kind: browser.LocatorKind(k), Value: v}
	}
	if err := l.Locator.Validate(); err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	return nil
}

type rawCondition struct {
	Kind     string       `yaml:"kind"`
	Value    string       `yaml:"value"`
	Locators []rawLocator `yaml:"locators"`
	Timeout  Duration     `yaml:"timeout"`
}

type rawStep struct {
	Name       string        `yaml:"name"`
	Action     string        `yaml:"action"`
	Locators   []rawLocator  `yaml:"locators"`
	URL        string        `yaml:"url"`
	Text       string        `yaml:"text"`
	Pattern    string        `yaml:"pattern"`
	Contains   []string      `yaml:"contains"`
	Timeout    Duration      `yaml:"timeout"`
	Interval   Duration      `yaml:"interval"`
	Backoff    Duration      `yaml:"backoff"`
	Retries    int           `yaml:"retries"`
	Verify     *rawCondition `yaml:"verify"`
	Checkpoint bool          `yaml:"checkpoint"`
	Progress   Duration      `yaml:"progress_every"`
}

type rawRun struct {
	Driver         string   `yaml:"driver"`
	StartURL       string   `yaml:"start_url"`
	Headless       *bool    `yaml:"headless"`
	Deadline       Duration `yaml:"deadline"`
	DiagnosticsDir string   `yaml:"diagnostics_dir"`
	Viewport       struct {
		Width  int `yaml:"width"`
		Height int `yaml:"height"`
	} `yaml:"viewport"`
	UserAgent string `yaml:"user_agent"`
	Defaults  struct {
		Timeout  Duration `yaml:"timeout"`
		Interval Duration `yaml:"interval"`
		Backoff  Duration `yaml:"backoff"`
	} `yaml:"defaults"`
}

type rawFile struct {
	Name  string    `yaml:"name"`
	Run   rawRun    `yaml:"run"`
	Steps []rawStep `yaml:"steps"`
}

func locators(raw []rawLocator) []browser.Locator {
	if len(raw) == 0 {
		return nil
	}
	out := make([]browser.Locator, len(raw))
	for i, r := range raw {
		out[i] = r.Locator
	}
	return out
}

func (r rawStep) step() Step {
	s := Step{
		Name:       r.Name,
		Action:     Action(r.Action),
		Locators:   locators(r.Locators),
		URL:        r.URL,
		Text:       r.Text,
		Pattern:    r.Pattern,
		Contains:   r.Contains,
		Timeout:    time.Duration(r.Timeout),
		Interval:   time.Duration(r.Interval),
		Backoff:    time.Duration(r.Backoff),
		Retries:    r.Retries,
		Checkpoint: r.Checkpoint,

		ProgressEvery: time.Duration(r.Progress),
	}
	if r.Verify != nil {
		s.Verify = &Condition{
			Kind:     ConditionKind(r.Verify.Kind),
			Value:    r.Verify.Value,
			Locators: locators(r.Verify.Locators),
			Timeout:  time.Duration(r.Verify.Timeout),
		}
	}
	return s
}

// Parse decodes and validates a flow document. Unknown keys are rejected.
func Parse(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var raw rawFile
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty flow file")
		}
		return nil, fmt.Errorf("failed to parse flow: %w", err)
	}

	f := &File{
		Name: raw.Name,
		Run: RunSection{
			Driver:         raw.Run.Driver,
			StartURL:       raw.Run.StartURL,
			Headless:       raw.Run.Headless,
			Deadline:       time.Duration(raw.Run.Deadline),
			DiagnosticsDir: raw.Run.DiagnosticsDir,
			ViewportWidth:  raw.Run.Viewport.Width,
			ViewportHeight: raw.Run.Viewport.Height,
			UserAgent:      raw.Run.UserAgent,
			Defaults: Defaults{
				Timeout:  time.Duration(raw.Run.Defaults.Timeout),
				Interval: time.Duration(raw.Run.Defaults.Interval),
				Backoff:  time.Duration(raw.Run.Defaults.Backoff),
			},
		},
	}
	for _, rs := range raw.Steps {
		f.Steps = append(f.Steps, rs.step())
	}

	if f.Name == "" {
		return nil, errors.New("flow name is required")
	}
	switch f.Run.Driver {
	case "", "rod", "static":
	default:
		return nil, fmt.Errorf("flow %q: unknown driver %q", f.Name, f.Run.Driver)
	}
	if err := ValidateSteps(f.Steps); err != nil {
		return nil, fmt.Errorf("flow %q: %w", f.Name, err)
	}
	return f, nil
}

// Load reads a flow file from disk.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read flow: %w", err)
	}
	f, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	f.Path = path
	return f, nil
}

// StepsWithDefaults returns the steps with unset timings filled from the flow
// defaults first and then from fallback.
func (f *File) StepsWithDefaults(fallback Defaults) []Step {
	d := f.Run.Defaults
	if d.Timeout <= 0 {
		d.Timeout = fallback.Timeout
	}
	if d.Interval <= 0 {
		d.Interval = fallback.Interval
	}
	if d.Backoff <= 0 {
		d.Backoff = fallback.Backoff
	}
	out := make([]Step, len(f.Steps))
	for i, s := range f.Steps {
		out[i] = s.WithDefaults(d)
	}
	return out
}
