// Package diag captures page snapshots for post-hoc failure analysis.
package diag

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"uipilot/internal/browser"

	"go.uber.org/zap"
)

// MaxExcerptRunes caps the visible text kept in a diagnostic.
const MaxExcerptRunes = 4000

// Diagnostic is one captured snapshot of page state.
type Diagnostic struct {
	RunID          string    `json:"run_id"`
	StepIndex      int       `json:"step_index"`
	Label          string    `json:"label"`
	Reason         string    `json:"reason,omitempty"`
	URL            string    `json:"url,omitempty"`
	Excerpt        string    `json:"excerpt,omitempty"`
	ScreenshotPath string    `json:"screenshot_path,omitempty"`
	TextPath       string    `json:"text_path,omitempty"`
	CapturedAt     time.Time `json:"captured_at"`
}

// Recorder writes diagnostics for one run. With an empty Dir diagnostics are
// kept in memory only.
type Recorder struct {
	Dir   string
	RunID string

	logger *zap.Logger

	mu    sync.Mutex
	taken []Diagnostic
}

// NewRecorder creates a recorder for runID writing under dir.
func NewRecorder(dir, runID string, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{Dir: dir, RunID: runID, logger: logger}
}

var unsafeLabel = regexp.MustCompile(`[^a-z0-9]+`)

func sanitize(label string) string {
	s := unsafeLabel.ReplaceAllString(strings.ToLower(label), "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return "snapshot"
	}
	if len(s) > 48 {
		s = strings.TrimRight(s[:48], "-")
	}
	return s
}

// BaseName returns the deterministic file stem for a step: step-NN-label.
// Step index 0 is used for captures outside any step.
func BaseName(stepIndex int, label string) string {
	return fmt.Sprintf("step-%02d-%s", stepIndex, sanitize(label))
}

func excerpt(text string) string {
	text = strings.TrimSpace(text)
	r := []rune(text)
	if len(r) <= MaxExcerptRunes {
		return text
	}
	return string(r[:MaxExcerptRunes]) + "..."
}

// Capture snapshots the page. Each part is best effort: a page that cannot
// produce a screenshot or text still yields a diagnostic with what it could
// gather. The error reports write failures only.
func (r *Recorder) Capture(ctx context.Context, page browser.Page, stepIndex int, label, reason string) (Diagnostic, error) {
	d := Diagnostic{
		RunID:      r.RunID,
		StepIndex:  stepIndex,
		Label:      label,
		Reason:     reason,
		CapturedAt: time.Now(),
	}

	var shot []byte
	if page != nil {
		if u, err := page.URL(ctx); err == nil {
			d.URL = u
		}
		if text, err := page.Text(ctx); err == nil {
			d.Excerpt = excerpt(text)
		}
		b, err := page.Screenshot(ctx)
		switch {
		case err == nil:
			shot = b
		case errors.Is(err, browser.ErrUnsupported):
		default:
			r.logger.Debug("screenshot failed", zap.Int("step", stepIndex), zap.Error(err))
		}
	}

	err := r.write(&d, shot)
	r.mu.Lock()
	r.taken = append(r.taken, d)
	r.mu.Unlock()

	r.logger.Info("diagnostic captured",
		zap.String("run", r.RunID),
		zap.Int("step", stepIndex),
		zap.String("label", label),
		zap.String("url", d.URL),
		zap.String("screenshot", d.ScreenshotPath),
		zap.String("text", d.TextPath))
	return d, err
}

// Note records a diagnostic without a page, e.g. when the browser never started.
func (r *Recorder) Note(stepIndex int, label, reason string) (Diagnostic, error) {
	return r.Capture(context.Background(), nil, stepIndex, label, reason)
}

func (r *Recorder) write(d *Diagnostic, shot []byte) error {
	if r.Dir == "" {
		return nil
	}
	runDir := filepath.Join(r.Dir, r.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return fmt.Errorf("create run directory: %w", err)
	}
	base := filepath.Join(runDir, BaseName(d.StepIndex, d.Label))

	var errs []error
	if len(shot) > 0 {
		path := base + ".png"
		if err := put(path, shot); err != nil {
			errs = append(errs, fmt.Errorf("write screenshot: %w", err))
		} else {
			d.ScreenshotPath = path
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "run: %s\n", d.RunID)
	fmt.Fprintf(&sb, "step: %d\n", d.StepIndex)
	fmt.Fprintf(&sb, "label: %s\n", d.Label)
	fmt.Fprintf(&sb, "captured_at: %s\n", d.CapturedAt.Format(time.RFC3339Nano))
	fmt.Fprintf(&sb, "url: %s\n", d.URL)
	if d.Reason != "" {
		fmt.Fprintf(&sb, "reason: %s\n", d.Reason)
	}
	sb.WriteString("\n")
	sb.WriteString(d.Excerpt)
	sb.WriteString("\n")

	path := base + ".txt"
	if err := put(path, []byte(sb.String())); err != nil {
		errs = append(errs, fmt.Errorf("write text snapshot: %w", err))
	} else {
		d.TextPath = path
	}
	return errors.Join(errs...)
}

// put writes data beside path and renames it into place, so a snapshot file
// is either absent or complete.
func put(path string, data []byte) error {
	tmp := path + ".partial"
	err := os.WriteFile(tmp, data, 0o644)
	if err == nil {
		err = os.Rename(tmp, path)
	}
	if err != nil {
		_ = os.Remove(tmp)
	}
	return err
}

// All returns every diagnostic captured so far, in capture order.
func (r *Recorder) All() []Diagnostic {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Diagnostic, len(r.taken))
	copy(out, r.taken)
	return out
}

// Last returns the most recent diagnostic.
func (r *Recorder) Last() (Diagnostic, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.taken) == 0 {
		return Diagnostic{}, false
	}
	return r.taken[len(r.taken)-1], true
}
