package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/lorenzotomasdiez/committee/internal/debate"
	"github.com/lorenzotomasdiez/committee/internal/domain"
)

const maxSlugLen = 50

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Transcript is the exported record of one debate run.
type Transcript struct {
	Decision *domain.Decision      `json:"decision"`
	RunID    string                `json:"run_id,omitempty"`
	Turns    []domain.DebateTurn   `json:"turns"`
	Summary  *domain.Summary       `json:"summary,omitempty"`
	Manifest *domain.AudioManifest `json:"manifest,omitempty"`
}

// GenerateSlug turns a title into a lowercase, dash-separated folder name.
func GenerateSlug(title string) string {
	slug := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(title), "-"), "-")
	if len(slug) > maxSlugLen {
		slug = strings.TrimRight(slug[:maxSlugLen], "-")
	}
	if slug == "" {
		slug = "decision"
	}
	return slug
}

// CreateOutputDir creates base/<slug>-YYYYMMDD-HHMMSS.
func CreateOutputDir(base, slug string) (string, error) {
	dir := filepath.Join(base, slug+"-"+time.Now().Format("20060102-150405"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("output: %w", err)
	}
	return dir, nil
}

// Writer saves a debate's transcript, report and log into one directory.
type Writer struct {
	dir string

	mu  sync.Mutex
	log *os.File
}

// NewWriter creates a writer for dir.
func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

// Dir returns the output directory.
func (w *Writer) Dir() string { return w.dir }

// Log appends a timestamped line to debate.log immediately.
func (w *Writer) Log(msg string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.log == nil {
		f, err := os.OpenFile(filepath.Join(w.dir, "debate.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return
		}
		w.log = f
	}
	fmt.Fprintf(w.log, "%s %s\n", time.Now().Format(time.RFC3339), msg)
}

// WriteLog flushes and closes debate.log, creating it when nothing was logged.
func (w *Writer) WriteLog() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.log == nil {
		f, err := os.OpenFile(filepath.Join(w.dir, "debate.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("output: %w", err)
		}
		w.log = f
	}
	err := w.log.Close()
	w.log = nil
	if err != nil {
		return fmt.Errorf("output: %w", err)
	}
	return nil
}

// WriteJSON writes transcript.json.
func (w *Writer) WriteJSON(t *Transcript) error {
	b, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("output: encode transcript: %w", err)
	}
	if err := os.WriteFile(filepath.Join(w.dir, "transcript.json"), b, 0o644); err != nil {
		return fmt.Errorf("output: %w", err)
	}
	return nil
}

// WriteMarkdown writes report.md. label maps agent keys to display names.
func (w *Writer) WriteMarkdown(t *Transcript, label func(string) string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", t.Decision.Title)
	fmt.Fprintf(&b, "**Status**: %s\n\n", t.Decision.Status)

	if s := t.Summary; s != nil && s.Recommendation != nil {
		rec := s.Recommendation
		b.WriteString("## Recommendation\n\n")
		fmt.Fprintf(&b, "**Choice**: %s\n\n**Confidence**: %s\n\n", rec.Choice, rec.Confidence)
		if rec.Reasoning != "" {
			fmt.Fprintf(&b, "%s\n\n", rec.Reasoning)
		}
		for _, step := range rec.NextSteps {
			fmt.Fprintf(&b, "- %s\n", step)
		}
		if len(rec.NextSteps) > 0 {
			b.WriteString("\n")
		}
	}
	if s := t.Summary; s != nil && s.DebateSummary != nil && len(s.DebateSummary.FinalVotes) > 0 {
		b.WriteString("## Final Votes\n\n| Member | Vote |\n|--------|------|\n")
		for _, turn := range t.Turns {
			if v, ok := s.DebateSummary.FinalVotes[turn.Agent]; ok && turn.Round == 1 {
				fmt.Fprintf(&b, "| %s | %s |\n", label(turn.Agent), strings.ReplaceAll(v, "|", "\\|"))
			}
		}
		b.WriteString("\n")
	}

	b.WriteString("## Transcript\n")
	cur := domain.RoundKey{Round: -1}
	for _, turn := range t.Turns {
		if k := (domain.RoundKey{Round: turn.Round, Exchange: turn.Exchange}); k != cur {
			cur = k
			fmt.Fprintf(&b, "\n### %s\n\n", debate.RoundHeader(turn.Round, turn.Exchange))
		}
		fmt.Fprintf(&b, "**%s**: %s\n\n", label(turn.Agent), turn.Content)
	}

	if t.Manifest != nil && len(t.Manifest.Segments) > 0 {
		total := time.Duration(t.Manifest.TotalDurationMS) * time.Millisecond
		fmt.Fprintf(&b, "---\n\nAudio: %d segments, %s\n", len(t.Manifest.Segments), total.Round(time.Second))
	}

	if err := os.WriteFile(filepath.Join(w.dir, "report.md"), []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("output: %w", err)
	}
	return nil
}
