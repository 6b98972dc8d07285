// Package agents holds the committee's personas: the built-in debaters, the
// moderator, and any custom members the user adds.
package agents

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/lorenzotomasdiez/committee/internal/domain"
)

// Role distinguishes debaters from the moderator.
type Role string

const (
	RoleDebater   Role = "debater"
	RoleModerator Role = "moderator"
)

var (
	// ErrUnknownAgent is returned when a selected key is not in the registry.
	ErrUnknownAgent = errors.New("unknown agent")
	// ErrNoDebaters is returned when a selection resolves to zero debaters.
	ErrNoDebaters = errors.New("no debaters selected")
	// ErrDuplicateAgent is returned when adding a key that already exists.
	ErrDuplicateAgent = errors.New("agent already exists")
)

var keyRe = regexp.MustCompile(`^[a-z][a-z0-9_-]{1,31}$`)

// Agent describes one committee member.
type Agent struct {
	Key         string `json:"key" yaml:"key"`
	Label       string `json:"label" yaml:"label"`
	Emoji       string `json:"emoji" yaml:"emoji"`
	Color       string `json:"color" yaml:"color"`
	Prompt      string `json:"prompt,omitempty" yaml:"prompt"`
	Builtin     bool   `json:"builtin" yaml:"-"`
	SortOrder   int    `json:"sort_order" yaml:"sort_order"`
	VoiceGender string `json:"voice_gender" yaml:"voice_gender"`
	Role        Role   `json:"role" yaml:"role"`
}

// Builtins returns the five default debaters and the moderator.
func Builtins() []Agent {
	return []Agent{
		{Key: "rationalist", Label: "Rationalist", Emoji: "🧮", Color: "#3B82F6", Prompt: rationalistPrompt, Builtin: true, SortOrder: 1, VoiceGender: "male", Role: RoleDebater},
		{Key: "advocate", Label: "Advocate", Emoji: "💜", Color: "#A855F7", Prompt: advocatePrompt, Builtin: true, SortOrder: 2, VoiceGender: "female", Role: RoleDebater},
		{Key: "contrarian", Label: "Contrarian", Emoji: "🔴", Color: "#EF4444", Prompt: contrarianPrompt, Builtin: true, SortOrder: 3, VoiceGender: "male", Role: RoleDebater},
		{Key: "visionary", Label: "Visionary", Emoji: "🔭", Color: "#14B8A6", Prompt: visionaryPrompt, Builtin: true, SortOrder: 4, VoiceGender: "female", Role: RoleDebater},
		{Key: "pragmatist", Label: "Pragmatist", Emoji: "🔧", Color: "#F59E0B", Prompt: pragmatistPrompt, Builtin: true, SortOrder: 5, VoiceGender: "male", Role: RoleDebater},
		{Key: domain.ModeratorKey, Label: "Moderator", Emoji: "🎯", Color: "#E5E7EB", Prompt: moderatorPrompt, Builtin: true, SortOrder: 1000, VoiceGender: "male", Role: RoleModerator},
	}
}

type customFile struct {
	Agents []Agent `yaml:"agents"`
}

// Registry is the ordered set of committee members. It is safe for
// concurrent use.
type Registry struct {
	mu      sync.RWMutex
	dataDir string
	agents  []Agent
	logger  *slog.Logger
}

// NewRegistry returns a registry holding only the built-in members, with no
// backing directory.
func NewRegistry() *Registry {
	r := &Registry{agents: Builtins(), logger: slog.Default()}
	r.sort()
	return r
}

// Load builds the registry from the built-ins, the custom members listed in
// <dataDir>/agents.yaml, and prompt overrides in <dataDir>/agents/<key>.md.
// A missing file or directory is not an error.
func Load(dataDir string, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{dataDir: dataDir, agents: Builtins(), logger: logger}

	custom, err := r.readCustom()
	if err != nil {
		return nil, err
	}
	for _, a := range custom {
		if err := validate(a); err != nil {
			logger.Warn("agents: skipping invalid custom agent", "key", a.Key, "error", err)
			continue
		}
		if _, ok := r.find(a.Key); ok {
			logger.Warn("agents: skipping custom agent shadowing an existing key", "key", a.Key)
			continue
		}
		a.Builtin = false
		a.Role = RoleDebater
		r.agents = append(r.agents, a)
	}

	for i := range r.agents {
		path := filepath.Join(dataDir, "agents", r.agents[i].Key+".md")
		b, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("agents: reading prompt override: %w", err)
		}
		if p := strings.TrimSpace(string(b)); p != "" {
			r.agents[i].Prompt = p
		}
	}

	r.sort()
	return r, nil
}

func (r *Registry) readCustom() ([]Agent, error) {
	b, err := os.ReadFile(filepath.Join(r.dataDir, "agents.yaml"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("agents: reading agents.yaml: %w", err)
	}
	var f customFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("agents: parsing agents.yaml: %w", err)
	}
	return f.Agents, nil
}

func (r *Registry) sort() {
	sort.SliceStable(r.agents, func(i, j int) bool {
		a, b := r.agents[i], r.agents[j]
		if (a.Role == RoleModerator) != (b.Role == RoleModerator) {
			return b.Role == RoleModerator
		}
		return a.SortOrder < b.SortOrder
	})
}

func (r *Registry) find(key string) (Agent, bool) {
	for _, a := range r.agents {
		if a.Key == key {
			return a, true
		}
	}
	return Agent{}, false
}

// All returns every member in registry order, moderator last.
func (r *Registry) All() []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Agent, len(r.agents))
	copy(out, r.agents)
	return out
}

// Get returns the member with key.
func (r *Registry) Get(key string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.find(key)
}

// Label returns the display label for key, or key itself when unknown.
func (r *Registry) Label(key string) string {
	if a, ok := r.Get(key); ok {
		return a.Label
	}
	return key
}

// Moderator returns the moderator.
func (r *Registry) Moderator() Agent {
	a, _ := r.Get(domain.ModeratorKey)
	return a
}

// Debaters resolves a selection of keys to debaters in registry order. An
// empty selection means every debater. Unknown or non-debater keys are
// rejected.
func (r *Registry) Debaters(selected []string) ([]Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	want := make(map[string]bool, len(selected))
	for _, k := range selected {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		a, ok := r.find(k)
		if !ok || a.Role != RoleDebater {
			return nil, fmt.Errorf("agents: %w: %q", ErrUnknownAgent, k)
		}
		want[k] = true
	}

	var out []Agent
	for _, a := range r.agents {
		if a.Role != RoleDebater {
			continue
		}
		if len(want) == 0 || want[a.Key] {
			out = append(out, a)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("agents: %w", ErrNoDebaters)
	}
	return out, nil
}

// SystemPrompt returns the full system prompt for key. Debaters get the
// spoken-style overlay; the moderator is told who took part.
func (r *Registry) SystemPrompt(key string, participants []Agent) string {
	a, ok := r.Get(key)
	if !ok {
		return SpokenStyleOverlay
	}
	if a.Role == RoleModerator {
		if len(participants) == 0 {
			return a.Prompt
		}
		return a.Prompt + "\n\nThe members who debated: " + ParticipantNames(participants) + "."
	}
	return a.Prompt + "\n\n" + SpokenStyleOverlay
}

// ParticipantNames joins labels as "The A, The B and The C".
func ParticipantNames(agents []Agent) string {
	names := make([]string, len(agents))
	for i, a := range agents {
		names[i] = "The " + a.Label
	}
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0]
	}
	return strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1]
}

// Add registers a custom debater and persists it to agents.yaml. Its sort
// order is placed after every existing debater when unset.
func (r *Registry) Add(a Agent) (Agent, error) {
	if err := validate(a); err != nil {
		return Agent{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.find(a.Key); ok {
		return Agent{}, fmt.Errorf("agents: %w: %q", ErrDuplicateAgent, a.Key)
	}
	a.Builtin = false
	a.Role = RoleDebater
	if a.VoiceGender == "" {
		a.VoiceGender = "male"
	}
	if a.Emoji == "" {
		a.Emoji = "💬"
	}
	if a.Color == "" {
		a.Color = "#9CA3AF"
	}
	if a.SortOrder == 0 {
		for _, existing := range r.agents {
			if existing.Role == RoleDebater && existing.SortOrder >= a.SortOrder {
				a.SortOrder = existing.SortOrder + 1
			}
		}
	}

	if r.dataDir != "" {
		custom, err := r.readCustom()
		if err != nil {
			return Agent{}, err
		}
		custom = append(custom, a)
		b, err := yaml.Marshal(customFile{Agents: custom})
		if err != nil {
			return Agent{}, fmt.Errorf("agents: encoding agents.yaml: %w", err)
		}
		if err := os.MkdirAll(r.dataDir, 0o755); err != nil {
			return Agent{}, fmt.Errorf("agents: %w", err)
		}
		if err := os.WriteFile(filepath.Join(r.dataDir, "agents.yaml"), b, 0o644); err != nil {
			return Agent{}, fmt.Errorf("agents: writing agents.yaml: %w", err)
		}
	}

	r.agents = append(r.agents, a)
	r.sort()
	r.logger.Info("agents: added custom agent", "key", a.Key)
	return a, nil
}

func validate(a Agent) error {
	if !keyRe.MatchString(a.Key) {
		return fmt.Errorf("agents: invalid key %q (lowercase letters, digits, - or _)", a.Key)
	}
	if strings.TrimSpace(a.Label) == "" {
		return fmt.Errorf("agents: label is required for %q", a.Key)
	}
	if strings.TrimSpace(a.Prompt) == "" {
		return fmt.Errorf("agents: prompt is required for %q", a.Key)
	}
	switch a.VoiceGender {
	case "", "male", "female":
	default:
		return fmt.Errorf("agents: voice_gender must be male or female, got %q", a.VoiceGender)
	}
	return nil
}
