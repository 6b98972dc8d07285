package tts

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/lorenzotomasdiez/committee/internal/agents"
	"github.com/lorenzotomasdiez/committee/internal/domain"
	"github.com/lorenzotomasdiez/committee/internal/events"
)

type fakeProvider struct {
	mu     sync.Mutex
	calls  []string
	voices []Voice
	failOn map[string]bool
	size   int
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) DefaultVoice(agentKey, gender string) Voice {
	return Voice{ID: agentKey + "-" + gender}
}

func (f *fakeProvider) Synthesize(ctx context.Context, text string, voice Voice) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, text)
	f.voices = append(f.voices, voice)
	if f.failOn[text] {
		return nil, errors.New("synthesis failed")
	}
	size := f.size
	if size == 0 {
		size = 32000
	}
	return make([]byte, size), nil
}

type memStore struct {
	mu        sync.Mutex
	turns     []domain.DebateTurn
	manifests []*domain.AudioManifest
	deleted   int
}

func (m *memStore) LoadTurns(ctx context.Context, decisionID string) ([]domain.DebateTurn, error) {
	return m.turns, nil
}

func (m *memStore) SaveManifest(ctx context.Context, man *domain.AudioManifest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.manifests = append(m.manifests, man)
	return nil
}

func (m *memStore) DeleteManifest(ctx context.Context, decisionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.manifests = nil
	m.deleted++
	return nil
}

type recorder struct {
	mu  sync.Mutex
	evs []events.Event
}

func (r *recorder) Publish(ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evs = append(r.evs, ev)
}

func (r *recorder) ofType(t events.Type) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, ev := range r.evs {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func newPipeline(t *testing.T, prov Provider, store Store, rec events.Publisher) *Pipeline {
	t.Helper()
	return New(Config{
		Provider:  prov,
		Registry:  agents.NewRegistry(),
		Voices:    map[string]string{"contrarian": "custom-voice"},
		DataDir:   t.TempDir(),
		Store:     store,
		Publisher: rec,
	})
}

func TestSpokenText(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "round one labels",
			in:   "- **Position**: Take the job\n- **Key argument**: The pay is better .\n- **Concern**: Relocation",
			want: "Take the job The pay is better. Relocation",
		},
		{
			name: "headings and numbered list",
			in:   "## Summary\n1. First point\n2. `Second` point\n\n• __third__",
			want: "Summary First point Second point third",
		},
		{
			name: "final statement",
			in:   "**My vote**: Stay — stability wins\n**Remember this**: money isn't everything",
			want: "Stay — stability wins money isn't everything",
		},
		{
			name: "only markup falls back to original",
			in:   "  **  ",
			want: "**",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SpokenText(tc.in); got != tc.want {
				t.Errorf("SpokenText() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestSegmentFileNameAndDuration(t *testing.T) {
	if got := SegmentFileName(0, "rationalist", 1); got != "001_rationalist_r1.mp3" {
		t.Errorf("SegmentFileName = %q", got)
	}
	if got := SegmentFileName(20, "moderator", 99); got != "021_moderator_r99.mp3" {
		t.Errorf("SegmentFileName = %q", got)
	}
	if got := EstimateDuration(48000); got != 3000 {
		t.Errorf("EstimateDuration(48000) = %d, want 3000", got)
	}
}

func TestGenerateForTurnWritesFileAndUsesVoices(t *testing.T) {
	prov := &fakeProvider{}
	p := newPipeline(t, prov, &memStore{}, events.Discard)

	seg, err := p.GenerateForTurn(context.Background(), "d1", 2, domain.DebateTurn{
		Round: 2, Exchange: 1, Agent: "contrarian", Content: "**Position**: No",
	})
	if err != nil {
		t.Fatalf("GenerateForTurn: %v", err)
	}
	if seg.AudioFile != "003_contrarian_r2.mp3" || seg.DurationMS != 2000 {
		t.Errorf("unexpected segment: %+v", seg)
	}
	if seg.Text != "**Position**: No" {
		t.Errorf("segment text = %q, want the turn content", seg.Text)
	}
	if prov.calls[0] != "No" {
		t.Errorf("synthesized text = %q, want spoken form", prov.calls[0])
	}
	if _, err := os.Stat(filepath.Join(p.AudioDir("d1"), seg.AudioFile)); err != nil {
		t.Errorf("audio file missing: %v", err)
	}
	if prov.voices[0].ID != "custom-voice" {
		t.Errorf("voice override not applied: %+v", prov.voices[0])
	}

	p.GenerateForTurn(context.Background(), "d1", 3, domain.DebateTurn{Round: 1, Agent: "visionary", Content: "x"})
	if prov.voices[1].ID != "visionary-female" {
		t.Errorf("expected gender from registry, got %+v", prov.voices[1])
	}
}

func TestDisabledPipeline(t *testing.T) {
	p := newPipeline(t, nil, &memStore{}, events.Discard)
	if p.Enabled() {
		t.Fatal("pipeline without provider should be disabled")
	}
	if _, err := p.GenerateForDecision(context.Background(), "d1"); !errors.Is(err, ErrDisabled) {
		t.Errorf("expected ErrDisabled, got %v", err)
	}
	run := p.StartLive(context.Background(), "d1")
	if run != nil {
		t.Fatal("disabled pipeline should not start a live run")
	}
	if idx := run.Enqueue(domain.DebateTurn{}); idx != -1 {
		t.Errorf("nil run Enqueue = %d", idx)
	}
	if m, err := run.Finish(); m != nil || err != nil {
		t.Errorf("nil run Finish = %v, %v", m, err)
	}
}

func TestGenerateForDecisionSkipsFailures(t *testing.T) {
	store := &memStore{turns: []domain.DebateTurn{
		{Round: 1, Exchange: 1, Agent: "rationalist", Content: "one"},
		{Round: 1, Exchange: 1, Agent: "advocate", Content: "two"},
		{Round: 2, Exchange: 1, Agent: "rationalist", Content: "three"},
	}}
	prov := &fakeProvider{failOn: map[string]bool{"two": true}, size: 16000}
	rec := &recorder{}
	p := newPipeline(t, prov, store, rec)

	m, err := p.GenerateForDecision(context.Background(), "d1")
	if err != nil {
		t.Fatalf("GenerateForDecision: %v", err)
	}
	if len(m.Segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(m.Segments))
	}
	if m.Segments[0].Index != 0 || m.Segments[1].Index != 2 {
		t.Errorf("indices = %d,%d", m.Segments[0].Index, m.Segments[1].Index)
	}
	if m.Segments[1].StartMS != 2000 {
		t.Errorf("start of second = %d, want 2000 (1000ms + round gap)", m.Segments[1].StartMS)
	}
	if len(rec.ofType(events.AudioGenerationError)) != 1 {
		t.Error("expected one audio-generation-error")
	}
	progress := rec.ofType(events.AudioGenerationProgress)
	if len(progress) != 3 {
		t.Fatal("expected progress after each segment")
	}
	for i, want := range []string{"rationalist", "advocate", "rationalist"} {
		pr := progress[i].Payload.(events.Progress)
		if pr.Current != i+1 || pr.Total != 3 || pr.Agent != want {
			t.Errorf("progress[%d] = %+v, want agent %s", i, pr, want)
		}
	}
	if len(rec.ofType(events.AudioGenerationComplete)) != 1 || len(store.manifests) != 1 {
		t.Error("expected manifest saved and announced once")
	}

	raw, err := os.ReadFile(filepath.Join(p.AudioDir("d1"), ManifestFile))
	if err != nil {
		t.Fatalf("manifest.json not written: %v", err)
	}
	var onDisk domain.AudioManifest
	if err := json.Unmarshal(raw, &onDisk); err != nil || onDisk.TotalDurationMS != m.TotalDurationMS {
		t.Errorf("manifest.json mismatch: %v %+v", err, onDisk)
	}
}

func TestGenerateForDecisionAllFail(t *testing.T) {
	store := &memStore{turns: []domain.DebateTurn{{Round: 1, Agent: "rationalist", Content: "one"}}}
	p := newPipeline(t, &fakeProvider{failOn: map[string]bool{"one": true}}, store, events.Discard)
	if _, err := p.GenerateForDecision(context.Background(), "d1"); !errors.Is(err, ErrNoSegments) {
		t.Fatalf("expected ErrNoSegments, got %v", err)
	}
	if len(store.manifests) != 0 {
		t.Error("no manifest should be saved when every segment fails")
	}
}

func TestLiveRunProcessesInIndexOrder(t *testing.T) {
	prov := &fakeProvider{failOn: map[string]bool{"c": true}}
	store := &memStore{}
	rec := &recorder{}
	p := newPipeline(t, prov, store, rec)

	run := p.StartLive(context.Background(), "d1")
	for i, text := range []string{"a", "b", "c", "d"} {
		if idx := run.Enqueue(domain.DebateTurn{Round: 1, Exchange: 1, Agent: "rationalist", Content: text}); idx != i {
			t.Errorf("Enqueue #%d returned %d", i, idx)
		}
	}
	m, err := run.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if strings.Join(prov.calls, "") != "abcd" {
		t.Errorf("synthesis order = %v", prov.calls)
	}
	if len(m.Segments) != 3 {
		t.Fatalf("expected 3 successful segments, got %d", len(m.Segments))
	}

	ready := rec.ofType(events.SegmentAudioReady)
	if len(ready) != 3 {
		t.Fatalf("expected 3 ready events, got %d", len(ready))
	}
	for i, want := range []int{0, 1, 3} {
		if got := ready[i].Payload.(events.SegmentReady).Segment.Index; got != want {
			t.Errorf("ready[%d] index = %d, want %d", i, got, want)
		}
	}
	failed := rec.ofType(events.SegmentAudioError)
	if len(failed) != 1 || failed[0].Payload.(events.SegmentFailed).Index != 2 {
		t.Errorf("unexpected failure events: %+v", failed)
	}

	last := rec.ofType(events.AudioGenerationProgress)
	if len(last) != 4 || last[3].Payload.(events.Progress).Agent != "rationalist" {
		t.Errorf("live progress = %+v", last)
	}

	if run.Enqueue(domain.DebateTurn{Content: "late"}) != -1 {
		t.Error("Enqueue after Finish should be rejected")
	}
	again, _ := run.Finish()
	if again != m {
		t.Error("second Finish should return the first result")
	}
}

func TestLiveRunWithNothingEnqueued(t *testing.T) {
	store := &memStore{}
	p := newPipeline(t, &fakeProvider{}, store, events.Discard)
	m, err := p.StartLive(context.Background(), "d1").Finish()
	if m != nil || err != nil {
		t.Errorf("Finish = %v, %v", m, err)
	}
	if len(store.manifests) != 0 {
		t.Error("empty run should not save a manifest")
	}
}

func TestStartLiveDropsPreviousAudio(t *testing.T) {
	store := &memStore{}
	p := newPipeline(t, &fakeProvider{}, store, events.Discard)

	first := p.StartLive(context.Background(), "d1")
	first.Enqueue(domain.DebateTurn{Round: 1, Exchange: 1, Agent: "rationalist", Content: "a"})
	if _, err := first.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	dir := p.AudioDir("d1")
	if _, err := os.Stat(filepath.Join(dir, ManifestFile)); err != nil {
		t.Fatalf("manifest.json not written: %v", err)
	}

	// A re-run that ends before any turn is enqueued leaves no audio behind.
	m, err := p.StartLive(context.Background(), "d1").Finish()
	if m != nil || err != nil {
		t.Fatalf("Finish = %v, %v", m, err)
	}
	if len(store.manifests) != 0 || store.deleted != 1 {
		t.Errorf("stored manifest not dropped: manifests=%d deletes=%d", len(store.manifests), store.deleted)
	}
	left, _ := filepath.Glob(filepath.Join(dir, "*"))
	if len(left) != 0 {
		t.Errorf("stale files left: %v", left)
	}
}

func TestElevenLabsRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/text-to-speech/onwK4e9ZLuTAKqWW03F9" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("xi-api-key") != "el-key" {
			t.Errorf("missing xi-api-key header")
		}
		var req elevenLabsRequest
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &req)
		if req.ModelID != "eleven_multilingual_v2" || req.Text != "hello" || req.VoiceSettings.Stability != 0.7 {
			t.Errorf("unexpected request: %+v", req)
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("mp3-bytes"))
	}))
	defer server.Close()

	el := NewElevenLabs("el-key", server.Client()).WithBaseURL(server.URL)
	audio, err := el.Synthesize(context.Background(), "hello", el.DefaultVoice("rationalist", "male"))
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(audio) != "mp3-bytes" {
		t.Errorf("audio = %q", audio)
	}
}

func TestOpenAIRequestAndError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/speech" || r.Header.Get("Authorization") != "Bearer oa-key" {
			t.Errorf("unexpected request %s %q", r.URL.Path, r.Header.Get("Authorization"))
		}
		var req openAIRequest
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &req)
		if req.Voice == "bad" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte("unknown voice"))
			return
		}
		if req.Model != "tts-1" || req.ResponseFormat != "mp3" {
			t.Errorf("unexpected request: %+v", req)
		}
		w.Write([]byte("mp3"))
	}))
	defer server.Close()

	oa := NewOpenAI("oa-key", server.Client()).WithBaseURL(server.URL)
	if _, err := oa.Synthesize(context.Background(), "hi", oa.DefaultVoice("advocate", "")); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	_, err := oa.Synthesize(context.Background(), "hi", Voice{ID: "bad"})
	var perr *ProviderError
	if !errors.As(err, &perr) || perr.StatusCode != http.StatusBadRequest {
		t.Errorf("expected ProviderError 400, got %v", err)
	}
}

func TestDefaultVoices(t *testing.T) {
	el := NewElevenLabs("k", nil)
	if v := el.DefaultVoice("moderator", "male"); v.ID != "2EiwWnXFnvU5JabPnv8n" || v.SimilarityBoost != 0.9 {
		t.Errorf("moderator voice = %+v", v)
	}
	if v := el.DefaultVoice("economist", "female"); v.ID != "21m00Tcm4TlvDq8ikWAM" || v.Stability != 0.5 {
		t.Errorf("custom female voice = %+v", v)
	}
	oa := NewOpenAI("k", nil)
	if v := oa.DefaultVoice("pragmatist", ""); v.ID != "fable" {
		t.Errorf("pragmatist voice = %+v", v)
	}
	if v := oa.DefaultVoice("economist", "male"); v.ID != "onyx" {
		t.Errorf("custom male voice = %+v", v)
	}

	if p, err := NewProvider("elevenlabs", "", nil); p != nil || err != nil {
		t.Errorf("empty key should disable audio, got %v %v", p, err)
	}
	if _, err := NewProvider("polly", "k", nil); err == nil {
		t.Error("expected error for unknown provider")
	}
}
