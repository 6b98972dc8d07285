// Package output renders committee debates to the terminal and exports
// transcripts to disk.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/lorenzotomasdiez/committee/internal/agents"
	"github.com/lorenzotomasdiez/committee/internal/debate"
	"github.com/lorenzotomasdiez/committee/internal/domain"
	"github.com/lorenzotomasdiez/committee/internal/openrouter"
	"github.com/lorenzotomasdiez/committee/internal/playback"
	"github.com/lorenzotomasdiez/committee/internal/reveal"
)

// Colors used by the printer.
var (
	ColorRed    = lipgloss.Color("#EF4444")
	ColorGreen  = lipgloss.Color("#22C55E")
	ColorYellow = lipgloss.Color("#F59E0B")
	ColorCyan   = lipgloss.Color("#06B6D4")
	ColorGray   = lipgloss.Color("#6B7280")
)

// Printer writes styled debate output.
type Printer struct {
	w        io.Writer
	registry *agents.Registry

	header lipgloss.Style
	round  lipgloss.Style
	dim    lipgloss.Style
	bold   lipgloss.Style
	errorS lipgloss.Style
	r      *lipgloss.Renderer

	printed   map[domain.Slot]bool
	streaming domain.Slot
	open      bool
	line      string
}

// NewPrinter creates a printer writing to w. A nil w means stdout; a nil
// registry labels agents by key.
func NewPrinter(w io.Writer, registry *agents.Registry) *Printer {
	if w == nil {
		w = os.Stdout
	}
	if registry == nil {
		registry = agents.NewRegistry()
	}
	r := lipgloss.NewRenderer(w)
	return &Printer{
		w:        w,
		registry: registry,
		r:        r,
		header:   r.NewStyle().Bold(true).Foreground(ColorCyan),
		round:    r.NewStyle().Foreground(ColorYellow),
		dim:      r.NewStyle().Foreground(ColorGray),
		bold:     r.NewStyle().Bold(true),
		errorS:   r.NewStyle().Bold(true).Foreground(ColorRed),
	}
}

func (p *Printer) agentStyle(key string) lipgloss.Style {
	s := p.r.NewStyle().Bold(true)
	if a, ok := p.registry.Get(key); ok && a.Color != "" {
		s = s.Foreground(lipgloss.Color(a.Color))
	}
	return s
}

func (p *Printer) agentName(key string) string {
	a, ok := p.registry.Get(key)
	if !ok {
		return key
	}
	if a.Emoji == "" {
		return a.Label
	}
	return a.Emoji + " " + a.Label
}

// Banner prints a section heading.
func (p *Printer) Banner(title string) {
	fmt.Fprintf(p.w, "\n%s\n\n", p.header.Render("=== "+title+" ==="))
}

// Started prints the opening line of a run.
func (p *Printer) Started(dec *domain.Decision, agentKeys []string, quick bool) {
	mode := "full"
	if quick {
		mode = "quick"
	}
	names := make([]string, len(agentKeys))
	for i, k := range agentKeys {
		names[i] = p.registry.Label(k)
	}
	fmt.Fprintf(p.w, "%s %s\n", p.bold.Render("Decision:"), dec.Title)
	fmt.Fprintf(p.w, "%s\n", p.dim.Render(fmt.Sprintf("Committee: %s | Mode: %s", strings.Join(names, ", "), mode)))
}

// Reveal renders a live view. Transcript entries not printed yet are
// printed once each; the first in-progress turn grows on its own line as
// its visible text does. Call it with successive snapshots of one run.
func (p *Printer) Reveal(transcript []reveal.Entry, live []reveal.Live) {
	if p.printed == nil {
		p.printed = make(map[domain.Slot]bool)
	}
	for _, e := range transcript {
		slot := e.Slot()
		if p.printed[slot] {
			continue
		}
		p.printed[slot] = true
		if p.open && p.streaming == slot {
			p.finishLine(e.Content)
			continue
		}
		p.EndStream()
		p.PrintTurn(domain.DebateTurn{Round: e.Round, Exchange: e.Exchange, Agent: e.Agent, Content: e.Content})
	}
	for _, l := range live {
		if p.printed[l.Slot] || l.Text == "" {
			continue
		}
		if !p.open || p.streaming != l.Slot {
			p.EndStream()
			p.openLine(l.Slot)
		}
		p.extend(l.Text)
		return
	}
}

// EndStream terminates a line opened by Reveal.
func (p *Printer) EndStream() {
	if p.open {
		fmt.Fprintln(p.w)
		p.open = false
		p.line = ""
	}
}

func (p *Printer) openLine(slot domain.Slot) {
	fmt.Fprintf(p.w, "%s %s: ",
		p.round.Render("["+debate.RoundHeader(slot.Round, slot.Exchange)+"]"),
		p.agentStyle(slot.Agent).Render(p.agentName(slot.Agent)))
	p.streaming = slot
	p.open = true
	p.line = ""
}

// extend prints the part of text beyond what the open line already shows.
// Text that does not continue the line is ignored.
func (p *Printer) extend(text string) {
	if rest, ok := strings.CutPrefix(text, p.line); ok && rest != "" {
		fmt.Fprint(p.w, rest)
		p.line = text
	}
}

// finishLine completes the open line with the finalized content. When the
// streamed text was normalized afterwards, the streamed text stays as shown.
func (p *Printer) finishLine(content string) {
	p.extend(content)
	p.EndStream()
}

// PrintTurn prints a finalized turn in full.
func (p *Printer) PrintTurn(turn domain.DebateTurn) {
	fmt.Fprintf(p.w, "%s %s: %s\n",
		p.round.Render("["+debate.RoundHeader(turn.Round, turn.Exchange)+"]"),
		p.agentStyle(turn.Agent).Render(p.agentName(turn.Agent)),
		turn.Content,
	)
}

// PrintTranscript prints turns grouped under round headers.
func (p *Printer) PrintTranscript(turns []domain.DebateTurn) {
	cur := domain.RoundKey{Round: -1}
	for _, t := range turns {
		if k := (domain.RoundKey{Round: t.Round, Exchange: t.Exchange}); k != cur {
			cur = k
			p.Banner(debate.RoundHeader(t.Round, t.Exchange))
		}
		fmt.Fprintf(p.w, "%s: %s\n\n", p.agentStyle(t.Agent).Render(p.agentName(t.Agent)), t.Content)
	}
}

// PrintSummary prints the committee's recommendation and final votes.
func (p *Printer) PrintSummary(s *domain.Summary) {
	if s == nil {
		return
	}
	if rec := s.Recommendation; rec != nil {
		conf := p.r.NewStyle().Bold(true).Foreground(confidenceColor(rec.Confidence))
		fmt.Fprintf(p.w, "%s %s\n", p.bold.Render("Recommendation:"), rec.Choice)
		fmt.Fprintf(p.w, "%s %s\n", p.bold.Render("Confidence:"), conf.Render(rec.Confidence))
		if rec.Reasoning != "" {
			fmt.Fprintf(p.w, "%s %s\n", p.bold.Render("Reasoning:"), rec.Reasoning)
		}
		if rec.Tradeoffs != "" {
			fmt.Fprintf(p.w, "%s %s\n", p.bold.Render("Giving up:"), rec.Tradeoffs)
		}
		for i, step := range rec.NextSteps {
			fmt.Fprintf(p.w, "  %d. %s\n", i+1, step)
		}
	}
	if d := s.DebateSummary; d != nil && len(d.FinalVotes) > 0 {
		fmt.Fprintln(p.w, p.bold.Render("Final votes:"))
		for _, a := range p.registry.All() {
			if v, ok := d.FinalVotes[a.Key]; ok {
				fmt.Fprintf(p.w, "  %s: %s\n", p.agentStyle(a.Key).Render(a.Label), v)
			}
		}
	}
}

func confidenceColor(c string) lipgloss.Color {
	switch c {
	case "high":
		return ColorGreen
	case "low":
		return ColorRed
	}
	return ColorYellow
}

// PrintError prints a run-level failure.
func (p *Printer) PrintError(msg string) {
	fmt.Fprintf(p.w, "%s %s\n", p.errorS.Render("Error:"), msg)
}

// PrintDecision prints one decision's header fields.
func (p *Printer) PrintDecision(d *domain.Decision) {
	fmt.Fprintf(p.w, "%s %s\n", p.bold.Render(d.Title), p.dim.Render("("+d.ID+")"))
	fmt.Fprintf(p.w, "%s %s\n", p.bold.Render("Status:"), p.statusStyle(d.Status).Render(string(d.Status)))
	if d.DebateCompletedAt != nil {
		fmt.Fprintf(p.w, "%s %s\n", p.bold.Render("Debated:"), d.DebateCompletedAt.Local().Format(time.DateTime))
	}
	if d.UserChoice != "" {
		fmt.Fprintf(p.w, "%s %s\n", p.bold.Render("Chosen:"), d.UserChoice)
	}
}

// PrintDecisions prints a decision table.
func (p *Printer) PrintDecisions(ds []domain.Decision) {
	if len(ds) == 0 {
		fmt.Fprintln(p.w, p.dim.Render("No decisions yet."))
		return
	}
	idCol := p.r.NewStyle().Width(38)
	statusCol := p.r.NewStyle().Width(13)
	for _, d := range ds {
		fmt.Fprintf(p.w, "%s%s%s\n",
			idCol.Render(d.ID),
			statusCol.Inherit(p.statusStyle(d.Status)).Render(string(d.Status)),
			d.Title)
	}
}

func (p *Printer) statusStyle(s domain.Status) lipgloss.Style {
	switch s {
	case domain.StatusDebating:
		return p.r.NewStyle().Foreground(ColorYellow)
	case domain.StatusRecommended, domain.StatusDecided:
		return p.r.NewStyle().Foreground(ColorGreen)
	case domain.StatusReviewed:
		return p.dim
	}
	return p.r.NewStyle().Foreground(ColorCyan)
}

// PrintAgents lists the committee members.
func (p *Printer) PrintAgents(as []agents.Agent) {
	for _, a := range as {
		kind := "custom"
		if a.Builtin {
			kind = "built-in"
		}
		fmt.Fprintf(p.w, "%s %s %s\n",
			p.agentStyle(a.Key).Render(p.agentName(a.Key)),
			p.dim.Render("("+a.Key+", "+string(a.Role)+", "+kind+")"),
			p.dim.Render("voice: "+a.VoiceGender))
	}
}

// PrintModels lists gateway models, marking free ones.
func (p *Printer) PrintModels(ms []openrouter.Model, isFree func(openrouter.Model) bool) {
	free := p.r.NewStyle().Foreground(ColorGreen)
	for _, m := range ms {
		tag := ""
		if isFree != nil && isFree(m) {
			tag = " " + free.Render("free")
		}
		fmt.Fprintf(p.w, "%s %s%s\n", m.ID, p.dim.Render(m.Name), tag)
	}
}

// PrintProgress prints audio generation progress on one line.
func (p *Printer) PrintProgress(current, total int) {
	fmt.Fprintf(p.w, "\r%s %d/%d", p.dim.Render("audio"), current, total)
	if current >= total {
		fmt.Fprintln(p.w)
	}
}

// PrintPlayer renders the replay status line.
func (p *Printer) PrintPlayer(st playback.PlayerStatus, m *domain.AudioManifest, position time.Duration) {
	icon := "⏸"
	if st.Playing {
		icon = "▶"
	}
	agent := ""
	if m != nil && st.Index >= 0 && st.Index < len(m.Segments) {
		agent = p.agentName(m.Segments[st.Index].Agent)
	}
	var total time.Duration
	if m != nil {
		total = time.Duration(m.TotalDurationMS) * time.Millisecond
	}
	fmt.Fprintf(p.w, "\r%s %s / %s  %sx  %s\033[K",
		icon, clock(position), clock(total), trimFloat(st.Speed), agent)
}

func clock(d time.Duration) string {
	s := int(d.Round(time.Second).Seconds())
	return fmt.Sprintf("%d:%02d", s/60, s%60)
}

func trimFloat(f float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", f), "0"), ".")
}
