package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/shadowkit/shadow-agent/internal/display"
)

const historySize = 8

// PauseControl toggles trigger handling. Implemented by *engine.Engine.
type PauseControl interface {
	Pause()
	Resume()
	IsPaused() bool
}

type eventMsg display.Event

type feedClosedMsg struct{}

// Model is the terminal monitor. It shows the newest cycle and a short
// history, fed by a display subscription.
type Model struct {
	events  <-chan display.Event
	control PauseControl

	latest  *display.Event
	history []display.Event
	paused  bool
	closed  bool

	width  int
	height int
}

func NewModel(events <-chan display.Event, control PauseControl) Model {
	m := Model{events: events, control: control, width: 80}
	if control != nil {
		m.paused = control.IsPaused()
	}
	return m
}

func (m Model) Init() tea.Cmd {
	return waitForEvent(m.events)
}

func waitForEvent(events <-chan display.Event) tea.Cmd {
	if events == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return feedClosedMsg{}
		}
		return eventMsg(ev)
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case eventMsg:
		m.apply(display.Event(msg))
		return m, waitForEvent(m.events)

	case feedClosedMsg:
		m.closed = true
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "p", " ":
			if m.control != nil {
				if m.control.IsPaused() {
					m.control.Resume()
				} else {
					m.control.Pause()
				}
				m.paused = m.control.IsPaused()
			}
		}
	}
	return m, nil
}

// apply folds ev into the view. Analysis events start a new row; later
// events for the same cycle update it in place.
func (m *Model) apply(ev display.Event) {
	if m.latest != nil && m.latest.CycleID == ev.CycleID {
		merged := *m.latest
		switch ev.Kind {
		case display.KindPersisted:
			merged.SourcePath = ev.SourcePath
			merged.LatestPath = ev.LatestPath
			if ev.Error != "" {
				merged.Error = ev.Error
			}
		case display.KindMic:
			merged.MicPath = ev.MicPath
		default:
			merged = ev
		}
		m.latest = &merged
		return
	}
	if ev.Kind != display.KindAnalysis {
		return
	}
	if m.latest != nil && ev.TriggeredAt.Before(m.latest.TriggeredAt) {
		return
	}

	if m.latest != nil {
		m.history = append([]display.Event{*m.latest}, m.history...)
		if len(m.history) > historySize {
			m.history = m.history[:historySize]
		}
	}
	latest := ev
	m.latest = &latest
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(DividerStyle.Render(strings.Repeat("─", max(m.width, 20))))
	b.WriteString("\n")

	if m.latest == nil {
		b.WriteString(DimStyle.Render("Waiting for a cut..."))
		b.WriteString("\n")
	} else {
		b.WriteString(m.renderLatest(*m.latest))
	}

	if len(m.history) > 0 {
		b.WriteString("\n")
		b.WriteString(LabelStyle.Render("Earlier"))
		b.WriteString("\n")
		for _, ev := range m.history {
			fmt.Fprintf(&b, "  %s  %s  %s\n",
				DimStyle.Render(ev.TriggeredAt.Format("15:04:05")),
				PitchStyle.Render(fmt.Sprintf("%9s", F0Label(ev.F0MedianHz))),
				ev.DisplayText)
		}
	}

	b.WriteString("\n")
	b.WriteString(m.renderFooter())
	return b.String()
}

func (m Model) renderHeader() string {
	title := TitleStyle.Render("shadow monitor")
	switch {
	case m.closed:
		return title + "  " + ErrorStyle.Render("feed closed")
	case m.paused:
		return title + "  " + PausedStyle.Render("PAUSED")
	}
	return title
}

func (m Model) renderLatest(ev display.Event) string {
	var b strings.Builder

	b.WriteString(LineStyle.Render(ev.DisplayText))
	b.WriteString("\n\n")

	row := func(label, value string) {
		fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render(fmt.Sprintf("%-8s", label)), value)
	}

	row("window", ValueStyle.Render(WindowLabel(ev)))
	if ev.Track != "" {
		row("track", ValueStyle.Render(ev.Track))
	}
	if ev.Error != "" && ev.Kind == display.KindAnalysis {
		row("error", ErrorStyle.Render(ev.Error))
		return b.String()
	}
	row("f0", PitchStyle.Render(F0Label(ev.F0MedianHz)))
	row("voiced", ValueStyle.Render(fmt.Sprintf("%.0f%%", ev.VoicedPct)))
	row("level", ValueStyle.Render(fmt.Sprintf("rms %.3f  peak %.3f", ev.RMS, ev.Peak)))
	row("latency", ValueStyle.Render(fmt.Sprintf("%d ms", ev.LatencyMs)))
	if c := Contour(ev.F0Hz, min(max(m.width-9, 10), 72)); c != "" {
		row("contour", PitchStyle.Render(c))
	}
	switch {
	case ev.SourcePath != "":
		row("clip", ValueStyle.Render(ev.SourcePath))
	case ev.Error != "":
		row("clip", ErrorStyle.Render(ev.Error))
	}
	if ev.MicPath != "" {
		row("mic", MicStyle.Render(ev.MicPath))
	}
	return b.String()
}

func (m Model) renderFooter() string {
	keys := []struct{ key, desc string }{
		{"p", "pause/resume"},
		{"q", "quit"},
	}
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = FooterKeyStyle.Render(k.key) + " " + FooterDescStyle.Render(k.desc)
	}
	return strings.Join(parts, "  ")
}

// RunMonitor blocks until the user quits or ctx is done.
func RunMonitor(ctx context.Context, events <-chan display.Event, control PauseControl) error {
	p := tea.NewProgram(NewModel(events, control), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
