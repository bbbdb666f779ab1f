package ui

import (
	"log/slog"
	"sync"

	"github.com/getlantern/systray"

	"github.com/shadowkit/shadow-agent/internal/display"
)

// Tray is the menu bar surface: engine state, the newest result and a
// pause toggle.
type Tray struct {
	control PauseControl
	events  <-chan display.Event
	logger  *slog.Logger

	statusItem *systray.MenuItem
	lastItem   *systray.MenuItem
	lineItem   *systray.MenuItem
	pauseItem  *systray.MenuItem

	mu sync.Mutex

	onQuit func()
}

type TrayConfig struct {
	Control PauseControl
	Events  <-chan display.Event
	Logger  *slog.Logger
	OnQuit  func()
}

func NewTray(cfg TrayConfig) *Tray {
	return &Tray{
		control: cfg.Control,
		events:  cfg.Events,
		logger:  cfg.Logger,
		onQuit:  cfg.OnQuit,
	}
}

// Run blocks on the platform event loop until Quit.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) onReady() {
	systray.SetIcon(iconBytes)
	systray.SetTitle("Shadow")
	systray.SetTooltip("Shadow analysis engine")

	t.statusItem = systray.AddMenuItem(statusTitle(t.isPaused()), "Trigger handling")
	t.statusItem.Disable()

	t.lastItem = systray.AddMenuItem("Last: -", "Newest analysis")
	t.lastItem.Disable()

	t.lineItem = systray.AddMenuItem("", "Newest subtitle line")
	t.lineItem.Disable()
	t.lineItem.Hide()

	systray.AddSeparator()

	t.pauseItem = systray.AddMenuItem(pauseTitle(t.isPaused()), "Pause or resume trigger handling")

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Quit shadowd")

	go t.watchEvents()

	go func() {
		for {
			select {
			case <-t.pauseItem.ClickedCh:
				t.togglePause()
			case <-quitItem.ClickedCh:
				t.logger.Info("quit requested from tray")
				if t.onQuit != nil {
					t.onQuit()
				}
				systray.Quit()
				return
			}
		}
	}()

	t.logger.Info("system tray ready")
}

func (t *Tray) onExit() {
	t.logger.Info("system tray exiting")
}

func (t *Tray) watchEvents() {
	if t.events == nil {
		return
	}
	for ev := range t.events {
		if ev.Kind != display.KindAnalysis {
			continue
		}
		t.mu.Lock()
		t.lastItem.SetTitle(Summary(ev))
		if ev.DisplayText != "" {
			t.lineItem.SetTitle(truncate(ev.DisplayText, 48))
			t.lineItem.Show()
		}
		t.mu.Unlock()
	}
}

func (t *Tray) isPaused() bool {
	return t.control != nil && t.control.IsPaused()
}

func (t *Tray) togglePause() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.control == nil {
		return
	}

	if t.control.IsPaused() {
		t.control.Resume()
	} else {
		t.control.Pause()
	}
	paused := t.control.IsPaused()
	t.pauseItem.SetTitle(pauseTitle(paused))
	t.statusItem.SetTitle(statusTitle(paused))
}

func (t *Tray) Quit() {
	systray.Quit()
}

func statusTitle(paused bool) string {
	if paused {
		return "Status: Paused"
	}
	return "Status: Listening"
}

func pauseTitle(paused bool) string {
	if paused {
		return "Resume"
	}
	return "Pause"
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
