package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/yllada/travelnet/orchestrator"
)

var panelStyle = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(subtleColor).
	Padding(0, 1)

type snapshotMsg struct {
	snap orchestrator.Snapshot
	err  error
	at   time.Time
}

type refreshTickMsg struct{}

// watchModel is a live dashboard of both resources. It refreshes on an
// interval and on demand.
type watchModel struct {
	ctx      context.Context
	svc      Service
	interval time.Duration

	spinner    spinner.Model
	refreshing bool
	snap       orchestrator.Snapshot
	lastErr    error
	updated    time.Time
	width      int
}

func newWatchModel(ctx context.Context, svc Service, interval time.Duration) *watchModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(primaryColor)

	return &watchModel{
		ctx:        ctx,
		svc:        svc,
		interval:   interval,
		spinner:    s,
		refreshing: true,
		snap:       svc.Status(),
	}
}

// Watch runs the live dashboard until the user quits or ctx is done.
func (c *CLI) Watch(ctx context.Context, interval time.Duration) error {
	m := newWatchModel(ctx, c.svc, interval)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("error running dashboard: %w", err)
	}
	return nil
}

func (m *watchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.refresh())
}

func (m *watchModel) refresh() tea.Cmd {
	ctx, svc := m.ctx, m.svc
	return func() tea.Msg {
		snap, err := svc.Refresh(ctx)
		return snapshotMsg{snap: snap, err: err, at: time.Now()}
	}
}

func (m *watchModel) tick() tea.Cmd {
	return tea.Tick(m.interval, func(time.Time) tea.Msg {
		return refreshTickMsg{}
	})
}

func (m *watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "r":
			if m.refreshing {
				return m, nil
			}
			m.refreshing = true
			return m, m.refresh()
		}
		return m, nil
	case refreshTickMsg:
		if m.refreshing {
			return m, nil
		}
		m.refreshing = true
		return m, m.refresh()
	case snapshotMsg:
		m.refreshing = false
		m.snap = msg.snap
		m.lastErr = msg.err
		m.updated = msg.at
		return m, m.tick()
	}

	var cmd tea.Cmd
	m.spinner, cmd = m.spinner.Update(msg)
	return m, cmd
}

func (m *watchModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("TravelNet"))
	if m.refreshing {
		b.WriteString(" " + m.spinner.View())
	}
	b.WriteString("\n\n")

	ws := m.snap.Wireless
	wireless := fmt.Sprintf("Wireless  %s\n          %s", StyleWireless(ws), wirelessDetail(ws))

	ts := m.snap.Tunnel
	tunnel := fmt.Sprintf("Tunnel    %s\n          %s\nHealth    %s",
		StyleTunnel(ts), tunnelDetail(ts, m.snap), StyleHealth(m.snap.Health))

	b.WriteString(panelStyle.Render(wireless + "\n\n" + tunnel))
	b.WriteString("\n")

	if m.lastErr != nil {
		b.WriteString(errorStyle.Render("Refresh: "+m.lastErr.Error()) + "\n")
	}
	if !m.updated.IsZero() {
		b.WriteString(subtleStyle.Render("Updated "+m.updated.Local().Format("15:04:05")) + "\n")
	}
	b.WriteString(subtleStyle.Render("r refresh • q quit"))
	return b.String()
}
