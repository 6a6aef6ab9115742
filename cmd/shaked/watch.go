package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/chinaperrin/shaked/internal/adminrpc"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live-monitor daemon status over the admin channel",
	Run: func(cmd *cobra.Command, args []string) {
		interval, _ := cmd.Flags().GetDuration("interval")

		c, err := connectAdmin()
		if err != nil {
			fatalf("%v", err)
		}

		p := tea.NewProgram(newWatchModel(c, interval))
		if _, err := p.Run(); err != nil {
			fatalf("watch: %v", err)
		}
	},
}

func init() {
	watchCmd.Flags().Duration("interval", 2*time.Second, "poll interval")
	rootCmd.AddCommand(watchCmd)
}

type statusMsg struct {
	st  *adminrpc.StatusResponse
	err error
}

type watchModel struct {
	client   *adminrpc.Client
	interval time.Duration
	last     *adminrpc.StatusResponse
	lastErr  error
	repeats  table.Model
}

func newWatchModel(c *adminrpc.Client, interval time.Duration) watchModel {
	cols := []table.Column{
		{Title: "event", Width: 24},
		{Title: "at", Width: 20},
		{Title: "in", Width: 12},
	}
	t := table.New(table.WithColumns(cols), table.WithFocused(false), table.WithHeight(6))
	return watchModel{client: c, interval: interval, repeats: t}
}

func (m watchModel) Init() tea.Cmd {
	return m.poll()
}

func (m watchModel) poll() tea.Cmd {
	return func() tea.Msg {
		st, err := m.client.Status()
		return statusMsg{st: st, err: err}
	}
}

func (m watchModel) tick() tea.Cmd {
	return tea.Tick(m.interval, func(time.Time) tea.Msg { return m.poll()() })
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" || msg.String() == "esc" {
			return m, tea.Quit
		}
	case statusMsg:
		m.last, m.lastErr = msg.st, msg.err
		if m.last != nil {
			rows := make([]table.Row, 0, len(m.last.UpcomingRepeat))
			for _, u := range m.last.UpcomingRepeat {
				at := time.Unix(u.At, 0)
				rows = append(rows, table.Row{u.ID, at.Format(time.RFC3339), time.Until(at).Round(time.Second).String()})
			}
			m.repeats.SetRows(rows)
		}
		return m, m.tick()
	}

	var cmd tea.Cmd
	m.repeats, cmd = m.repeats.Update(msg)
	return m, cmd
}

var (
	watchTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	watchDimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func (m watchModel) View() string {
	if m.lastErr != nil {
		return fmt.Sprintf("%s %v\n%s\n", watchTitleStyle.Render("shaked watch —"), m.lastErr, watchDimStyle.Render("press q to quit"))
	}
	if m.last == nil {
		return "connecting...\n"
	}

	var b string
	b += watchTitleStyle.Render("shaked watch") + "\n"
	b += fmt.Sprintf("uptime: %v   live children: %d   daemon: v%s\n\n",
		time.Duration(m.last.UptimeSeconds*float64(time.Second)).Round(time.Second),
		m.last.LiveChildren, m.last.DaemonVersion)

	if len(m.last.UpcomingRepeat) == 0 {
		b += watchDimStyle.Render("no scheduled repeats") + "\n"
	} else {
		b += m.repeats.View() + "\n"
	}
	b += "\n" + watchDimStyle.Render("press q to quit")
	return b
}
