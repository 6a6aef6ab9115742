package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	statusLabelStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	statusDimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

var statusCmd = &cobra.Command{
	Use:     "status",
	Aliases: []string{"stat"},
	Short:   "Show daemon uptime, live children, and upcoming repeats",
	Run: func(cmd *cobra.Command, args []string) {
		c, err := connectAdmin()
		if err != nil {
			fatalf("%v", err)
		}
		st, err := c.Status()
		if err != nil {
			fatalf("status: %v", err)
		}

		if jsonOutput {
			outputJSON(st)
			return
		}

		fmt.Printf("%s  %v\n", statusLabelStyle.Render("uptime"), time.Duration(st.UptimeSeconds*float64(time.Second)).Round(time.Second))
		fmt.Printf("%s  %d\n", statusLabelStyle.Render("live children"), st.LiveChildren)
		fmt.Printf("%s  %s\n", statusLabelStyle.Render("daemon version"), st.DaemonVersion)

		if len(st.UpcomingRepeat) == 0 {
			fmt.Println(statusDimStyle.Render("no scheduled repeats"))
			return
		}
		fmt.Println(statusLabelStyle.Render("upcoming repeats"))
		for _, u := range st.UpcomingRepeat {
			at := time.Unix(u.At, 0)
			fmt.Printf("  %s  %s  %s\n", u.ID, at.Format(time.RFC3339), statusDimStyle.Render(time.Until(at).Round(time.Second).String()))
		}
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
