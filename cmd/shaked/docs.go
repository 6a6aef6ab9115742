package main

import (
	_ "embed"
	"fmt"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
)

//go:embed runbook.md
var runbookMarkdown string

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Print the operator runbook",
	Run: func(cmd *cobra.Command, args []string) {
		plain, _ := cmd.Flags().GetBool("plain")
		if plain {
			fmt.Print(runbookMarkdown)
			return
		}

		out, err := glamour.Render(runbookMarkdown, "dark")
		if err != nil {
			// Rendering is a terminal-styling nicety; fall back to plain
			// markdown rather than failing the command outright.
			fmt.Print(runbookMarkdown)
			return
		}
		fmt.Print(out)
	},
}

func init() {
	docsCmd.Flags().Bool("plain", false, "print unrendered markdown")
	rootCmd.AddCommand(docsCmd)
}
