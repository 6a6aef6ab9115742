package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"
)

var replayCmd = &cobra.Command{
	Use:   "replay <event-id>",
	Short: "Re-inject a stored event through the resolver under an operator action",
	Long: `replay re-dispatches an already-known event id through the same resolver
entry point the main control loop uses, tagging the
dispatch with an operator-chosen action string.

--at accepts a natural-language time ("in 10 minutes", "tomorrow at 9am"); the
command blocks until that time before replaying. Without --at the replay is
immediate.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id := args[0]
		action, _ := cmd.Flags().GetString("action")
		at, _ := cmd.Flags().GetString("at")
		yes, _ := cmd.Flags().GetBool("yes")

		var waitUntil time.Time
		if at != "" {
			w := when.New(nil)
			w.Add(en.All...)
			w.Add(common.All...)
			r, err := w.Parse(at, time.Now())
			if err != nil || r == nil {
				fatalf("could not parse --at %q", at)
			}
			waitUntil = r.Time
		}

		if !yes && !jsonOutput {
			confirmMsg := fmt.Sprintf("Replay %s as action %q", id, action)
			if !waitUntil.IsZero() {
				confirmMsg += fmt.Sprintf(" at %s", waitUntil.Format(time.RFC3339))
			}
			confirmMsg += "?"

			var confirmed bool
			if err := huh.NewConfirm().
				Title(confirmMsg).
				Affirmative("Replay").
				Negative("Cancel").
				Value(&confirmed).
				Run(); err != nil {
				fatalf("confirm: %v", err)
			}
			if !confirmed {
				fmt.Println("aborted")
				return
			}
		}

		if !waitUntil.IsZero() {
			if d := time.Until(waitUntil); d > 0 {
				time.Sleep(d)
			}
		}

		c, err := connectAdmin()
		if err != nil {
			fatalf("%v", err)
		}
		if err := c.Replay(id, action); err != nil {
			fatalf("replay: %v", err)
		}

		if jsonOutput {
			outputJSON(map[string]string{"id": id, "action": action, "status": "replayed"})
			return
		}
		fmt.Printf("replayed %s as %q\n", id, action)
	},
}

func init() {
	replayCmd.Flags().String("action", "operator replay", "action string the replayed event is tagged with")
	replayCmd.Flags().String("at", "", "natural-language time to delay the replay until")
	replayCmd.Flags().Bool("yes", false, "skip the confirmation prompt")
	rootCmd.AddCommand(replayCmd)
}
