package main

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/MYKHIL/sbapromaster-sub000/internal/ui"
)

var queueCmd = &cobra.Command{
	Use:     "queue",
	GroupID: "sync",
	Short:   "Inspect and manage the offline write queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued writes, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		items, err := s.svc.QueueItems(ctx)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Printf("%s Queue is empty\n", ui.RenderPass("✓"))
			return nil
		}

		rows := make([][]string, 0, len(items))
		for _, item := range items {
			deleted := 0
			for _, ids := range item.Deletions {
				deleted += len(ids)
			}
			rows = append(rows, []string{
				item.ID,
				item.Timestamp.Local().Format(time.DateTime),
				joinCategories(item.Categories),
				fmt.Sprint(deleted),
				fmt.Sprint(item.RetryCount),
			})
		}
		fmt.Print(ui.Table([]string{"ID", "QUEUED", "CATEGORIES", "DELETIONS", "RETRIES"}, rows))
		return nil
	},
}

var queueReplayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Send every queued write exactly as it was recorded",
	Long: `Send queued writes one by one, oldest first, without consolidating them
against the current local copy. Older writes can overwrite newer remote
data. Prefer 'sbasync sync' unless you know the queue holds what you want.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		ok, err := confirm(yes, "Replay queued writes verbatim?",
			"Older writes may overwrite newer data on the server.")
		if err != nil || !ok {
			return err
		}

		ctx := cmd.Context()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		res, err := s.svc.ReplayQueue(ctx)
		if err != nil {
			return err
		}
		printResult("Replay", res)
		return nil
	},
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Discard every queued write",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		n, err := s.svc.QueueSize(ctx)
		if err != nil {
			return err
		}
		if n == 0 {
			fmt.Printf("%s Queue is empty\n", ui.RenderPass("✓"))
			return nil
		}

		yes, _ := cmd.Flags().GetBool("yes")
		ok, err := confirm(yes, fmt.Sprintf("Discard %d queued writes?", n),
			"Local edits stay in the working copy but will not be uploaded from the queue.")
		if err != nil || !ok {
			return err
		}
		if err := s.svc.ClearQueue(ctx); err != nil {
			return err
		}
		fmt.Printf("%s Cleared %d queued writes\n", ui.RenderPass("✓"), n)
		return nil
	},
}

// confirm asks a yes/no question. Without a terminal it refuses unless yes
// is set.
func confirm(yes bool, title, description string) (bool, error) {
	if yes {
		return true, nil
	}
	if !ui.IsTerminal(os.Stdin) || !ui.IsTerminal(os.Stdout) {
		return false, fmt.Errorf("refusing to continue without a terminal; pass --yes")
	}

	var ok bool
	err := huh.NewConfirm().
		Title(title).
		Description(description).
		Affirmative("Yes").
		Negative("No").
		Value(&ok).
		Run()
	if err != nil {
		return false, err
	}
	if !ok {
		fmt.Println(ui.RenderMuted("Cancelled"))
	}
	return ok, nil
}

func init() {
	queueReplayCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
	queueClearCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")

	queueCmd.AddCommand(queueListCmd, queueReplayCmd, queueClearCmd)
	rootCmd.AddCommand(queueCmd)
}
