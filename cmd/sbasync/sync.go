package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MYKHIL/sbapromaster-sub000/internal/datasync"
	"github.com/MYKHIL/sbapromaster-sub000/internal/schema"
	"github.com/MYKHIL/sbapromaster-sub000/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Drain the offline queue, refresh, and save local edits",
	Long: `Run one full sync cycle against the document server:
  1. Check connectivity
  2. Upload writes waiting in the offline queue
  3. Merge remote changes into the local copy (dirty categories are kept)
  4. Upload the remaining local edits as a minimal diff`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		online := s.remote.Ping(ctx) == nil
		if _, err := s.svc.SetOnline(ctx, online); err != nil {
			return err
		}
		if !online {
			fmt.Printf("%s Document server unreachable; edits stay local\n", ui.RenderWarn("⚠"))
			return nil
		}

		res, err := s.svc.ProcessQueue(ctx)
		if err != nil {
			return err
		}
		printResult("Queue", res)

		res, err = s.svc.Refresh(ctx, false)
		if err != nil {
			return err
		}
		printResult("Refresh", res)

		res, err = s.svc.SaveAll(ctx, true)
		if err != nil {
			return err
		}
		printResult("Save", res)
		return nil
	},
}

var refreshCmd = &cobra.Command{
	Use:     "refresh [category...]",
	GroupID: "sync",
	Short:   "Fetch remote changes into the local copy",
	Long: `Fetch the school document and merge it into the local copy. Categories
with unsaved local edits are kept unless --force is given, in which case
the remote copy replaces them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cats, err := schema.ParseCategories(args)
		if err != nil {
			return err
		}
		force, _ := cmd.Flags().GetBool("force")

		ctx := cmd.Context()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		res, err := s.svc.Refresh(ctx, force, cats...)
		if err != nil {
			return err
		}
		printResult("Refresh", res)
		return nil
	},
}

var saveCmd = &cobra.Command{
	Use:     "save [category]",
	GroupID: "sync",
	Short:   "Upload local edits",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		var res datasync.SaveResult
		if len(args) == 1 {
			c, perr := schema.ParseCategory(args[0])
			if perr != nil {
				return perr
			}
			res, err = s.svc.SavePage(ctx, c)
		} else {
			res, err = s.svc.SaveAll(ctx, true)
		}
		if err != nil {
			return err
		}
		printResult("Save", res)
		return nil
	},
}

var pendingCmd = &cobra.Command{
	Use:     "pending",
	GroupID: "sync",
	Short:   "Preview the diff the next save would upload",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		payload := s.svc.GetPendingUploadData()
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(payload.Summary())
		}
		if payload.Empty() {
			fmt.Printf("%s Nothing to upload\n", ui.RenderPass("✓"))
			return nil
		}

		rows := make([][]string, 0)
		for _, ch := range payload.Summary() {
			rows = append(rows, []string{string(ch.Category), fmt.Sprint(ch.Updated), fmt.Sprint(ch.Deleted)})
		}
		fmt.Println(ui.RenderHeader("Pending upload"))
		fmt.Print(ui.Table([]string{"CATEGORY", "UPDATED", "DELETED"}, rows))
		fmt.Printf("\n%d operations\n", payload.Count())
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show the local sync state",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		printStatus(ctx, s)
		return nil
	},
}

func printStatus(ctx context.Context, s *session) {
	online := s.remote.Ping(ctx) == nil
	conn := ui.RenderPass("online")
	if !online {
		conn = ui.RenderWarn("offline")
	}

	dirty := "none"
	if cats := s.svc.DirtyCategories(); len(cats) > 0 {
		dirty = ui.RenderWarn(joinCategories(cats))
	}
	queued := "unknown"
	if n, err := s.svc.QueueSize(ctx); err == nil {
		queued = fmt.Sprint(n)
	}
	lastEdit := ui.RenderMuted("never")
	if t := s.svc.LastLocalEdit(); !t.IsZero() {
		lastEdit = t.Local().Format("2006-01-02 15:04:05")
	}

	ds := s.svc.Dataset()
	fmt.Println(ui.RenderHeader("SBA sync status"))
	fmt.Print(ui.KeyValues([][2]string{
		{"School", s.svc.SchoolID()},
		{"Name", ds.Settings.SchoolName},
		{"Server", cfg.Remote.URL + " (" + conn + ")"},
		{"Dirty", dirty},
		{"Score edits", fmt.Sprint(len(s.svc.PendingScoreEdits()))},
		{"Queued writes", queued},
		{"Last local edit", lastEdit},
		{"Records", fmt.Sprintf("%d students, %d classes, %d subjects, %d scores",
			len(ds.Students), len(ds.Classes), len(ds.Subjects), len(ds.Scores))},
	}))
}

func printResult(step string, res datasync.SaveResult) {
	line := fmt.Sprintf("%s %s", ui.RenderBold(step+":"), ui.RenderStatus(string(res.Status)))
	if len(res.Categories) > 0 {
		line += " " + ui.RenderMuted("["+joinCategories(res.Categories)+"]")
	}
	if res.Operations > 0 {
		line += fmt.Sprintf(" %d operations", res.Operations)
	}
	if res.Reason != "" {
		line += " " + ui.RenderMuted("("+res.Reason+")")
	}
	fmt.Println(line)
	if res.Err != nil {
		fmt.Printf("  %s %v\n", ui.RenderWarn("⚠"), res.Err)
	}
	for _, v := range res.Violations {
		fmt.Printf("  %s %v\n", ui.RenderFail("✗"), v)
	}
}

func joinCategories(cats []schema.Category) string {
	names := make([]string, len(cats))
	for i, c := range cats {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}

func init() {
	refreshCmd.Flags().Bool("force", false, "Replace dirty categories with the remote copy")
	pendingCmd.Flags().Bool("json", false, "Print the summary as JSON")

	rootCmd.AddCommand(syncCmd, refreshCmd, saveCmd, pendingCmd, statusCmd)
}
