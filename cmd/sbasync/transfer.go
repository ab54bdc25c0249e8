package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MYKHIL/sbapromaster-sub000/internal/transfer"
	"github.com/MYKHIL/sbapromaster-sub000/internal/ui"
)

var exportCmd = &cobra.Command{
	Use:     "export <file>",
	GroupID: "advanced",
	Short:   "Export the local dataset to a .json or .sdlx file",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		backup, _ := cmd.Flags().GetBool("backup")

		ctx := cmd.Context()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		res, err := transfer.Export(args[0], s.svc.Dataset(), transfer.Options{
			Backup:   backup,
			SchoolID: s.svc.SchoolID(),
		})
		if err != nil {
			return err
		}
		fmt.Printf("%s Exported %d records to %s\n", ui.RenderPass("✓"), res.Records, res.Path)
		if res.BackupCreated != "" {
			fmt.Printf("   Backup: %s\n", res.BackupCreated)
		}
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:     "import <file>",
	GroupID: "advanced",
	Short:   "Load a .json or .sdlx file into the local dataset",
	Long: `Load a dataset file into the local working copy. Every category in the
file replaces the local one and is marked for upload; the next save sends
the difference to the server. Invalid records are skipped and listed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, diags, err := transfer.Import(args[0])
		if err != nil {
			return err
		}
		for _, reason := range diags.Reasons {
			fmt.Printf("  %s %s\n", ui.RenderWarn("⚠"), reason)
		}
		if snap.Empty() {
			return fmt.Errorf("%s holds no valid records", args[0])
		}

		ctx := cmd.Context()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		res, err := s.svc.LoadImportedData(ctx, snap)
		if err != nil {
			return err
		}
		fmt.Printf("%s Loaded %d of %d records (%d skipped)\n",
			ui.RenderPass("✓"), diags.Loaded(), diags.Total, diags.Skipped)
		fmt.Printf("   Replaced: %s\n", joinCategories(res.Replaced))

		if save, _ := cmd.Flags().GetBool("save"); save {
			saveRes, err := s.svc.SaveAll(ctx, true)
			if err != nil {
				return err
			}
			printResult("Save", saveRes)
		}
		return nil
	},
}

func init() {
	exportCmd.Flags().Bool("backup", true, "Copy an existing file aside before replacing it")
	importCmd.Flags().Bool("save", false, "Upload the imported data immediately")

	rootCmd.AddCommand(exportCmd, importCmd)
}
