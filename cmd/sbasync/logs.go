package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/MYKHIL/sbapromaster-sub000/internal/config"
)

var logsCmd = &cobra.Command{
	Use:     "logs",
	GroupID: "advanced",
	Short:   "Print the sbasync log file",
	Long: `Print lines of the log file (log.file, or log.sync_file with --sync).

--since accepts a duration ("90m") or a natural phrase such as
"2 hours ago", "yesterday" or "last monday".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		useSync, _ := cmd.Flags().GetBool("sync")
		sinceText, _ := cmd.Flags().GetString("since")

		name := cfg.Log.File
		if useSync {
			name = cfg.Log.SyncFile
		}
		if name == "" {
			return fmt.Errorf("no log file configured; set log.file or log.sync_file")
		}
		path := config.ResolvePath(name, cfg.DataDir)

		var since time.Time
		if sinceText != "" {
			t, err := parseSince(sinceText, time.Now())
			if err != nil {
				return err
			}
			since = t
		}

		// #nosec G304 - controlled path from config
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open log: %w", err)
		}
		defer f.Close()
		return filterLog(f, os.Stdout, since)
	},
}

var whenParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// parseSince turns a duration or a natural-language time into an absolute
// time before now.
func parseSince(text string, now time.Time) (time.Time, error) {
	if d, err := time.ParseDuration(strings.TrimSpace(text)); err == nil {
		return now.Add(-d), nil
	}
	r, err := whenParser.Parse(text, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse --since %q: %w", text, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("failed to parse --since %q", text)
	}
	return r.Time, nil
}

const logTimeLayout = "2006/01/02 15:04:05"

// logLineTime reads the timestamp of a line written by log.LstdFlags,
// after an optional "[prefix] ".
func logLineTime(line string) (time.Time, bool) {
	if strings.HasPrefix(line, "[") {
		if i := strings.Index(line, "] "); i >= 0 {
			line = line[i+2:]
		}
	}
	if len(line) < len(logTimeLayout) {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(logTimeLayout, line[:len(logTimeLayout)], time.Local)
	return t, err == nil
}

// filterLog copies the lines of r stamped at or after since. Lines without
// a timestamp follow the decision for the line before them.
func filterLog(r io.Reader, w io.Writer, since time.Time) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	keep := since.IsZero()
	for scanner.Scan() {
		line := scanner.Text()
		if !since.IsZero() {
			if t, ok := logLineTime(line); ok {
				keep = !t.Before(since)
			}
		}
		if keep {
			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
		}
	}
	return scanner.Err()
}

func init() {
	logsCmd.Flags().String("since", "", `Only lines after this time ("2h", "yesterday")`)
	logsCmd.Flags().Bool("sync", false, "Print the sync log instead of the main log")

	rootCmd.AddCommand(logsCmd)
}
