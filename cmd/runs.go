package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/clipscript/internal/model"
	"github.com/sells-group/clipscript/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect transcription run history",
	Long:  "Commands for listing and viewing finished tasks recorded in the history store.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openHistory(cmd)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		runs, err := st.ListRuns(ctx, store.RunFilter{
			Status: model.TaskStatus(status),
			Limit:  limit,
			Offset: offset,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(cmd.OutOrStdout(), runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-or-task-id>",
	Short: "Show full details of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openHistory(cmd)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(run)
	},
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by status (completed, failed)")
	runsListCmd.Flags().Int("limit", 20, "max runs to show")
	runsListCmd.Flags().Int("offset", 0, "runs to skip")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}

func openHistory(cmd *cobra.Command) (store.Store, error) {
	if err := cfg.Validate("runs"); err != nil {
		return nil, err
	}
	return initStore(cmd.Context())
}

func formatRunsList(w io.Writer, runs []model.Run) {
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			r.TaskID,
			string(r.Status),
			truncate(r.Title, 30),
			r.Language,
			strconv.FormatBool(r.Enhanced),
			formatTime(r.CompletedAt),
		})
	}
	fmt.Fprintln(w, renderTable(
		[]string{"Task", "Status", "Title", "Lang", "Enhanced", "Completed"},
		rows,
		nil,
	))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
