package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/clipscript/internal/model"
)

var batchCmd = &cobra.Command{
	Use:   "batch [url...]",
	Short: "Extract transcripts for many videos",
	Long:  "Runs every URL through the pipeline with bounded concurrency and waits for all of them. URLs come from arguments or --input (one per line, # comments allowed).",
	RunE: func(cmd *cobra.Command, args []string) error {
		input, _ := cmd.Flags().GetString("input")
		noLLM, _ := cmd.Flags().GetBool("no-llm")

		urls := append([]string(nil), args...)
		if input != "" {
			fromFile, err := readURLList(input)
			if err != nil {
				return err
			}
			urls = append(urls, fromFile...)
		}

		ctx := cmd.Context()
		env, err := initPipeline(ctx, "batch")
		if err != nil {
			return err
		}
		defer env.Close()

		batch, wait, err := env.Controller.SubmitBatch(urls, !noLLM)
		if err != nil {
			return err
		}
		zap.L().Info("batch started", zap.String("batch_id", batch.ID), zap.Int("total", batch.Total))

		final := wait()
		view, err := env.Tasks.GetBatchView(final.ID)
		if err != nil {
			return eris.Wrap(err, "batch")
		}
		formatBatch(cmd.OutOrStdout(), view)
		if final.Failed > 0 {
			return eris.Errorf("batch %s: %d of %d tasks failed", final.ID, final.Failed, final.Total)
		}
		return nil
	},
}

func init() {
	batchCmd.Flags().String("input", "", "file with one URL per line")
	batchCmd.Flags().Bool("no-llm", false, "skip LLM enhancement")
	rootCmd.AddCommand(batchCmd)
}

func readURLList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "batch: open input")
	}
	defer f.Close() //nolint:errcheck

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrap(err, "batch: read input")
	}
	return out, nil
}

func formatBatch(w io.Writer, view *model.BatchView) {
	rows := make([][]string, 0, len(view.Tasks))
	for _, t := range view.Tasks {
		detail := t.Error
		if t.Status == model.TaskStatusCompleted {
			detail = truncate(t.Transcript.FinalText(), 40)
		}
		rows = append(rows, []string{t.ID, string(t.Status), truncate(t.Title(), 30), truncate(detail, 60)})
	}
	fmt.Fprintln(w, renderTable([]string{"Task", "Status", "Title", "Result"}, rows, nil))
	fmt.Fprintf(w, "%s: %d completed, %d failed, %d total\n", view.ID, view.Completed, view.Failed, view.Total)
}
