package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/clipscript/internal/model"
	"github.com/sells-group/clipscript/internal/persist"
)

var extractCmd = &cobra.Command{
	Use:   "extract [url]",
	Short: "Extract the transcript of one video",
	Long:  "Runs the full pipeline for a single share URL, or for a local video file with --file, and prints the result.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		title, _ := cmd.Flags().GetString("title")
		noLLM, _ := cmd.Flags().GetBool("no-llm")
		asJSON, _ := cmd.Flags().GetBool("json")

		if (len(args) == 0) == (file == "") {
			return eris.New("extract: pass exactly one of a URL argument or --file")
		}

		ctx := cmd.Context()
		env, err := initPipeline(ctx, "extract")
		if err != nil {
			return err
		}
		defer env.Close()

		var task *model.Task
		if file != "" {
			staged, err := stageLocalFile(file, filepath.Join(cfg.Paths.TempDir, "uploads"))
			if err != nil {
				return err
			}
			task = env.Controller.SubmitFile(staged, filepath.Base(file), title, !noLLM)
		} else {
			task, err = env.Controller.Submit(args[0], !noLLM)
			if err != nil {
				return err
			}
		}

		env.Controller.Wait()
		final, err := env.Tasks.GetTask(task.ID)
		if err != nil {
			return eris.Wrap(err, "extract")
		}
		return printTask(cmd.OutOrStdout(), final, asJSON)
	},
}

func init() {
	extractCmd.Flags().String("file", "", "local video file to transcribe instead of downloading")
	extractCmd.Flags().String("title", "", "title for --file (default: file name)")
	extractCmd.Flags().Bool("no-llm", false, "skip LLM enhancement")
	extractCmd.Flags().Bool("json", false, "print the full task as JSON")
	rootCmd.AddCommand(extractCmd)
}

// stageLocalFile copies a user's file into the upload area so the pipeline
// can delete its copy without touching the original.
func stageLocalFile(path, dir string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", eris.Wrap(err, "extract: open file")
	}
	defer f.Close() //nolint:errcheck
	return stageUpload(f, dir, filepath.Base(path))
}

func printTask(w io.Writer, t *model.Task, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(t)
	}
	if t.Status == model.TaskStatusFailed {
		return eris.Errorf("task %s failed: %s", t.ID, t.Error)
	}
	_, err := fmt.Fprintln(w, persist.PlainText(t))
	return err
}
