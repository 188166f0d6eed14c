package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/clipscript/internal/resolver"
)

var cookiesCmd = &cobra.Command{
	Use:   "cookies",
	Short: "Manage the cookies used for downloads",
}

// -- cookies status --

var cookiesStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the imported cookie file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		res, err := cookieResolver()
		if err != nil {
			return err
		}
		formatCookieStatus(cmd.OutOrStdout(), res.Imports().Status())
		return nil
	},
}

// -- cookies import --

var cookiesImportCmd = &cobra.Command{
	Use:   "import <file|->",
	Short: "Import a Netscape cookies.txt export",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := cookieResolver()
		if err != nil {
			return err
		}

		var data []byte
		if args[0] == "-" {
			data, err = io.ReadAll(cmd.InOrStdin())
		} else {
			data, err = os.ReadFile(args[0])
		}
		if err != nil {
			return eris.Wrap(err, "cookies import: read input")
		}

		n, err := res.Import(cmd.Context(), string(data))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Imported %d cookies into %s\n", n, res.Imports().Path)
		return nil
	},
}

// -- cookies clear --

var cookiesClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the imported cookie file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		res, err := cookieResolver()
		if err != nil {
			return err
		}
		removed, err := res.ClearImport(cmd.Context())
		if err != nil {
			return err
		}
		if removed {
			fmt.Fprintln(cmd.OutOrStdout(), "Cookies cleared.")
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "No cookies to clear.")
		}
		return nil
	},
}

// -- cookies resolve --

var cookiesResolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Run the cookie source fallback and show how each candidate scored",
	RunE: func(cmd *cobra.Command, _ []string) error {
		res, err := cookieResolver()
		if err != nil {
			return err
		}
		asJSON, _ := cmd.Flags().GetBool("json")

		resolution, err := res.Resolve(cmd.Context())
		if err != nil {
			var ex *resolver.ExhaustedError
			if errors.As(err, &ex) {
				formatAttempts(cmd.OutOrStdout(), ex.Attempts)
			}
			return err
		}

		if asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(resolution)
		}
		formatAttempts(cmd.OutOrStdout(), resolution.Attempts)
		fmt.Fprintf(cmd.OutOrStdout(), "Selected %s (score %d, %d cookies) -> %s\n",
			resolution.Strategy, resolution.Score, len(resolution.Cookies), resolution.Path)
		return nil
	},
}

func init() {
	cookiesResolveCmd.Flags().Bool("json", false, "print the resolution as JSON")

	cookiesCmd.AddCommand(cookiesStatusCmd)
	cookiesCmd.AddCommand(cookiesImportCmd)
	cookiesCmd.AddCommand(cookiesClearCmd)
	cookiesCmd.AddCommand(cookiesResolveCmd)
	rootCmd.AddCommand(cookiesCmd)
}

func cookieResolver() (*resolver.Resolver, error) {
	if err := cfg.Validate("cookies"); err != nil {
		return nil, err
	}
	return newResolver()
}

func formatCookieStatus(w io.Writer, st resolver.ArtifactStatus) {
	if !st.Present {
		fmt.Fprintf(w, "No cookies stored at %s\n", st.Path)
		return
	}

	names := make([]string, 0, len(st.KeyFields))
	for k := range st.KeyFields {
		names = append(names, k)
	}
	sort.Strings(names)

	rows := [][]string{
		{"path", st.Path},
		{"size", strconv.FormatInt(st.Size, 10) + " B"},
		{"cookies", strconv.Itoa(st.Count)},
	}
	if st.ModTime != nil {
		rows = append(rows, []string{"modified", st.ModTime.Format(time.RFC3339)})
	}
	for _, k := range names {
		mark := "missing"
		if st.KeyFields[k] {
			mark = "present"
		}
		rows = append(rows, []string{k, mark})
	}
	fmt.Fprintln(w, renderTable([]string{"Field", "Value"}, rows, nil))
}

func formatAttempts(w io.Writer, attempts []resolver.Attempt) {
	if len(attempts) == 0 {
		return
	}
	rows := make([][]string, 0, len(attempts))
	for _, a := range attempts {
		result := "ok"
		if a.Failed() {
			result = a.Reason()
		}
		rows = append(rows, []string{a.Strategy.String(), strconv.Itoa(a.Items), strconv.Itoa(a.Score), truncate(result, 60)})
	}
	fmt.Fprintln(w, renderTable(
		[]string{"Source", "Cookies", "Score", "Result"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignLeft},
	))
}
