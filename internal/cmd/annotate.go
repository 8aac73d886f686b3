package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/toolink/groundchat/generate"
)

var annotateJSON bool

var annotateCmd = &cobra.Command{
	Use:   "annotate [response.json]",
	Short: "Insert citations into a saved generation response",
	Long: `Read a generation response (text plus candidates with grounding metadata)
from a file, or stdin when no file or "-" is given, and print the answer
with citation markers and the numbered source list.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := cmd.InOrStdin()
		if len(args) == 1 && args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			in = f
		}

		raw, err := io.ReadAll(in)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		var resp generate.Response
		if err := json.Unmarshal(raw, &resp); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}

		annotator, err := newAnnotator(cfg)
		if err != nil {
			return err
		}
		doc, err := annotator.Annotate(resp.Text, resp.Grounding())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if annotateJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(doc)
		}
		_, err = fmt.Fprintln(out, doc.Text)
		return err
	},
}

func init() {
	annotateCmd.Flags().BoolVar(&annotateJSON, "json", false, "print the annotated document as JSON")
	rootCmd.AddCommand(annotateCmd)
}
