package cli

import (
	"github.com/spf13/cobra"
)

var (
	ingestDir     string
	ingestPattern string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file...]",
	Short: "Index policy documents",
	Long: `Loads, chunks, embeds and stores policy documents.
With no arguments every file matching --pattern in --dir is indexed.
Re-ingesting a document overwrites its chunks in place.`,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestDir, "dir", "", "policy directory (default: ingestion.policy_directory)")
	ingestCmd.Flags().StringVar(&ingestPattern, "pattern", "", "glob for files in --dir (default: ingestion.pattern)")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	m, err := openManager(ctx)
	if err != nil {
		return err
	}
	defer m.Close()

	var n int
	if len(args) > 0 {
		n, err = m.IngestDocuments(ctx, args)
	} else {
		n, err = m.IngestFromDirectory(ctx, ingestDir, ingestPattern)
	}
	if err != nil {
		return err
	}
	cmd.Printf("Indexed %d chunks\n", n)
	return nil
}
