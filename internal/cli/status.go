package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	statusJSON bool
	resetForce bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show index statistics",
	RunE:  runStatus,
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete every indexed chunk and the ingestion manifest",
	RunE:  runReset,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output statistics as JSON")
	resetCmd.Flags().BoolVar(&resetForce, "force", false, "confirm the reset")
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(resetCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	m, err := openManager(ctx)
	if err != nil {
		return err
	}
	defer m.Close()

	st, err := m.Stats(ctx)
	if err != nil {
		return err
	}
	if statusJSON {
		data, err := json.MarshalIndent(st, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal stats: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	cmd.Printf("Collection: %s\n", st.Collection)
	cmd.Printf("Chunks:     %d\n", st.Chunks)
	cmd.Printf("Embedder:   %s (%d dims)\n", st.Model, st.Dimension)
	if len(st.Documents) == 0 {
		return nil
	}
	cmd.Println("Documents:")
	for _, d := range st.Documents {
		at := time.Unix(d.IngestedAt, 0).UTC().Format(time.RFC3339)
		cmd.Printf("  %s  %d chunks  %s\n", d.Filename, len(d.ChunkIDs), at)
	}
	return nil
}

func runReset(cmd *cobra.Command, _ []string) error {
	if !resetForce {
		return errors.New("refusing to reset without --force")
	}
	ctx := cmd.Context()
	m, err := openManager(ctx)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Reset(ctx); err != nil {
		return err
	}
	cmd.Println("Index cleared.")
	return nil
}
