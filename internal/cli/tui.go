package cli

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"policyrag/internal/tui"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Search policies interactively",
	RunE:  runTUI,
}

func init() {
	rootCmd.AddCommand(tuiCmd)
}

func runTUI(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	m, err := openManager(ctx)
	if err != nil {
		return err
	}
	defer m.Close()

	if _, err := m.EnsureIngested(ctx); err != nil {
		return err
	}
	st, err := m.Stats(ctx)
	if err != nil {
		return err
	}
	summary := fmt.Sprintf("%d chunks in %q, embedded with %s", st.Chunks, st.Collection, st.Model)

	p := tea.NewProgram(tui.New(ctx, m, appConfig.Retrieval.TopK, summary), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err = p.Run()
	return err
}
