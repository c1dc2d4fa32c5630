package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"policyrag/internal/domain"
)

var (
	queryTopK    int
	queryFilters []string
	queryJSON    bool
	queryContext bool
)

var queryCmd = &cobra.Command{
	Use:   "query [question]",
	Short: "Retrieve the policy passages relevant to a question",
	Long: `Embeds the question and returns the closest policy chunks, best first.
An empty index is populated from the policy directory before searching.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "number of results (default: retrieval.top_k)")
	queryCmd.Flags().StringArrayVarP(&queryFilters, "filter", "f", nil, "metadata filter key=value, repeatable")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output results as JSON")
	queryCmd.Flags().BoolVar(&queryContext, "context", false, "print the assembled prompt context")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	filter, err := parseFilter(queryFilters)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	m, err := openManager(ctx)
	if err != nil {
		return err
	}
	defer m.Close()

	if _, err := m.EnsureIngested(ctx); err != nil {
		return err
	}
	results, err := m.Search(ctx, strings.Join(args, " "), queryTopK, filter)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	switch {
	case queryJSON:
		data, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal results: %w", err)
		}
		cmd.Println(string(data))
	case queryContext:
		cmd.Println(m.FormatContext(results))
	default:
		printResults(cmd, results)
	}
	return nil
}

func printResults(cmd *cobra.Command, results []domain.RetrievalResult) {
	if len(results) == 0 {
		cmd.Println("No results found.")
		return
	}
	cmd.Println("Results:")
	cmd.Println()
	for i, r := range results {
		title := r.Metadata[domain.MetaSectionHeader]
		if title == "" {
			title = r.Metadata[domain.MetaChunkID]
		}
		cmd.Printf("  [%d] %s (%.2f)\n", i+1, title, r.Similarity)
		if f := r.Metadata[domain.MetaFilename]; f != "" {
			cmd.Printf("      Source: %s\n", f)
		}
		cmd.Printf("      %s\n", snippet(r.Text, 160))
		cmd.Println()
	}
}

// parseFilter turns key=value pairs into an exact-match metadata filter.
func parseFilter(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	filter := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid filter %q, want key=value: %w", p, domain.ErrInvalidInput)
		}
		filter[k] = strings.TrimSpace(v)
	}
	return filter, nil
}

func snippet(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[:n]) + "..."
}
