package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	recallUser string
	recallK    int
)

var recallCmd = &cobra.Command{
	Use:   "recall <query>",
	Short: "Query memories on a running server",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRecall(strings.Join(args, " "))
	},
}

func init() {
	recallCmd.Flags().StringVar(&recallUser, "user", "default", "user id to recall for")
	recallCmd.Flags().IntVarP(&recallK, "limit", "k", 5, "maximum results")
	rootCmd.AddCommand(recallCmd)
}

func runRecall(query string) error {
	body, err := postJSON("/recall", map[string]any{
		"user_id": recallUser,
		"query":   query,
		"k":       recallK,
	})
	if err != nil {
		return err
	}

	var resp struct {
		Results []struct {
			Text       string   `json:"text"`
			Kind       string   `json:"kind"`
			Confidence *float64 `json:"confidence"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if len(resp.Results) == 0 {
		fmt.Println("no memories found")
		return nil
	}
	for i, item := range resp.Results {
		line := fmt.Sprintf("%d. %s", i+1, item.Text)
		if item.Kind != "" {
			line += fmt.Sprintf("  [%s]", item.Kind)
		}
		fmt.Println(line)
	}
	return nil
}
