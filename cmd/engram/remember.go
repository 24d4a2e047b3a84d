package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var rememberUser string

var rememberCmd = &cobra.Command{
	Use:   "remember <text>",
	Short: "Store an explicit memory on a running server",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRemember(strings.Join(args, " "))
	},
}

func init() {
	rememberCmd.Flags().StringVar(&rememberUser, "user", "default", "user id to store the memory under")
	rootCmd.AddCommand(rememberCmd)
}

func runRemember(text string) error {
	body, err := postJSON("/remember", map[string]any{
		"user_id": rememberUser,
		"text":    text,
	})
	if err != nil {
		return err
	}

	var resp struct {
		Status   string `json:"status"`
		MemoryID string `json:"memory_id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if resp.MemoryID != "" {
		fmt.Printf("%s (%s)\n", resp.Status, resp.MemoryID)
	} else {
		fmt.Println(resp.Status)
	}
	return nil
}

// postJSON posts a request body to a running server and returns the
// response body, erroring on any non-2xx status.
func postJSON(path string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, serverURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, buf.String())
	}
	return buf.Bytes(), nil
}
