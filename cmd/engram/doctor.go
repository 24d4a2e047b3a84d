package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Width(16)
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the health of a running engram server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDoctor()
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor() error {
	fmt.Println(headerStyle.Render("engram doctor"))
	fmt.Println()

	client := &http.Client{Timeout: 5 * time.Second}

	req, err := http.NewRequest(http.MethodGet, serverURL+"/doctor", nil)
	if err != nil {
		return err
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		fmt.Println(warnStyle.Render("✗ server unreachable: " + err.Error()))
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Println(warnStyle.Render(fmt.Sprintf("✗ server returned %d", resp.StatusCode)))
		return nil
	}

	var status struct {
		Status        string `json:"status"`
		Backend       string `json:"backend"`
		QueueDepth    int    `json:"queue_depth"`
		WorkingEvents int    `json:"working_events"`
		AuthEnabled   bool   `json:"auth_enabled"`
		Uptime        string `json:"uptime"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("decode doctor response: %w", err)
	}

	fmt.Println(okStyle.Render("✓ server reachable"))
	fmt.Println(labelStyle.Render("backend") + status.Backend)
	fmt.Println(labelStyle.Render("queue depth") + fmt.Sprint(status.QueueDepth))
	fmt.Println(labelStyle.Render("working events") + fmt.Sprint(status.WorkingEvents))
	fmt.Println(labelStyle.Render("auth") + fmt.Sprint(status.AuthEnabled))
	fmt.Println(labelStyle.Render("uptime") + status.Uptime)

	if status.QueueDepth > 100 {
		fmt.Println()
		fmt.Println(warnStyle.Render(fmt.Sprintf("! %d jobs pending write-back; is the store reachable?", status.QueueDepth)))
	}
	return nil
}
