package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var healthAddr string

type healthReport struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Model   struct {
		Reachable bool   `json:"reachable"`
		Breaker   string `json:"breaker"`
		LatencyMs int64  `json:"latency_ms"`
	} `json:"model"`
	Connections *int `json:"connections"`
	Chats       *int `json:"chats"`
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Probe a running gateway",
	Long: `Query the /health endpoint of a running gateway and print the model
backend state, the circuit breaker state and live WebSocket connections.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		report, err := fetchHealth(ctx, healthAddr)
		if err != nil {
			fmt.Fprintln(cmd.OutOrStdout(), errorStyle.Render("❌ Gateway unreachable:"), err)
			return err
		}
		printHealth(cmd.OutOrStdout(), report)
		return nil
	},
}

func init() {
	healthCmd.Flags().StringVar(&healthAddr, "addr", "http://localhost:8080", "Gateway base URL")
	rootCmd.AddCommand(healthCmd)
}

func fetchHealth(ctx context.Context, addr string) (*healthReport, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(addr, "/")+"/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var report healthReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, fmt.Errorf("failed to decode health report: %w", err)
	}
	return &report, nil
}

func printHealth(w io.Writer, r *healthReport) {
	fmt.Fprintln(w, sectionStyle.Render("Gateway Health"))
	fmt.Fprintln(w)

	if r.Status == "healthy" {
		fmt.Fprintln(w, successStyle.Render("✅ Status: "+r.Status), infoStyle.Render("(version "+r.Version+")"))
	} else {
		fmt.Fprintln(w, warningStyle.Render("⚠️  Status: "+r.Status), infoStyle.Render("(version "+r.Version+")"))
	}

	if r.Model.Reachable {
		fmt.Fprintln(w, successStyle.Render("✅ Model backend reachable"), infoStyle.Render(fmt.Sprintf("(%d ms)", r.Model.LatencyMs)))
	} else {
		fmt.Fprintln(w, errorStyle.Render("❌ Model backend unreachable"))
	}

	breaker := fmt.Sprintf("Circuit breaker: %s", r.Model.Breaker)
	if r.Model.Breaker == "closed" {
		fmt.Fprintln(w, successStyle.Render("✅ "+breaker))
	} else {
		fmt.Fprintln(w, warningStyle.Render("⚠️  "+breaker))
	}

	if r.Connections != nil && r.Chats != nil {
		fmt.Fprintln(w, infoStyle.Render(fmt.Sprintf("WebSocket: %d connection(s) in %d chat(s)", *r.Connections, *r.Chats)))
	}
}
