package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	statusEndpoint string
	statusAPIKey   string
	statusJSON     bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show backend health of a running gateway",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

// servicesReply mirrors the /health/services response shape.
type servicesReply struct {
	Status   string                     `json:"status"`
	Services map[string]serviceSnapshot `json:"services"`
}

type serviceSnapshot struct {
	State         string `json:"state"`
	Transport     string `json:"transport"`
	LastError     string `json:"lastError"`
	ActiveClients int    `json:"activeClients"`
	Health        *struct {
		Status       string `json:"status"`
		ResponseTime int64  `json:"responseTimeMs"`
		Error        string `json:"error"`
	} `json:"health"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	url := fmt.Sprintf("%s/health/services", statusEndpoint)
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if statusAPIKey != "" {
		req.Header.Set("X-API-Key", statusAPIKey)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("gateway unreachable at %s: %w", statusEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway returned %s", resp.Status)
	}

	var reply servicesReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return fmt.Errorf("failed to decode status reply: %w", err)
	}

	if statusJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(reply)
	}

	fmt.Printf("Gateway status: %s\n\n", reply.Status)

	ids := make([]string, 0, len(reply.Services))
	for id := range reply.Services {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Backend", "Transport", "State", "Health", "Clients", "Last Error"})
	for _, id := range ids {
		svc := reply.Services[id]
		healthStatus := "-"
		if svc.Health != nil {
			healthStatus = svc.Health.Status
		}
		t.AppendRow(table.Row{id, svc.Transport, svc.State, healthStatus, svc.ActiveClients, svc.LastError})
	}
	t.Render()
	return nil
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringVar(&statusEndpoint, "endpoint", "http://localhost:8080", "Base URL of the running gateway")
	statusCmd.Flags().StringVar(&statusAPIKey, "api-key", "", "Pre-shared key, if the gateway requires one")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print the raw JSON reply")
}
