package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/basket/trackd/internal/config"
)

// runStatusCommand queries the running daemon's /healthz endpoint and
// prints a human summary. Exit code 0 means healthy.
func runStatusCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	addr := fs.String("addr", "", "daemon address (default: bind_addr from config)")
	asJSON := fs.Bool("json", false, "print raw JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	target := *addr
	if target == "" {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			return 1
		}
		target = cfg.BindAddr
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+target+"/healthz", nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build request: %v\n", err)
		return 1
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "daemon unreachable at %s: %v\n", target, err)
		return 1
	}
	defer resp.Body.Close()

	var payload struct {
		Healthy       bool             `json:"healthy"`
		ConfigHash    string           `json:"config_hash"`
		AuditFailures int64            `json:"audit_failures"`
		TasksByStatus map[string]int64 `json:"tasks_by_status"`
		Projects      int64            `json:"projects"`
		Insights      int64            `json:"insights"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		fmt.Fprintf(os.Stderr, "decode healthz: %v\n", err)
		return 1
	}

	if *asJSON {
		out, _ := json.MarshalIndent(payload, "", "  ")
		fmt.Println(string(out))
	} else {
		state := "healthy"
		if !payload.Healthy {
			state = "UNHEALTHY"
		}
		fmt.Printf("trackd at %s: %s\n", target, state)
		fmt.Printf("  config:         %s\n", payload.ConfigHash)
		fmt.Printf("  projects:       %d\n", payload.Projects)
		fmt.Printf("  insights:       %d\n", payload.Insights)
		fmt.Printf("  audit failures: %d\n", payload.AuditFailures)
		for status, n := range payload.TasksByStatus {
			fmt.Printf("  tasks %-10s %d\n", status+":", n)
		}
	}

	if !payload.Healthy {
		return 1
	}
	return 0
}
