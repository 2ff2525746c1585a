// ABOUTME: Admin CLI for operating pennyworth bot sessions
// ABOUTME: Talks to the admin HTTP API with JWT authentication

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
)

const banner = `
  _ __   ___ _ __  _ __  _   ___      __      __ _  __| |_ __ ___ (_)_ __
 | '_ \ / _ \ '_ \| '_ \| | | \ \ /\ / /____ / _' |/ _' | '_ ' _ \| | '_ \
 | |_) |  __/ | | | | | | |_| |\ V  V /_____| (_| | (_| | | | | | | | | | |
 | .__/ \___|_| |_|_| |_|\__, | \_/\_/       \__,_|\__,_|_| |_| |_|_|_| |_|
 |_|                     |___/
`

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	baseURL := os.Getenv("PENNYWORTH_ADMIN_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8081"
	}
	token := os.Getenv("PENNYWORTH_TOKEN")

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "stats":
		err = cmdStats(baseURL, token)
	case "start":
		err = cmdSessionAction(baseURL, token, "start", args)
	case "stop":
		err = cmdSessionAction(baseURL, token, "stop", args)
	case "restart":
		err = cmdSessionAction(baseURL, token, "restart", args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: pennyworth-admin <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  stats                Show session statistics")
	fmt.Println("  start <user-id>      Start a user's bot session")
	fmt.Println("  stop <user-id>       Stop a user's bot session")
	fmt.Println("  restart <user-id>    Restart a user's bot session")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  PENNYWORTH_ADMIN_URL  Admin API base URL (default: http://localhost:8081)")
	fmt.Println("  PENNYWORTH_TOKEN      JWT authentication token (required)")
	fmt.Println()
	yellow.Println("Examples:")
	fmt.Println("  export PENNYWORTH_TOKEN=\"$(pennyworth token)\"")
	fmt.Println("  pennyworth-admin stats")
	fmt.Println("  pennyworth-admin restart user-42")
	fmt.Println()
}

func doRequest(method, url, token string) ([]byte, error) {
	if token == "" {
		return nil, fmt.Errorf("PENNYWORTH_TOKEN environment variable is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return nil, fmt.Errorf("%s (status %d)", e.Error, resp.StatusCode)
		}
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return body, nil
}

func cmdStats(baseURL, token string) error {
	body, err := doRequest(http.MethodGet, baseURL+"/api/stats", token)
	if err != nil {
		return err
	}

	var stats struct {
		ActiveSessions int `json:"active_sessions"`
		Sessions       []struct {
			UserID       string    `json:"user_id"`
			Status       string    `json:"status"`
			LastActivity time.Time `json:"last_activity"`
		} `json:"sessions"`
	}
	if err := json.Unmarshal(body, &stats); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Sessions")
	cyan.Println("  --------")
	fmt.Printf("  Active: %d of %d\n\n", stats.ActiveSessions, len(stats.Sessions))

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "  USER\tSTATUS\tLAST ACTIVITY")
	for _, s := range stats.Sessions {
		last := "never"
		if !s.LastActivity.IsZero() {
			last = s.LastActivity.Local().Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\n", s.UserID, colorStatus(s.Status), last)
	}
	w.Flush()
	fmt.Println()
	return nil
}

func colorStatus(status string) string {
	switch status {
	case "active":
		return color.GreenString(status)
	case "inactive":
		return color.RedString(status)
	case "starting", "restarting":
		return color.YellowString(status)
	default:
		return status
	}
}

func cmdSessionAction(baseURL, token, action string, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: pennyworth-admin %s <user-id>", action)
	}
	userID := args[0]

	_, err := doRequest(http.MethodPost, fmt.Sprintf("%s/api/sessions/%s/%s", baseURL, userID, action), token)
	if err != nil {
		return err
	}

	color.Green("  ✓ %s: %s\n", action, userID)
	return nil
}
