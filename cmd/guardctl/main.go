package main

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/org/adminguard/internal/identity"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "guardctl",
	Short: "adminguard CLI",
	Long:  "A CLI for inspecting security events, managing IP blocks and checking access in adminguard.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "Output format: table, json, raw")
	rootCmd.PersistentFlags().StringVar(&outputField, "field", "", "Print only this field (use with --format=raw)")

	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(blockCmd(), unblockCmd(), blocksCmd())
	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(cacheCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(tokenCmd())
}

var eventColumns = []string{"id", "timestamp", "severity", "type", "ip_address", "user_id", "resolved", "message"}

// --- login ---

func loginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Save the server address and API token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr, _ := cmd.Flags().GetString("address"); addr != "" {
				cfg.Address = strings.TrimRight(addr, "/")
			}
			if token, _ := cmd.Flags().GetString("token"); token != "" {
				cfg.Token = token
			}
			if err := cfg.validate(); err != nil {
				return err
			}
			result, err := newClient().get("/api/security/check?path=" + url.QueryEscape("/admin"))
			if err != nil {
				printError(err.Error())
				return nil
			}
			if err := saveConfig(cfg); err != nil {
				printError(err.Error())
				return nil
			}
			fmt.Fprintln(os.Stderr, "Token saved to config.")
			if d, ok := result["decision"].(map[string]any); ok {
				printResult(d)
			}
			return nil
		},
	}
	cmd.Flags().String("address", "", "Server address")
	cmd.Flags().String("token", "", "API token")
	return cmd
}

// --- events ---

func eventsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "events", Short: "Security events"}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List security events, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			limit, _ := cmd.Flags().GetInt("limit")
			q.Set("limit", strconv.Itoa(limit))
			for _, name := range []string{"severity", "type", "ip", "user-id"} {
				if v, _ := cmd.Flags().GetString(name); v != "" {
					key := name
					if name == "user-id" {
						key = "user_id"
					}
					q.Set(key, v)
				}
			}
			if unresolved, _ := cmd.Flags().GetBool("unresolved"); unresolved {
				q.Set("unresolved", "true")
			}
			result, err := newClient().get("/api/security/events?" + q.Encode())
			if err != nil {
				printError(err.Error())
				return nil
			}
			rows, _ := result["data"].([]any)
			printRows(rows, eventColumns)
			return nil
		},
	}
	listCmd.Flags().Int("limit", 50, "Maximum number of events")
	listCmd.Flags().String("severity", "", "Filter by severity: low, medium, high, critical")
	listCmd.Flags().String("type", "", "Filter by event type")
	listCmd.Flags().String("ip", "", "Filter by IP address")
	listCmd.Flags().String("user-id", "", "Filter by user ID")
	listCmd.Flags().Bool("unresolved", false, "Only unresolved events")

	resolveCmd := &cobra.Command{
		Use:   "resolve <id>",
		Short: "Mark an event as resolved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newClient().post("/api/security/events/"+url.PathEscape(args[0])+"/resolve", nil)
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	cmd.AddCommand(listCmd, resolveCmd)
	return cmd
}

// --- stats ---

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show the security dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newClient().get("/api/security/stats")
			if err != nil {
				printError(err.Error())
				return nil
			}
			if outputFormat != "table" {
				printResult(result)
				return nil
			}
			printResult(map[string]any{
				"total_events":       result["total_events"],
				"threat_level":       result["threat_level"],
				"events_by_severity": result["events_by_severity"],
				"events_by_type":     result["events_by_type"],
			})
			if threats, _ := result["top_threats"].([]any); len(threats) > 0 {
				fmt.Println()
				printRows(threats, []string{"ip", "count", "max_severity"})
			}
			if alerts, _ := result["recent_alerts"].([]any); len(alerts) > 0 {
				fmt.Println()
				printRows(alerts, eventColumns)
			}
			return nil
		},
	}
}

// --- blocks ---

var blockColumns = []string{"ip", "reason", "blocked_at", "blocked_by"}

func blockCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "block <ip>",
		Short: "Block an IP address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reason, _ := cmd.Flags().GetString("reason")
			result, err := newClient().post("/api/security/blocks", map[string]any{
				"ip":     args[0],
				"reason": reason,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
	cmd.Flags().String("reason", "", "Why the address is blocked")
	return cmd
}

func unblockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unblock <ip>",
		Short: "Lift a block",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient().delete("/api/security/blocks/" + url.PathEscape(args[0])); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Success! " + args[0] + " unblocked.")
			return nil
		},
	}
}

func blocksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "blocks",
		Short: "List blocked IP addresses",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newClient().get("/api/security/blocks")
			if err != nil {
				printError(err.Error())
				return nil
			}
			rows, _ := result["data"].([]any)
			printRows(rows, blockColumns)
			return nil
		},
	}
}

// --- check ---

func checkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check <path>",
		Short: "Check whether the current token may access a route",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			method, _ := cmd.Flags().GetString("method")
			q := url.Values{"path": {args[0]}, "method": {method}}
			result, err := newClient().get("/api/security/check?" + q.Encode())
			if err != nil {
				printError(err.Error())
				return nil
			}
			if outputFormat != "table" {
				printResult(result)
				return nil
			}
			if d, ok := result["decision"].(map[string]any); ok {
				printResult(d)
			}
			return nil
		},
	}
	cmd.Flags().String("method", "GET", "HTTP method")
	return cmd
}

// --- cache ---

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "cache", Short: "Permission cache"}
	invalidateCmd := &cobra.Command{
		Use:   "invalidate <user-id>",
		Short: "Drop a user's cached decisions, e.g. after a role change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient().delete("/api/security/cache/" + url.PathEscape(args[0])); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Success! Cache invalidated for user " + args[0] + ".")
			return nil
		},
	}
	cmd.AddCommand(invalidateCmd)
	return cmd
}

// --- audit ---

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query the access audit log",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			limit, _ := cmd.Flags().GetInt("limit")
			q.Set("limit", strconv.Itoa(limit))
			if v, _ := cmd.Flags().GetString("user-id"); v != "" {
				q.Set("user_id", v)
			}
			if v, _ := cmd.Flags().GetString("path"); v != "" {
				q.Set("path", v)
			}
			if v, _ := cmd.Flags().GetString("since"); v != "" {
				q.Set("since", v)
			}
			result, err := newClient().get("/api/security/audit?" + q.Encode())
			if err != nil {
				printError(err.Error())
				return nil
			}
			rows, _ := result["data"].([]any)
			printRows(rows, []string{"timestamp", "user_id", "method", "path", "allowed", "reason", "client_ip"})
			return nil
		},
	}
	cmd.Flags().Int("limit", 50, "Maximum number of entries")
	cmd.Flags().String("user-id", "", "Filter by user ID")
	cmd.Flags().String("path", "", "Filter by path prefix")
	cmd.Flags().String("since", "", "Only entries after this RFC 3339 time")
	return cmd
}

// --- token ---

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "token", Short: "API token management"}
	generateCmd := &cobra.Command{
		Use:   "generate",
		Short: "Mint a new API token and print its hash for the server config",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, hash, err := identity.GenerateToken()
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(map[string]any{"token": token, "token_hash": hash})
			fmt.Fprintln(os.Stderr, "The token is shown once. Put only token_hash in the server config.")
			return nil
		},
	}
	cmd.AddCommand(generateCmd)
	return cmd
}
