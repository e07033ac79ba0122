package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/agentserver/sessionrt/internal/db"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	mcpTransport string
	mcpHeaders   []string
	mcpForce     bool
)

var setupMCPCmd = &cobra.Command{
	Use:   "setup-mcp",
	Short: "Manage MCP server records",
}

var setupMCPAddCmd = &cobra.Command{
	Use:   "add <name> <url>",
	Args:  cobra.ExactArgs(2),
	Short: "Register a remote MCP server",
	Run: func(cmd *cobra.Command, args []string) {
		name, url := args[0], args[1]
		database := mustOpenDB()
		defer database.Close()

		headers := make(map[string]string, len(mcpHeaders))
		for _, h := range mcpHeaders {
			k, v, ok := strings.Cut(h, ":")
			if !ok {
				fatal(fmt.Errorf("invalid header %q, expected \"K: V\"", h))
			}
			headers[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}

		existing, err := database.GetMCPServerByName(name)
		if err != nil {
			fatal(err)
		}
		if existing != nil && !mcpForce {
			fatal(fmt.Errorf("mcp server %q already exists (use --force to overwrite)", name))
		}
		if existing != nil {
			if err := database.DeleteMCPServer(name); err != nil {
				fatal(err)
			}
		}

		rec := &db.MCPServer{
			ID:        uuid.New().String(),
			Name:      name,
			Headers:   headers,
			Env:       map[string]string{},
			Transport: mcpTransport,
			Enabled:   true,
		}
		rec.URL.String, rec.URL.Valid = url, true
		if err := database.CreateMCPServer(rec); err != nil {
			fatal(err)
		}
		fmt.Printf("added mcp server %q\n", name)
	},
}

var setupMCPRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Args:  cobra.ExactArgs(1),
	Short: "Remove an MCP server record",
	Run: func(cmd *cobra.Command, args []string) {
		database := mustOpenDB()
		defer database.Close()
		if err := database.DeleteMCPServer(args[0]); err != nil {
			fatal(err)
		}
		fmt.Printf("removed mcp server %q\n", args[0])
	},
}

var setupMCPListCmd = &cobra.Command{
	Use:   "list",
	Short: "List MCP server records",
	Run: func(cmd *cobra.Command, args []string) {
		database := mustOpenDB()
		defer database.Close()
		servers, err := database.ListMCPServers()
		if err != nil {
			fatal(err)
		}
		for _, s := range servers {
			state := "disabled"
			if s.Enabled {
				state = "enabled"
			}
			fmt.Printf("%-20s %-10s %s\n", s.Name, state, s.Transport)
		}
	},
}

func mustOpenDB() *db.DB {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		fatal(fmt.Errorf("DATABASE_URL is required"))
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	database, err := db.Open(dbURL, log)
	if err != nil {
		fatal(err)
	}
	return database
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}

func init() {
	setupMCPAddCmd.Flags().StringVar(&mcpTransport, "transport", "sse", "transport: sse or streamable-http")
	setupMCPAddCmd.Flags().StringArrayVar(&mcpHeaders, "header", nil, `extra header, "K: V" (repeatable)`)
	setupMCPAddCmd.Flags().BoolVar(&mcpForce, "force", false, "overwrite an existing record with the same name")

	setupMCPCmd.AddCommand(setupMCPAddCmd, setupMCPRemoveCmd, setupMCPListCmd)
	rootCmd.AddCommand(setupMCPCmd)
}
