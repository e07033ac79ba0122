package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentserver/sessionrt/internal/agentcore"
	"github.com/agentserver/sessionrt/internal/auth"
	"github.com/agentserver/sessionrt/internal/db"
	"github.com/agentserver/sessionrt/internal/gateway"
	"github.com/agentserver/sessionrt/internal/runtime"
	"github.com/agentserver/sessionrt/internal/sandbox"
	"github.com/agentserver/sessionrt/internal/server"
	"github.com/agentserver/sessionrt/internal/skills"
	"github.com/agentserver/sessionrt/internal/watch"
	"github.com/agentserver/sessionrt/internal/workspace"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	port  int
	dbURL string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the session runtime HTTP server",
	Run: func(cmd *cobra.Command, args []string) {
		log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

		if dbURL == "" {
			dbURL = os.Getenv("DATABASE_URL")
		}
		if dbURL == "" {
			log.Fatal().Msg("--db-url or DATABASE_URL is required")
		}

		database, err := db.Open(dbURL, log)
		if err != nil {
			log.Fatal().Err(err).Msg("database connection failed")
		}
		defer database.Close()
		log.Info().Msg("connected to postgres")

		sandboxCfg := sandbox.DefaultConfig()
		sb, err := sandbox.NewManager(sandboxCfg, log)
		if err != nil {
			log.Warn().Err(err).Msg("docker backend unavailable, sessions will run unsandboxed")
			sb = nil
		}

		dataRoot := envOrDefault("DATA_ROOT", "/var/lib/sessionrt")
		ws := workspace.New(dataRoot)
		watcher := watch.NewRegistry(log)
		authSvc := auth.New(database)

		anthropicCfg := agentcore.AnthropicConfig{
			APIKey: os.Getenv("ANTHROPIC_API_KEY"),
			Model:  envOrDefault("PI_MODEL", "claude-sonnet-4-5"),
		}
		factory := func(cwd string, tools agentcore.ToolExecutor) agentcore.Agent {
			return agentcore.NewAnthropicAgent(anthropicCfg, cwd, tools, log)
		}

		table := runtime.NewTable(sb, factory, func(sessionID string) (string, error) {
			return ws.Root(sessionID)
		}, sandboxCfg.WorkspacesRoot, sandboxCfg.ContainerWorkspacesRoot, log)

		resolveSkill := func(name string) (*skills.Skill, bool) {
			// TODO: back this with a skills directory lookup once install-skill
			// lands a discoverable on-disk index.
			return nil, false
		}

		gw := gateway.New(authSvc, database, table, watcher, ws.Root, resolveSkill, log)
		srv := server.New(authSvc, database, ws, sb, table, gw, log)

		addr := fmt.Sprintf(":%d", port)
		httpServer := &http.Server{Addr: addr, Handler: srv.Router()}

		go func() {
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
			sig := <-sigCh
			log.Info().Str("signal", sig.String()).Msg("shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			httpServer.Shutdown(shutdownCtx)

			table.DisposeAll()
			if sb != nil {
				if err := sb.RemoveAll(context.Background()); err != nil {
					log.Warn().Err(err).Msg("failed to remove sandboxes on shutdown")
				}
			}
		}()

		log.Info().Str("addr", addr).Msg("starting sessionrt")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	},
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVarP(&port, "port", "p", 8080, "Port to listen on")
	serveCmd.Flags().StringVar(&dbURL, "db-url", "", "PostgreSQL connection URL (or use DATABASE_URL env)")
}
