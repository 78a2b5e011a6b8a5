package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/roasbeef/insightd/internal/build"
	"github.com/roasbeef/insightd/internal/mcp"
	"github.com/roasbeef/insightd/internal/notify"
)

const (
	// realtimePath is where the change feed is served.
	realtimePath = "/v1/realtime"

	// shutdownTimeout bounds the HTTP server drain on exit.
	shutdownTimeout = 5 * time.Second
)

var (
	// serveListen overrides the realtime listen address. Empty disables
	// the HTTP server.
	serveListen string

	// serveNoMCP skips the stdio MCP server.
	serveNoMCP bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the insight daemon",
	Long: `Run the insight daemon. The daemon serves the realtime change feed over
WebSocket at ` + realtimePath + `?user_id=... and the insight tools over MCP on
stdio. It runs until interrupted.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(
		&serveListen, "listen", "",
		"Realtime listen address (default from config, localhost:8473)",
	)
	serveCmd.Flags().BoolVar(
		&serveNoMCP, "no-mcp", false,
		"Serve the realtime endpoint only, without MCP on stdio",
	)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("listen") {
		cfg.Realtime.Listen = serveListen
	}

	rt, err := openRuntime(cfg, runtimeOpts{listen: true})
	if err != nil {
		return err
	}
	defer rt.close()

	log := rt.log.Logger
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	errCh := make(chan error, 2)

	if cfg.Realtime.Listen != "" {
		srv, ln, err := rt.realtimeServer(cfg.Realtime.Listen)
		if err != nil {
			return err
		}

		log.Info("Realtime endpoint listening",
			"addr", ln.Addr().String(), "path", realtimePath,
		)

		go func() {
			err := srv.Serve(ln)
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("realtime server: %w", err)
			}
		}()

		defer func() {
			sctx, scancel := context.WithTimeout(
				context.Background(), shutdownTimeout,
			)
			defer scancel()

			_ = srv.Shutdown(sctx)
		}()
	}

	// A configured user is listened for right away so records written by
	// other devices land in the local store.
	if cfg.UserID != "" {
		rt.svc.Listen(cfg.UserID)
	}

	if !serveNoMCP {
		server := mcp.NewServer(mcp.Config{
			Service: rt.svc,
			Version: build.Version(),
		}, log)

		go func() {
			log.Info("Starting MCP server on stdio")
			errCh <- server.Run(ctx, &sdkmcp.StdioTransport{})
		}()
	}

	select {
	case <-ctx.Done():
		log.Info("Shutting down")
		return nil

	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		log.Info("MCP client disconnected, shutting down")

		return nil
	}
}

// realtimeServer builds the HTTP server exposing the change feed and a
// health endpoint.
func (rt *runtime) realtimeServer(addr string) (*http.Server, net.Listener,
	error) {

	mux := http.NewServeMux()
	mux.Handle(realtimePath, notify.NewHandler(
		rt.hub, rt.cfg.Realtime.Token, rt.log.Logger,
	))
	mux.HandleFunc("/healthz", rt.handleHealth)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	return &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}, ln, nil
}

// handleHealth reports whether the remote store answers.
func (rt *runtime) handleHealth(w http.ResponseWriter, r *http.Request) {
	users, err := rt.remote.UserCount(r.Context())
	if err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = writeJSON(w, map[string]any{"ok": false, "error": err.Error()})

		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = writeJSON(w, map[string]any{"ok": true, "users": users})
}
