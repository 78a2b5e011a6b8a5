package mcp

import (
	"context"
	"log/slog"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/roasbeef/insightd/internal/insight"
)

// InsightService is the part of the insight service exposed as tools.
type InsightService interface {
	LoadOrGenerate(ctx context.Context, userID string,
		entries []insight.Entry) (insight.LoadResult, error)

	Get(ctx context.Context, userID string,
		entryCount int) (fn.Option[insight.Record], error)

	Status(userID string) insight.Snapshot

	Clear(ctx context.Context, userID string, alsoRemote bool) error
}

// Server wraps the MCP server with the insight service.
type Server struct {
	server *mcp.Server
	svc    InsightService
	log    *slog.Logger
}

// Config holds configuration for the MCP server.
type Config struct {
	// Service answers the tool calls.
	Service InsightService

	// Version is reported to clients.
	Version string
}

// NewServer creates a new MCP server with the insight tools registered.
func NewServer(cfg Config, log *slog.Logger) *Server {
	if cfg.Version == "" {
		cfg.Version = "0.1.0"
	}
	if log == nil {
		log = slog.Default()
	}

	mcpServer := mcp.NewServer(&mcp.Implementation{
		Name:    "insightd",
		Version: cfg.Version,
	}, nil)

	s := &Server{
		server: mcpServer,
		svc:    cfg.Service,
		log:    log.With("component", "mcp"),
	}
	s.registerTools()

	return s
}

// Run serves the tools on the given transport until ctx is done or the
// client goes away.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	return s.server.Run(ctx, transport)
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name: "load_insight",
		Description: "Load the insight for a user's journal entries, " +
			"generating a new one when a milestone is reached",
	}, s.handleLoadInsight)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_insight",
		Description: "Get the freshest cached insight without generating",
	}, s.handleGetInsight)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "insight_status",
		Description: "Show the cache state of a user's insight",
	}, s.handleInsightStatus)

	mcp.AddTool(s.server, &mcp.Tool{
		Name: "clear_insight",
		Description: "Clear a user's cached insight, optionally " +
			"deleting the shared copies too",
	}, s.handleClearInsight)
}
