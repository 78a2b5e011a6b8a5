package mcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/roasbeef/insightd/internal/insight"
)

// EntryArg is a journal entry passed to load_insight.
type EntryArg struct {
	ID        string `json:"id,omitempty" jsonschema:"Entry identifier"`
	Date      string `json:"date" jsonschema:"Entry date, RFC 3339 or YYYY-MM-DD"`
	Title     string `json:"title,omitempty" jsonschema:"Entry title"`
	Content   string `json:"content" jsonschema:"Entry text"`
	WordCount int    `json:"word_count,omitempty" jsonschema:"Word count, computed when omitted"`
	Mood      string `json:"mood,omitempty" jsonschema:"Optional mood label"`
}

// LoadInsightArgs are the arguments for the load_insight tool.
type LoadInsightArgs struct {
	UserID  string     `json:"user_id" jsonschema:"ID of the user"`
	Entries []EntryArg `json:"entries" jsonschema:"All live journal entries of the user"`
}

// InsightResult is a record as returned by the tools.
type InsightResult struct {
	ID              string   `json:"id"`
	Summary         string   `json:"summary"`
	Description     string   `json:"description"`
	Themes          []string `json:"themes"`
	EntriesAnalyzed int      `json:"entries_analyzed"`
	Milestone       int      `json:"milestone"`
	GeneratedAt     string   `json:"generated_at"`
	FromCache       bool     `json:"from_cache"`
}

// LoadInsightResult is the result of the load_insight tool.
type LoadInsightResult struct {
	Status        string         `json:"status"`
	Milestone     int            `json:"milestone"`
	EntriesNeeded int            `json:"entries_needed,omitempty"`
	Insight       *InsightResult `json:"insight,omitempty"`
	Warning       string         `json:"warning,omitempty"`
}

func (s *Server) handleLoadInsight(ctx context.Context,
	req *mcp.CallToolRequest,
	args LoadInsightArgs) (*mcp.CallToolResult, LoadInsightResult, error) {

	entries := make([]insight.Entry, len(args.Entries))
	for i, e := range args.Entries {
		date, err := parseDate(e.Date)
		if err != nil {
			return nil, LoadInsightResult{}, fmt.Errorf("entries[%d]: "+
				"%w", i, err)
		}

		entries[i] = insight.Entry{
			ID:        e.ID,
			Date:      date,
			Title:     e.Title,
			Content:   e.Content,
			WordCount: e.WordCount,
			Mood:      e.Mood,
		}
	}

	res, err := s.svc.LoadOrGenerate(ctx, args.UserID, entries)
	if err != nil {
		return nil, LoadInsightResult{}, err
	}

	out := LoadInsightResult{
		Status:        res.Status.String(),
		Milestone:     res.Milestone,
		EntriesNeeded: res.EntriesNeeded,
		Insight:       toResult(res.Record),
	}
	if res.Err != nil {
		out.Warning = res.Err.Error()
	}

	return nil, out, nil
}

// GetInsightArgs are the arguments for the get_insight tool.
type GetInsightArgs struct {
	UserID     string `json:"user_id" jsonschema:"ID of the user"`
	EntryCount *int   `json:"entry_count,omitempty" jsonschema:"Live entry count, omit when unknown"`
}

// GetInsightResult is the result of the get_insight tool.
type GetInsightResult struct {
	Found   bool           `json:"found"`
	Insight *InsightResult `json:"insight,omitempty"`
}

func (s *Server) handleGetInsight(ctx context.Context,
	req *mcp.CallToolRequest,
	args GetInsightArgs) (*mcp.CallToolResult, GetInsightResult, error) {

	if args.UserID == "" {
		return nil, GetInsightResult{}, errors.New("user_id is required")
	}

	count := -1
	if args.EntryCount != nil {
		count = *args.EntryCount
	}

	rec, err := s.svc.Get(ctx, args.UserID, count)
	if err != nil {
		return nil, GetInsightResult{}, err
	}

	out := toResult(rec)

	return nil, GetInsightResult{Found: out != nil, Insight: out}, nil
}

// InsightStatusArgs are the arguments for the insight_status tool.
type InsightStatusArgs struct {
	UserID string `json:"user_id" jsonschema:"ID of the user"`
}

// InsightStatusResult is the result of the insight_status tool.
type InsightStatusResult struct {
	State      string         `json:"state"`
	EntryCount int            `json:"entry_count"`
	LastError  string         `json:"last_error,omitempty"`
	Insight    *InsightResult `json:"insight,omitempty"`
}

func (s *Server) handleInsightStatus(ctx context.Context,
	req *mcp.CallToolRequest,
	args InsightStatusArgs) (*mcp.CallToolResult, InsightStatusResult, error) {

	snap := s.svc.Status(args.UserID)

	out := InsightStatusResult{
		State:      snap.State.String(),
		EntryCount: snap.EntryCount,
		Insight:    toResult(snap.Record),
	}
	if snap.LastErr != nil {
		out.LastError = snap.LastErr.Error()
	}

	return nil, out, nil
}

// ClearInsightArgs are the arguments for the clear_insight tool.
type ClearInsightArgs struct {
	UserID string `json:"user_id" jsonschema:"ID of the user"`
	Remote bool   `json:"remote,omitempty" jsonschema:"Also delete the shared copies"`
}

// ClearInsightResult is the result of the clear_insight tool.
type ClearInsightResult struct {
	Cleared bool `json:"cleared"`
	Remote  bool `json:"remote"`
}

func (s *Server) handleClearInsight(ctx context.Context,
	req *mcp.CallToolRequest,
	args ClearInsightArgs) (*mcp.CallToolResult, ClearInsightResult, error) {

	if args.UserID == "" {
		return nil, ClearInsightResult{}, errors.New("user_id is required")
	}

	if err := s.svc.Clear(ctx, args.UserID, args.Remote); err != nil {
		return nil, ClearInsightResult{}, err
	}

	s.log.InfoContext(ctx, "Insight cleared via MCP",
		"user_id", args.UserID, "remote", args.Remote,
	)

	return nil, ClearInsightResult{Cleared: true, Remote: args.Remote}, nil
}

func toResult(rec fn.Option[insight.Record]) *InsightResult {
	var out *InsightResult
	rec.WhenSome(func(r insight.Record) {
		themes := make([]string, len(r.Themes))
		for i, t := range r.Themes {
			themes[i] = t.Name
		}

		out = &InsightResult{
			ID:              r.ID,
			Summary:         r.Summary,
			Description:     r.Description,
			Themes:          themes,
			EntriesAnalyzed: r.EntriesAnalyzed,
			Milestone:       r.Milestone,
			GeneratedAt:     r.GeneratedAt.Format(time.RFC3339),
			FromCache:       r.FromCache,
		}
	})

	return out
}

// parseDate accepts RFC 3339 timestamps and plain dates.
func parseDate(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}

	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", v)
	}

	return t, nil
}
