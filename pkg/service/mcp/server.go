// Package mcp exposes the history tiers as MCP tools so that an agent runtime
// can pull decisions and transcripts on its own.
package mcp

import (
	"context"
	"net/http"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/strata/pkg/history"
	"github.com/m-mizutani/strata/pkg/model"
	"github.com/m-mizutani/strata/pkg/repository"
	"github.com/m-mizutani/strata/pkg/utils/logging"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	serverName    = "strata"
	serverVersion = "0.1.0"

	noData = "(no data)"
)

type Server struct {
	stores   *history.Stores
	sessions repository.SessionMap
	server   *mcp.Server
}

type DecisionsParams struct {
	Dates []string `json:"dates,omitempty" jsonschema:"Dates (YYYY-MM-DD) whose decisions are returned"`
	TSIDs []string `json:"tsids,omitempty" jsonschema:"Timestamp identifiers (YYYYMMDDHHmm); takes precedence over dates"`
}

type TranscriptParams struct {
	TSIDs      []string `json:"tsids,omitempty" jsonschema:"Timestamp identifiers whose sessions are read"`
	SessionIDs []string `json:"session_ids,omitempty" jsonschema:"Session identifiers read after the ones resolved from tsids"`
}

// NewServer registers the history tools
func NewServer(stores *history.Stores, sessions repository.SessionMap) *Server {
	s := &Server{
		stores:   stores,
		sessions: sessions,
		server: mcp.NewServer(&mcp.Implementation{
			Name:    serverName,
			Version: serverVersion,
		}, nil),
	}

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "history_timeline",
		Description: "Return the conversation timeline: one line per past turn, '- <tsid> | <summary>'",
	}, s.timeline)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "history_decisions",
		Description: "Return key decisions from past conversations, filtered by tsid or by date",
	}, s.decisions)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "history_transcript",
		Description: "Return the full transcript of past sessions located by tsid or session id, within a size budget",
	}, s.transcript)

	return s
}

// Run serves over stdin/stdout until ctx is canceled or the client disconnects
func (s *Server) Run(ctx context.Context) error {
	if err := s.server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return goerr.Wrap(err, "failed to run mcp server")
	}
	return nil
}

// Handler serves the streamable HTTP transport
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return s.server
	}, nil)
}

func textResult(text string) *mcp.CallToolResult {
	if text == "" {
		text = noData
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func (s *Server) timeline(ctx context.Context, req *mcp.CallToolRequest, _ *struct{}) (*mcp.CallToolResult, any, error) {
	snapshot, err := s.stores.Timeline.Load(ctx)
	if err != nil {
		return nil, nil, err
	}
	return textResult(snapshot.Raw), nil, nil
}

func (s *Server) decisions(ctx context.Context, req *mcp.CallToolRequest, params *DecisionsParams) (*mcp.CallToolResult, any, error) {
	tsids, err := parseTSIDs(params.TSIDs)
	if err != nil {
		return nil, nil, err
	}
	for _, d := range params.Dates {
		if !model.IsDate(d) {
			return nil, nil, goerr.New("invalid date", goerr.V("date", d))
		}
	}

	result, err := s.stores.Decisions.Load(ctx, history.DecisionFilter{TSIDs: tsids, Dates: params.Dates})
	if err != nil {
		return nil, nil, err
	}
	return textResult(result.Text), nil, nil
}

func (s *Server) transcript(ctx context.Context, req *mcp.CallToolRequest, params *TranscriptParams) (*mcp.CallToolResult, any, error) {
	tsids, err := parseTSIDs(params.TSIDs)
	if err != nil {
		return nil, nil, err
	}

	sids, err := history.ResolveSessions(ctx, s.sessions, tsids)
	if err != nil {
		return nil, nil, err
	}
	for _, id := range params.SessionIDs {
		sid := model.SessionID(strings.TrimSpace(id))
		if sid != "" && !containsSession(sids, sid) {
			sids = append(sids, sid)
		}
	}
	if len(sids) == 0 {
		return textResult(""), nil, nil
	}

	retrieval, err := s.stores.Transcript.Retrieve(ctx, sids)
	if err != nil {
		return nil, nil, err
	}

	logging.From(ctx).Debug("transcript served", "sessions", retrieval.SessionIDs, "truncated", retrieval.Truncated)
	return textResult(retrieval.Text), nil, nil
}

func parseTSIDs(values []string) ([]model.TSID, error) {
	tsids := make([]model.TSID, 0, len(values))
	for _, v := range values {
		id, err := model.ParseTSID(strings.TrimSpace(v))
		if err != nil {
			return nil, err
		}
		tsids = append(tsids, id)
	}
	return tsids, nil
}

func containsSession(sids []model.SessionID, sid model.SessionID) bool {
	for _, s := range sids {
		if s == sid {
			return true
		}
	}
	return false
}
