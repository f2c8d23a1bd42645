package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/goop/internal/runtime"
	"github.com/aretw0/goop/pkg/domain"
	"github.com/aretw0/goop/pkg/stream"
	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// GraphURI is the resource exposing the node graph.
const GraphURI = "goop://graph"

// TurnResponse is the structured result of every session tool.
type TurnResponse struct {
	SessionID string                `json:"session_id" jsonschema_description:"The session the turn ran on"`
	Output    string                `json:"output" jsonschema_description:"Aggregated text produced during the turn"`
	Status    domain.Status         `json:"status" jsonschema_description:"active, suspended or stopped"`
	Next      domain.NodeID         `json:"next" jsonschema_description:"The node the session resumes at"`
	Review    *domain.ReviewRequest `json:"review,omitempty" jsonschema_description:"The action awaiting human review, if suspended"`
}

// Engine is the session surface served over MCP.
type Engine interface {
	Start(ctx context.Context, sessionID, text string, opts runtime.SessionOptions) iter.Seq2[domain.OutputEvent, error]
	Send(ctx context.Context, sessionID, text string) iter.Seq2[domain.OutputEvent, error]
	Resume(ctx context.Context, sessionID string, res domain.ReviewResolution) iter.Seq2[domain.OutputEvent, error]
	Inspect(ctx context.Context, sessionID string) (*domain.Checkpoint, error)
}

// Server exposes an Engine as an MCP server.
type Server struct {
	engine    Engine
	mcpServer *server.MCPServer
	logger    *slog.Logger
}

// NewServer creates a new MCP Server instance.
func NewServer(engine Engine, version string, logger *slog.Logger) *Server {
	s := &Server{
		engine:    engine,
		mcpServer: server.NewMCPServer("goop", strings.TrimSpace(version)),
		logger:    logger,
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying protocol server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves over SSE on addr until ctx is done.
func (s *Server) ServeSSE(ctx context.Context, addr, baseURL string) error {
	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", sseServer.SSEHandler())
	mux.Handle("/message", sseServer.MessageHandler())

	httpServer := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

type startArgs struct {
	SessionID   string `json:"session_id"`
	Message     string `json:"message"`
	AutoApprove bool   `json:"auto_approve"`
}

type sendArgs struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type resumeArgs struct {
	SessionID string `json:"session_id"`
	Action    string `json:"action"`
	Data      string `json:"data"`
}

type sessionArgs struct {
	SessionID string `json:"session_id"`
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("start_session",
		mcp.WithDescription("Start a conversation with a first message. Runs until the agent answers or an action needs review."),
		mcp.WithString("session_id", mcp.Description("Session identifier (generated when omitted)")),
		mcp.WithString("message", mcp.Required(), mcp.Description("The first human message")),
		mcp.WithBoolean("auto_approve", mcp.Description("Run protected actions without review")),
		mcp.WithOutputSchema[TurnResponse](),
	), mcp.NewStructuredToolHandler(s.handleStart))

	s.mcpServer.AddTool(mcp.NewTool("send_message",
		mcp.WithDescription("Send a follow-up message to a session."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session identifier")),
		mcp.WithString("message", mcp.Required(), mcp.Description("The human message")),
		mcp.WithOutputSchema[TurnResponse](),
	), mcp.NewStructuredToolHandler(s.handleSend))

	s.mcpServer.AddTool(mcp.NewTool("resume_session",
		mcp.WithDescription("Resolve the pending review of a suspended session."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session identifier")),
		mcp.WithString("action", mcp.Required(), mcp.Description("approve, edit, reject or comment")),
		mcp.WithString("data", mcp.Description("JSON arguments for edit, feedback text for comment")),
		mcp.WithOutputSchema[TurnResponse](),
	), mcp.NewStructuredToolHandler(s.handleResume))

	s.mcpServer.AddTool(mcp.NewTool("inspect_session",
		mcp.WithDescription("Return the latest checkpoint of a session."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session identifier")),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := request.GetString("session_id", "")
		cp, err := s.engine.Inspect(ctx, id)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("inspect failed: %v", err)), nil
		}
		jsonBytes, _ := json.Marshal(cp)
		return mcp.NewToolResultText(string(jsonBytes)), nil
	})
}

func (s *Server) handleStart(ctx context.Context, _ mcp.CallToolRequest, args startArgs) (TurnResponse, error) {
	id := args.SessionID
	if id == "" {
		id = uuid.NewString()
	}
	return s.turn(ctx, id, s.engine.Start(ctx, id, args.Message, runtime.SessionOptions{AutoApprove: args.AutoApprove}))
}

func (s *Server) handleSend(ctx context.Context, _ mcp.CallToolRequest, args sendArgs) (TurnResponse, error) {
	return s.turn(ctx, args.SessionID, s.engine.Send(ctx, args.SessionID, args.Message))
}

func (s *Server) handleResume(ctx context.Context, _ mcp.CallToolRequest, args resumeArgs) (TurnResponse, error) {
	res := domain.ReviewResolution{Action: domain.ParseReviewAction(args.Action), Data: args.Data}
	return s.turn(ctx, args.SessionID, s.engine.Resume(ctx, args.SessionID, res))
}

// turn drains a run and reports where the session stopped.
func (s *Server) turn(ctx context.Context, sessionID string, seq iter.Seq2[domain.OutputEvent, error]) (TurnResponse, error) {
	var sb strings.Builder
	for frag, err := range stream.Fragments(seq) {
		if err != nil {
			s.logger.Warn("MCP turn failed", "session_id", sessionID, "err", err)
			return TurnResponse{}, err
		}
		sb.WriteString(frag)
	}
	cp, err := s.engine.Inspect(ctx, sessionID)
	if err != nil {
		return TurnResponse{}, err
	}
	return TurnResponse{
		SessionID: sessionID,
		Output:    sb.String(),
		Status:    cp.Status,
		Next:      cp.Next,
		Review:    cp.PendingReview,
	}, nil
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(GraphURI, "Node graph",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		jsonBytes, err := json.Marshal(runtime.Transitions())
		if err != nil {
			return nil, err
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      GraphURI,
				MIMEType: "application/json",
				Text:     string(jsonBytes),
			},
		}, nil
	})
}
