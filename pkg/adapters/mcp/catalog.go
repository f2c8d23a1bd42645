package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/aretw0/goop/internal/logging"
	"github.com/aretw0/goop/pkg/domain"
	"github.com/aretw0/goop/pkg/ports"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"
)

// Client is the subset of an MCP client the catalog needs.
type Client interface {
	ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

type route struct {
	server string
	desc   domain.ActionDescriptor
}

// Catalog offers the tools of connected MCP servers as actions.
type Catalog struct {
	mu      sync.RWMutex
	clients map[string]Client
	order   []string
	routes  map[string]route
	info    mcp.Implementation
	logger  *slog.Logger
}

// CatalogOption configures the Catalog.
type CatalogOption func(*Catalog)

// WithClientInfo sets the implementation reported during initialization.
func WithClientInfo(name, version string) CatalogOption {
	return func(c *Catalog) {
		c.info = mcp.Implementation{Name: name, Version: version}
	}
}

// WithLogger sets the catalog logger.
func WithLogger(logger *slog.Logger) CatalogOption {
	return func(c *Catalog) {
		c.logger = logger
	}
}

// NewCatalog creates an empty catalog.
func NewCatalog(opts ...CatalogOption) *Catalog {
	c := &Catalog{
		clients: make(map[string]Client),
		routes:  make(map[string]route),
		info:    mcp.Implementation{Name: "goop", Version: "dev"},
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ ports.ActionCatalog = (*Catalog)(nil)

// Discover connects to every server of the manifest and attaches its tools.
// Servers are attached in name order so action order is stable.
func (c *Catalog) Discover(ctx context.Context, m Manifest) error {
	names := m.Names()
	clients := make([]*client.Client, len(names))

	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		g.Go(func() error {
			cl, err := c.connect(gctx, m.Servers[name])
			if err != nil {
				return fmt.Errorf("server %q: %w", name, err)
			}
			clients[i] = cl
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, cl := range clients {
			if cl != nil {
				_ = cl.Close()
			}
		}
		return err
	}

	for i, name := range names {
		if err := c.Attach(ctx, name, clients[i]); err != nil {
			for _, cl := range clients[i+1:] {
				_ = cl.Close()
			}
			return err
		}
	}
	return nil
}

func (c *Catalog) connect(ctx context.Context, cfg ServerConfig) (*client.Client, error) {
	var (
		cl  *client.Client
		err error
	)
	switch cfg.TransportKind() {
	case TransportStdio:
		// The stdio transport starts the subprocess itself.
		cl, err = client.NewStdioMCPClient(cfg.Command, cfg.EnvList(), cfg.Args...)
		if err != nil {
			return nil, err
		}
	case TransportSSE:
		cl, err = client.NewSSEMCPClient(cfg.URL)
		if err != nil {
			return nil, err
		}
		if err := cl.Start(ctx); err != nil {
			return nil, err
		}
	case TransportStreamableHTTP:
		cl, err = client.NewStreamableHttpClient(cfg.URL)
		if err != nil {
			return nil, err
		}
		if err := cl.Start(ctx); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}

	if err := Initialize(ctx, cl, c.info); err != nil {
		_ = cl.Close()
		return nil, err
	}
	return cl, nil
}

// Initialize performs the protocol handshake on a started client.
func Initialize(ctx context.Context, cl *client.Client, info mcp.Implementation) error {
	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = info
	if _, err := cl.Initialize(ctx, req); err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	return nil
}

// Attach lists the tools of a connected client and offers them as actions.
// The catalog owns the client from then on.
func (c *Catalog) Attach(ctx context.Context, name string, cl Client) error {
	res, err := cl.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		_ = cl.Close()
		return fmt.Errorf("server %q: failed to list tools: %w", name, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.clients[name]; ok {
		_ = cl.Close()
		return fmt.Errorf("server %q is already attached", name)
	}
	added := make(map[string]route, len(res.Tools))
	names := make([]string, 0, len(res.Tools))
	for _, tool := range res.Tools {
		if _, dup := added[tool.Name]; dup {
			_ = cl.Close()
			return fmt.Errorf("server %q lists action %q twice", name, tool.Name)
		}
		if prev, ok := c.routes[tool.Name]; ok {
			_ = cl.Close()
			return fmt.Errorf("action %q of server %q is already provided by %q", tool.Name, name, prev.server)
		}
		desc, err := descriptor(tool)
		if err != nil {
			_ = cl.Close()
			return fmt.Errorf("server %q: %w", name, err)
		}
		added[tool.Name] = route{server: name, desc: desc}
		names = append(names, tool.Name)
	}
	for _, k := range names {
		c.routes[k] = added[k]
	}
	c.order = append(c.order, names...)
	c.clients[name] = cl
	c.logger.Info("MCP server attached", "server", name, "tools", len(res.Tools))
	return nil
}

func descriptor(tool mcp.Tool) (domain.ActionDescriptor, error) {
	raw := tool.RawInputSchema
	if len(raw) == 0 {
		var err error
		raw, err = json.Marshal(tool.InputSchema)
		if err != nil {
			return domain.ActionDescriptor{}, fmt.Errorf("tool %q: %w", tool.Name, err)
		}
	}
	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		return domain.ActionDescriptor{}, fmt.Errorf("tool %q: invalid input schema: %w", tool.Name, err)
	}
	return domain.ActionDescriptor{Name: tool.Name, Description: tool.Description, Schema: schema}, nil
}

// Actions returns the attached tools in attach order.
func (c *Catalog) Actions(_ context.Context) ([]domain.ActionDescriptor, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.ActionDescriptor, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, domain.CloneDescriptor(c.routes[name].desc))
	}
	return out, nil
}

// Invoke calls the tool on the server that provides it. A tool-level error
// result is returned as an error carrying the tool's text.
func (c *Catalog) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	c.mu.RLock()
	r, ok := c.routes[name]
	var cl Client
	if ok {
		cl = c.clients[r.server]
	}
	c.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrActionNotFound, name)
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = domain.CloneArguments(args)
	res, err := cl.CallTool(ctx, req)
	if err != nil {
		return "", err
	}
	text := resultText(res)
	if res.IsError {
		if text == "" {
			text = "tool reported an error"
		}
		return "", errors.New(text)
	}
	return text, nil
}

func resultText(res *mcp.CallToolResult) string {
	parts := make([]string, 0, len(res.Content))
	for _, content := range res.Content {
		if tc, ok := mcp.AsTextContent(content); ok {
			parts = append(parts, tc.Text)
			continue
		}
		if b, err := json.Marshal(content); err == nil {
			parts = append(parts, string(b))
		}
	}
	if len(parts) == 0 && res.StructuredContent != nil {
		if b, err := json.Marshal(res.StructuredContent); err == nil {
			parts = append(parts, string(b))
		}
	}
	return strings.Join(parts, "\n")
}

// Close disconnects every attached server.
func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	for name, cl := range c.clients {
		if err := cl.Close(); err != nil {
			errs = append(errs, fmt.Errorf("server %q: %w", name, err))
		}
	}
	c.clients = make(map[string]Client)
	c.routes = make(map[string]route)
	c.order = nil
	return errors.Join(errs...)
}
