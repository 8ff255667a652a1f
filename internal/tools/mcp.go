package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dotmila/mila/internal/core"
	"github.com/dotmila/mila/pkg/log"
	"github.com/mark3labs/mcp-go/client"
	mcpproto "github.com/mark3labs/mcp-go/mcp"
)

type MCPServerConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env"`
}

type MCPConfig struct {
	MCPServers map[string]MCPServerConfig `json:"mcpServers"`
}

// MCPBridge connects to configured MCP servers on Start and registers their
// tools into a Registry. It implements srv.Service.
type MCPBridge struct {
	configPath string
	registry   *Registry

	mu      sync.Mutex
	clients map[string]*client.Client
}

func NewMCPBridge(configPath string, registry *Registry) *MCPBridge {
	return &MCPBridge{
		configPath: configPath,
		registry:   registry,
		clients:    make(map[string]*client.Client),
	}
}

func (b *MCPBridge) Start(ctx context.Context) error {
	cfg, err := b.loadConfig()
	if err != nil {
		return err
	}
	if cfg == nil {
		log.FromCtx(ctx).Debug().Str("path", b.configPath).Msg("no mcp config, skipping bridge")
		return nil
	}

	for name, srv := range cfg.MCPServers {
		log.FromCtx(ctx).Info().Str("server", name).Msg("starting mcp connection")

		cli, err := b.connect(ctx, srv)
		if err != nil {
			return fmt.Errorf("mcp server %s: %w", name, err)
		}

		b.mu.Lock()
		b.clients[name] = cli
		b.mu.Unlock()

		if err := b.registerTools(ctx, name, cli); err != nil {
			return fmt.Errorf("mcp server %s: %w", name, err)
		}
	}
	return nil
}

func (b *MCPBridge) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for name, cli := range b.clients {
		if err := cli.Close(); err != nil {
			log.FromCtx(ctx).Error().Err(err).Str("server", name).Msg("failed to close mcp client")
		}
	}
	return nil
}

func (b *MCPBridge) loadConfig() (*MCPConfig, error) {
	data, err := os.ReadFile(b.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read mcp config: %w", err)
	}

	var cfg MCPConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse mcp config: %w", err)
	}
	return &cfg, nil
}

func (b *MCPBridge) connect(ctx context.Context, cfg MCPServerConfig) (*client.Client, error) {
	var env []string
	for k, v := range cfg.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	cli, err := client.NewStdioMCPClient(cfg.Command, env, cfg.Args...)
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	if err = cli.Start(ctx); err != nil {
		return nil, fmt.Errorf("start client: %w", err)
	}

	req := mcpproto.InitializeRequest{}
	req.Params.ProtocolVersion = mcpproto.LATEST_PROTOCOL_VERSION
	req.Params.Capabilities = mcpproto.ClientCapabilities{}
	req.Params.ClientInfo = mcpproto.Implementation{
		Name:    core.MilaName,
		Version: core.MilaVersion,
	}

	if _, err := cli.Initialize(ctx, req); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("initialize client: %w", err)
	}
	return cli, nil
}

func (b *MCPBridge) registerTools(ctx context.Context, server string, cli *client.Client) error {
	listCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, err := cli.ListTools(listCtx, mcpproto.ListToolsRequest{})
	if err != nil {
		return fmt.Errorf("list tools: %w", err)
	}

	for _, t := range resp.Tools {
		schemaBytes, _ := json.Marshal(t.InputSchema)
		d := Descriptor{
			Name:        t.Name,
			Description: t.Description,
			Schema:      schemaBytes,
			Handler:     b.callHandler(cli, t.Name),
		}
		if err := b.registry.Register(d); err != nil {
			log.FromCtx(ctx).Warn().Err(err).
				Str("server", server).
				Str("tool", t.Name).
				Msg("skipping mcp tool")
		}
	}
	return nil
}

func (b *MCPBridge) callHandler(cli *client.Client, name string) Handler {
	return func(ctx context.Context, inv core.ToolInvocation) (string, error) {
		var argsMap map[string]interface{}
		if len(inv.Payload) > 0 {
			if err := json.Unmarshal(inv.Payload, &argsMap); err != nil {
				return "", fmt.Errorf("invalid json arguments: %w", err)
			}
		}

		req := mcpproto.CallToolRequest{}
		req.Params.Name = name
		req.Params.Arguments = argsMap

		callCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		defer cancel()

		res, err := cli.CallTool(callCtx, req)
		if err != nil {
			return "", err
		}
		if res.IsError {
			return "", fmt.Errorf("tool execution failed")
		}

		var output string
		for _, content := range res.Content {
			if text, ok := content.(mcpproto.TextContent); ok {
				output += text.Text + "\n"
			} else if textPtr, ok := content.(*mcpproto.TextContent); ok {
				output += textPtr.Text + "\n"
			}
		}
		return output, nil
	}
}
