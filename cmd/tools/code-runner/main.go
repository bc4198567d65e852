package main

import (
	"context"
	"fmt"
	"os"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/michaelbrown/scriptbox/internal/config"
	"github.com/michaelbrown/scriptbox/internal/logging"
	"github.com/michaelbrown/scriptbox/internal/sandbox"
	"github.com/michaelbrown/scriptbox/internal/workspace"
)

const maxToolOutput = 4000

type runner struct {
	sb   sandbox.Sandbox
	root string
	env  map[string]string
	log  *zap.Logger
}

func main() {
	cfg, err := config.Load(os.Getenv("SCRIPTBOX_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}
	// stdout carries the MCP protocol.
	if cfg.Log.Output == "stdout" {
		cfg.Log.Output = "stderr"
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuring logging: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	policy, err := cfg.Policy()
	if err != nil {
		log.Fatal("invalid sandbox config", zap.Error(err))
	}
	rt, err := sandbox.NewDockerRuntime()
	if err != nil {
		log.Fatal("connecting to docker", zap.Error(err))
	}
	defer rt.Close()
	sb, err := sandbox.NewDockerSandbox(rt, policy, sandbox.WithLogger(log))
	if err != nil {
		log.Fatal("creating sandbox", zap.Error(err))
	}

	r := &runner{sb: sb, root: cfg.Server.WorkspaceRoot, env: cfg.Server.Passthrough(), log: log}

	s := server.NewMCPServer("scriptbox-code-runner", "0.1.0")

	s.AddTool(mcp.Tool{
		Name: "script_run",
		Description: fmt.Sprintf("Execute a %s script in an isolated sandbox (%s image, no privileges, %s limit). Returns stdout, or the error output when the script fails.",
			policy.Command[0], policy.Image, policy.Timeout),
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"code": map[string]any{
					"type":        "string",
					"description": "Script source to execute",
				},
				"env": map[string]any{
					"type":                 "object",
					"description":          "Environment variables for the script (optional)",
					"additionalProperties": map[string]any{"type": "string"},
				},
			},
			Required: []string{"code"},
		},
	}, r.handleScriptRun)

	if err := server.ServeStdio(s); err != nil {
		log.Error("server error", zap.Error(err))
	}
}

func (r *runner) handleScriptRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]any)
	if args == nil {
		return errResult("error: invalid arguments"), nil
	}

	code, _ := args["code"].(string)
	if code == "" {
		return errResult("error: 'code' is required"), nil
	}

	env := make(map[string]string, len(r.env))
	for k, v := range r.env {
		env[k] = v
	}
	if raw, ok := args["env"].(map[string]any); ok {
		for k, v := range raw {
			s, ok := v.(string)
			if !ok {
				return errResult(fmt.Sprintf("error: env %q must be a string", k)), nil
			}
			env[k] = s
		}
	}

	ws, err := workspace.Create(r.root)
	if err != nil {
		return errResult(fmt.Sprintf("error: %v", err)), nil
	}
	defer func() {
		if err := ws.Remove(); err != nil {
			r.log.Warn("removing workspace", zap.String("workspace", ws.Path), zap.Error(err))
		}
	}()

	out, err := r.sb.Run(ctx, sandbox.Request{Script: code, Workspace: ws.Path, Env: env})
	if err != nil {
		return errResult(truncate(fmt.Sprintf("%s: %v", sandbox.KindOf(err), err))), nil
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: truncate(out)}},
	}, nil
}

// truncate cuts text to maxToolOutput bytes without splitting a rune.
func truncate(text string) string {
	if len(text) <= maxToolOutput {
		return text
	}
	cut := maxToolOutput
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "\n... (output truncated)"
}

func errResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
		IsError: true,
	}
}
