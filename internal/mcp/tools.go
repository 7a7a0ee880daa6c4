package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/tripwire/internal/ctxutil"
	"github.com/ashita-ai/tripwire/internal/guard"
	"github.com/ashita-ai/tripwire/internal/model"
)

func (s *Server) registerTools() {
	// tripwire_evaluate: run an agent's configured checks over one text.
	s.mcpServer.AddTool(
		mcplib.NewTool("tripwire_evaluate",
			mcplib.WithDescription(`Screen a piece of text with the guardrail checks configured for an agent.

WHEN TO USE: On every user message (direction="input") before acting on it,
and on every reply (direction="output") before sending it.

WHAT YOU GET BACK:
- blocked: true when any configured check triggered or could not complete
- message: the refusal to show instead of the text, when blocked
- passed / flagged: which checks passed, and why the others did not

A check that fails to run blocks by default. Do not retry to get around it.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithString("direction",
				mcplib.Description("input for user messages, output for agent replies"),
				mcplib.Required(),
				mcplib.Enum("input", "output"),
			),
			mcplib.WithString("text",
				mcplib.Description("The text to screen"),
				mcplib.Required(),
			),
			mcplib.WithObject("config",
				mcplib.Description(`The agent's guardrail configuration: {"input": [check ids], "output": [check ids], "thresholds": {id: 0..1}, "options": {id: {...}}}`),
				mcplib.Required(),
			),
			mcplib.WithString("agent_id",
				mcplib.Description("Optional agent identifier, recorded with each check execution"),
			),
			mcplib.WithObject("metadata",
				mcplib.Description("Optional conversation context passed to the classifier"),
			),
			mcplib.WithBoolean("verbose",
				mcplib.Description("Return full per-check results instead of the compact summary"),
				mcplib.DefaultBool(false),
			),
		),
		s.handleEvaluate,
	)

	// tripwire_validate: check a configuration against the registry.
	s.mcpServer.AddTool(
		mcplib.NewTool("tripwire_validate",
			mcplib.WithDescription(`Validate a guardrail configuration before using it.

Reports unknown check ids, checks listed for the wrong direction, and bad
thresholds as errors; disabled or duplicate checks and ignored thresholds
are warnings.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithObject("config",
				mcplib.Description("The guardrail configuration to validate"),
				mcplib.Required(),
			),
		),
		s.handleValidate,
	)

	// tripwire_list_checks: the check catalogue.
	s.mcpServer.AddTool(
		mcplib.NewTool("tripwire_list_checks",
			mcplib.WithDescription("List the guardrail checks this server can run, optionally for one direction."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("direction",
				mcplib.Description("Only list checks valid for this direction"),
				mcplib.Enum("input", "output"),
			),
		),
		s.handleListChecks,
	)
}

func (s *Server) handleEvaluate(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	dir, err := guard.ParseDirection(request.GetString("direction", ""))
	if err != nil {
		return errorResult(err.Error()), nil
	}
	text := request.GetString("text", "")
	if len(text) > model.MaxCandidateTextLen {
		return errorResult(fmt.Sprintf("text is %d bytes, limit is %d", len(text), model.MaxCandidateTextLen)), nil
	}
	cfg, err := configArg(request)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	if n := len(cfg.ChecksFor(string(dir))); n > model.MaxChecksPerList {
		return errorResult(fmt.Sprintf("%d %s checks configured, limit is %d", n, dir, model.MaxChecksPerList)), nil
	}
	agentID := request.GetString("agent_id", "")
	if agentID != "" {
		if err := model.ValidateAgentID(agentID); err != nil {
			return errorResult(err.Error()), nil
		}
	}
	var meta map[string]any
	if m, ok := request.GetArguments()["metadata"].(map[string]any); ok {
		meta = m
	}

	ctx = ctxutil.WithTransport(ctxutil.EnsureRequestID(ctx), ctxutil.TransportMCP)
	ev, err := s.engine.Evaluate(ctx, dir, cfg, guard.PlainText(text), guard.EvalContext{AgentID: agentID, Metadata: meta})
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return jsonResult(compactEvaluation(ev, request.GetBool("verbose", false)))
}

func (s *Server) handleValidate(_ context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	cfg, err := configArg(request)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return jsonResult(s.engine.Validate(cfg))
}

func (s *Server) handleListChecks(_ context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	descs := s.engine.Checks()
	if d := request.GetString("direction", ""); d != "" {
		dir, err := guard.ParseDirection(d)
		if err != nil {
			return errorResult(err.Error()), nil
		}
		descs = s.engine.Registry().ListByDirection(dir)
	}
	out := make([]map[string]any, len(descs))
	for i, d := range descs {
		out[i] = compactDescriptor(d)
	}
	return jsonResult(out)
}

// configArg decodes the "config" argument through JSON so it is parsed the
// same way as an HTTP request body.
func configArg(request mcplib.CallToolRequest) (model.AgentGuardrailConfig, error) {
	var cfg model.AgentGuardrailConfig
	raw, ok := request.GetArguments()["config"]
	if !ok || raw == nil {
		return cfg, fmt.Errorf("config is required")
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal result: %w", err)
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}
