package mcp

import (
	"context"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	// guarded-reply walks the agent through screening a user message and its reply.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("guarded-reply",
			mcplib.WithPromptDescription("Screen a user message and the drafted reply with tripwire"),
			mcplib.WithArgument("message",
				mcplib.ArgumentDescription("The user message to answer"),
				mcplib.RequiredArgument(),
			),
		),
		s.handleGuardedReplyPrompt,
	)
}

func (s *Server) handleGuardedReplyPrompt(_ context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	message := request.Params.Arguments["message"]
	if message == "" {
		return nil, fmt.Errorf("mcp: message argument is required")
	}
	text := fmt.Sprintf(`Answer the user message below, screening both sides with tripwire.

1. Call tripwire_evaluate with direction="input" and the message as text.
   If blocked, reply only with the returned message and stop.
2. Draft your reply.
3. Call tripwire_evaluate with direction="output" and your draft as text.
   If blocked, revise the draft using the flagged reasoning and screen it again,
   or reply with the returned message.

User message:
%s`, message)

	return &mcplib.GetPromptResult{
		Description: "Screen a message and its reply",
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: text,
				},
			},
		},
	}, nil
}
