package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

const (
	checksURI      = "tripwire://checks"
	checkURIPrefix = "tripwire://checks/"
)

func (s *Server) registerResources() {
	// tripwire://checks: every registered check.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			checksURI,
			"Guardrail Checks",
			mcplib.WithResourceDescription("All registered guardrail checks with their directions and default thresholds"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleChecksResource,
	)

	// tripwire://checks/{id}: one check's full descriptor.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			checkURIPrefix+"{id}",
			"Guardrail Check",
			mcplib.WithTemplateDescription("Full descriptor of one guardrail check"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleCheckResource,
	)
}

func (s *Server) handleChecksResource(_ context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	return jsonResource(request.Params.URI, s.engine.Checks())
}

func (s *Server) handleCheckResource(_ context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	id := strings.TrimPrefix(request.Params.URI, checkURIPrefix)
	if id == "" || id == request.Params.URI {
		return nil, errors.New("mcp: check id is required")
	}
	d, err := s.engine.Check(id)
	if err != nil {
		return nil, fmt.Errorf("mcp: %w", err)
	}
	return jsonResource(request.Params.URI, d)
}

func jsonResource(uri string, v any) ([]mcplib.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal resource: %w", err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
