// Package mcptools exposes the assessment engine as MCP tools.
//
// Each tool is a struct holding the engine and the acting user, with
// Definition() returning the mcp.Tool schema and Handle() serving a call.
// Domain failures are reported as tool errors, never as protocol errors.
package mcptools

import (
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"pillarline/internal/domain"
	"pillarline/internal/engine"
	"pillarline/internal/store"
)

// NewServer builds an MCP server whose tools act as the given user.
// Product changes are forwarded to connected clients as log notifications.
func NewServer(e engine.Engine, actor domain.User, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"pillarline",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)
	Register(s, e, actor)
	e.Store.Subscribe(func(c store.Change) {
		s.SendNotificationToAllClients("notifications/message", map[string]any{
			"level":  "info",
			"logger": "pillarline",
			"data":   fmt.Sprintf("product %s %s", c.ProductID, c.Kind),
		})
	})
	return s
}

// Register adds every pillarline tool to s.
func Register(s *server.MCPServer, e engine.Engine, actor domain.User) {
	list := NewListProductsTool(e, actor)
	s.AddTool(list.Definition(), list.Handle)

	scores := NewProductScoresTool(e, actor)
	s.AddTool(scores.Definition(), scores.Handle)

	progress := NewStageProgressTool(e, actor)
	s.AddTool(progress.Definition(), progress.Handle)

	submit := NewSubmitAssessmentTool(e, actor)
	s.AddTool(submit.Definition(), submit.Handle)
}

const instructions = `Pillarline tracks the maturity of AI products across six pillars.
Use list_products to find a product id, product_scores to read its latest pillar scores,
stage_progress to check how a set of answers would score before saving,
and submit_assessment to record a pillar assessment. Answers are yes, no, unknown or not-relevant.`

// answersArg reads the answers object as question id to answer value.
func answersArg(req mcp.CallToolRequest) (map[string]string, error) {
	raw, ok := req.GetArguments()["answers"]
	if !ok || raw == nil {
		return map[string]string{}, nil
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("answers must be an object of question id to answer")
	}
	out := make(map[string]string, len(obj))
	for k, v := range obj {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("answer for %s must be a string", k)
		}
		out[k] = s
	}
	return out, nil
}

// boolArg extracts a boolean argument from a tool request.
func boolArg(req mcp.CallToolRequest, key string, defaultVal bool) bool {
	v, ok := req.GetArguments()[key].(bool)
	if !ok {
		return defaultVal
	}
	return v
}
