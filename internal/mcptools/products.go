package mcptools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"pillarline/internal/domain"
	"pillarline/internal/engine"
	"pillarline/internal/insights"
	"pillarline/internal/store"
)

// ListProductsTool handles the list_products MCP tool.
type ListProductsTool struct {
	engine engine.Engine
	actor  domain.User
}

func NewListProductsTool(e engine.Engine, actor domain.User) *ListProductsTool {
	return &ListProductsTool{engine: e, actor: actor}
}

func (t *ListProductsTool) Definition() mcp.Tool {
	return mcp.NewTool("list_products",
		mcp.WithDescription("List AI products with their lifecycle stage and latest overall maturity score."),
		mcp.WithString("query", mcp.Description("Case-insensitive match on name or description")),
		mcp.WithString("entity", mcp.Description("Only products of this entity, e.g. FR")),
		mcp.WithString("stage", mcp.Description("Only products at this stage"),
			mcp.Enum("ideation", "poc", "mvp", "pilot", "rollout", "retire")),
		mcp.WithBoolean("pinned", mcp.Description("Only pinned products")),
	)
}

func (t *ListProductsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	f := store.Filter{
		Query:      req.GetString("query", ""),
		Entity:     req.GetString("entity", ""),
		PinnedOnly: boolArg(req, "pinned", false),
	}
	if s := req.GetString("stage", ""); s != "" {
		stage, err := domain.ParseStage(s)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		f.Stage = stage
	}
	products := t.engine.ListProducts(ctx, f, t.actor)
	if len(products) == 0 {
		return mcp.NewToolResultText("No products match."), nil
	}
	var sb strings.Builder
	sb.WriteString("| ID | Name | Entity | Stage | Overall |\n|----|------|--------|-------|---------|\n")
	for _, p := range products {
		pin := ""
		if p.Pinned {
			pin = " (pinned)"
		}
		fmt.Fprintf(&sb, "| %s | %s%s | %s | %s | %d |\n", p.ID, p.Name, pin, p.Entity, p.LifecycleStage, insights.LatestOverall(p))
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// ProductScoresTool handles the product_scores MCP tool.
type ProductScoresTool struct {
	engine engine.Engine
	actor  domain.User
}

func NewProductScoresTool(e engine.Engine, actor domain.User) *ProductScoresTool {
	return &ProductScoresTool{engine: e, actor: actor}
}

func (t *ProductScoresTool) Definition() mcp.Tool {
	return mcp.NewTool("product_scores",
		mcp.WithDescription("Show a product's latest per-pillar scores, maturity levels and trends."),
		mcp.WithString("product_id", mcp.Required(), mcp.Description("Product id, e.g. prod-1")),
	)
}

func (t *ProductScoresTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("product_id", "")
	if id == "" {
		return mcp.NewToolResultError("product_id is required"), nil
	}
	p, err := t.engine.GetProduct(ctx, id, t.actor)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	latest, ok := insights.LatestAssessment(p)
	if !ok {
		return mcp.NewToolResultText(fmt.Sprintf("%s (%s) has no assessments yet.", p.Name, p.LifecycleStage)), nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "## %s\n\n", p.Name)
	fmt.Fprintf(&sb, "- **Stage**: %s\n- **Assessed**: %s\n- **Overall**: %d (level %d)\n\n",
		p.LifecycleStage, latest.Date, latest.OverallScore, insights.MaturityLevel(latest.OverallScore))
	sb.WriteString("| Pillar | Score | Level | Trend |\n|--------|-------|-------|-------|\n")
	for _, pillar := range t.engine.Catalog.Pillars() {
		score := insights.PillarScore(p, pillar.ID)
		trend := "-"
		if tr := insights.Trend(p, pillar.ID); tr != nil {
			trend = fmt.Sprintf("%s %d", tr.Direction, tr.Value)
		}
		fmt.Fprintf(&sb, "| %s | %d | %d | %s |\n", pillar.Name, score, insights.MaturityLevel(score), trend)
	}
	return mcp.NewToolResultText(sb.String()), nil
}
