package mcptools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"pillarline/internal/domain"
	"pillarline/internal/engine"
)

func assessmentParams() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("product_id", mcp.Required(), mcp.Description("Product id, e.g. prod-1")),
		mcp.WithString("pillar_id", mcp.Required(), mcp.Description("Pillar id, p1 to p6")),
		mcp.WithObject("answers", mcp.Required(),
			mcp.Description("Question id to answer: yes, no, unknown or not-relevant. Missing questions count as unanswered.")),
	}
}

func submission(req mcp.CallToolRequest, actor domain.User) (engine.CompleteOptions, error) {
	opts := engine.CompleteOptions{
		ProductID: req.GetString("product_id", ""),
		PillarID:  req.GetString("pillar_id", ""),
		Actor:     actor,
	}
	if opts.ProductID == "" {
		return opts, fmt.Errorf("product_id is required")
	}
	if opts.PillarID == "" {
		return opts, fmt.Errorf("pillar_id is required")
	}
	answers, err := answersArg(req)
	if err != nil {
		return opts, err
	}
	opts.Answers = answers
	return opts, nil
}

// StageProgressTool handles the stage_progress MCP tool.
type StageProgressTool struct {
	engine engine.Engine
	actor  domain.User
}

func NewStageProgressTool(e engine.Engine, actor domain.User) *StageProgressTool {
	return &StageProgressTool{engine: e, actor: actor}
}

func (t *StageProgressTool) Definition() mcp.Tool {
	opts := append([]mcp.ToolOption{
		mcp.WithDescription("Score a set of answers and report stage coverage without saving anything."),
	}, assessmentParams()...)
	return mcp.NewTool("stage_progress", opts...)
}

func (t *StageProgressTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	opts, err := submission(req, t.actor)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	pv, err := t.engine.PreviewAssessment(ctx, opts)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Score: %d\n", pv.Score)
	fmt.Fprintf(&sb, "Stage %s coverage: %d%% (threshold %d%%)\n", pv.CurrentStage, pv.StageCoverage, pv.Threshold)
	if pv.WouldAdvance {
		fmt.Fprintf(&sb, "Submitting would advance the product to %s.\n", pv.NextStage)
	} else {
		sb.WriteString("Submitting would not advance the product.\n")
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// SubmitAssessmentTool handles the submit_assessment MCP tool.
type SubmitAssessmentTool struct {
	engine engine.Engine
	actor  domain.User
}

func NewSubmitAssessmentTool(e engine.Engine, actor domain.User) *SubmitAssessmentTool {
	return &SubmitAssessmentTool{engine: e, actor: actor}
}

func (t *SubmitAssessmentTool) Definition() mcp.Tool {
	opts := append([]mcp.ToolOption{
		mcp.WithDescription("Complete a pillar assessment: record the score in the product history and advance the lifecycle stage when coverage reaches the threshold."),
	}, assessmentParams()...)
	return mcp.NewTool("submit_assessment", opts...)
}

func (t *SubmitAssessmentTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	opts, err := submission(req, t.actor)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := t.engine.CompleteAssessment(ctx, opts)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Recorded %s for %s on %s.\n", opts.PillarID, res.Product.Name, res.Assessment.Date)
	fmt.Fprintf(&sb, "Pillar score: %d. Overall score: %d.\n", res.Score, res.Assessment.OverallScore)
	if res.Advanced {
		fmt.Fprintf(&sb, "Lifecycle stage advanced from %s to %s.\n", res.PreviousStage, res.Stage)
	} else {
		fmt.Fprintf(&sb, "Lifecycle stage stays at %s (coverage %d%%).\n", res.Stage, res.Coverage[res.PreviousStage])
	}
	if res.AuditError != "" {
		fmt.Fprintf(&sb, "Warning: audit record not stored: %s\n", res.AuditError)
	}
	return mcp.NewToolResultText(sb.String()), nil
}
