package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"pillarline/internal/domain"
)

// ModelCard renders the product's model card as Markdown.
func (e Engine) ModelCard(ctx context.Context, id string, actor domain.User) (string, error) {
	p, err := e.GetProduct(ctx, id, actor)
	if err != nil {
		return "", err
	}
	perf, err := e.Catalog.ModelPerformance(id)
	if err != nil {
		return "", err
	}
	return RenderModelCard(p, perf, e.now().UTC().Format("2006-01-02 15:04:05 MST")), nil
}

func RenderModelCard(p domain.Product, perf domain.ModelPerformance, generated string) string {
	var b strings.Builder
	info := p.BusinessInfo
	fmt.Fprintf(&b, "# %s\n\n## Overview\n\n%s\n\n", p.Name, p.Description)
	fmt.Fprintf(&b, "**Business Unit:** %s\n**Domain:** %s\n\n", p.BusinessUnit, info.Domain)

	b.WriteString("## Business Context\n\n### Problem Statement\n\n")
	fmt.Fprintf(&b, "%s\n\n### Risk Level\n\n**Level:** %s\n\n### Key Performance Indicators\n\n", info.Problem, info.RiskLevel)
	for _, k := range info.KPIs {
		fmt.Fprintf(&b, "- **%s**\n  - Target: %s\n  - Current: %s\n  - Trend: %s\n", k.Name, k.Target, k.Current, k.Trend)
	}

	cls := perf.Metrics.Classification
	fmt.Fprintf(&b, "\n## Model Information\n\n### Model Type\n%s (v%s)\n\n", perf.Info.Type, perf.Info.Version)
	b.WriteString("### Performance Metrics\n\n#### Classification Performance\n\n")
	b.WriteString("| Metric | Training | Validation | Test |\n|--------|----------|------------|------|\n")
	fmt.Fprintf(&b, "| Precision | %s | %s | %s |\n", pct(cls.Train.Precision), pct(cls.Validation.Precision), pct(cls.Test.Precision))
	fmt.Fprintf(&b, "| Recall | %s | %s | %s |\n", pct(cls.Train.Recall), pct(cls.Validation.Recall), pct(cls.Test.Recall))
	fmt.Fprintf(&b, "| F1 Score | %s | %s | %s |\n\n", pct(cls.Train.F1), pct(cls.Validation.F1), pct(cls.Test.F1))

	hp, err := json.MarshalIndent(perf.Info.Hyperparameters, "", "  ")
	if err != nil || perf.Info.Hyperparameters == nil {
		hp = []byte("{}")
	}
	fmt.Fprintf(&b, "### Hyperparameters\n\n```json\n%s\n```\n\n### Dependencies\n\n", hp)
	for _, d := range perf.Dependencies {
		fmt.Fprintf(&b, "- %s: %s\n", d.Name, d.Version)
	}

	b.WriteString("\n## Accountability\n")
	for _, m := range info.Accountability {
		fmt.Fprintf(&b, "\n### %s\n- **Name:** %s\n- **Email:** %s\n- **Type:** %s\n", m.Role, m.Name, m.Email, m.Type)
	}

	b.WriteString("\n## Links\n\n")
	for _, l := range []struct{ label, url string }{
		{"Confluence", info.Links.Confluence},
		{"Jira", info.Links.Jira},
		{"Repository", info.Links.Repository},
		{"Sharepoint", info.Links.Sharepoint},
	} {
		if l.url != "" {
			fmt.Fprintf(&b, "- **%s:** %s\n", l.label, l.url)
		}
	}

	b.WriteString("\n## Model Visualizations\n")
	for _, img := range perf.Images {
		fmt.Fprintf(&b, "\n### %s\n%s\n\n![%s](%s)\n", img.Title, img.Description, img.Title, img.URL)
	}
	fmt.Fprintf(&b, "\n---\nGenerated on: %s\n", generated)
	return b.String()
}

func pct(v float64) string {
	return fmt.Sprintf("%.1f%%", v*100)
}
