package engine

import (
	"context"

	"pillarline/internal/domain"
	"pillarline/internal/insights"
	"pillarline/internal/store"
)

func (e Engine) LifecycleBoard(ctx context.Context, f store.Filter, actor domain.User) []insights.BoardColumn {
	return insights.LifecycleBoard(e.ListProducts(ctx, f, actor))
}

func (e Engine) Heatmap(ctx context.Context, f store.Filter, actor domain.User) []insights.HeatmapCell {
	var entities, domains []string
	if e.Config != nil {
		entities, domains = e.Config.Entities, e.Config.Domains
	}
	return insights.Heatmap(e.ListProducts(ctx, f, actor), entities, domains)
}

func (e Engine) StrategyMatrix(ctx context.Context, f store.Filter, actor domain.User) []insights.StrategyRow {
	return insights.StrategyMatrix(e.ListProducts(ctx, f, actor), e.Catalog.Pillars())
}

func (e Engine) Dashboard(ctx context.Context, actor domain.User) insights.Dashboard {
	return insights.BuildDashboard(e.ListProducts(ctx, store.Filter{}, actor))
}
