package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"pillarline/internal/engine"
	"pillarline/internal/insights"
	"pillarline/internal/repo"
)

func registerViews(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "view-lifecycle",
		Method:      http.MethodGet,
		Path:        "/views/lifecycle",
		Summary:     "Products grouped by lifecycle stage",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *productQuery) (*out[[]insights.BoardColumn], error) {
		u, authErr := currentUser(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		f, err := input.filter()
		if err != nil {
			return nil, handleError(err)
		}
		return reply(e.LifecycleBoard(ctx, f, u)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "view-heatmap",
		Method:      http.MethodGet,
		Path:        "/views/heatmap",
		Summary:     "Average latest score per entity and business domain",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *productQuery) (*out[[]insights.HeatmapCell], error) {
		u, authErr := currentUser(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		f, err := input.filter()
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(e.Heatmap(ctx, f, u))), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "view-strategy",
		Method:      http.MethodGet,
		Path:        "/views/strategy",
		Summary:     "Per-pillar scores and trends for each product",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *productQuery) (*out[[]insights.StrategyRow], error) {
		u, authErr := currentUser(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		f, err := input.filter()
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(e.StrategyMatrix(ctx, f, u))), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "view-dashboard",
		Method:      http.MethodGet,
		Path:        "/views/dashboard",
		Summary:     "Pinned products and the latest assessments",
	}, func(ctx context.Context, _ *struct{}) (*out[insights.Dashboard], error) {
		u, authErr := currentUser(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		return reply(e.Dashboard(ctx, u)), nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events (admin only)",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"product,audit_record,catalog"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*out[paginatedEvents], error) {
		u, authErr := currentUser(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if !u.IsAdmin() {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "the event log is restricted to admins", nil)
		}
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.ListEvents(ctx, repo.EventFilter{
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Before:     cursorID,
			Limit:      limit + 1,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return reply(resp), nil
	})
}
