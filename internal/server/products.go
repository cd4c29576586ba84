package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"pillarline/internal/domain"
	"pillarline/internal/engine"
	"pillarline/internal/store"
)

// productQuery is the shared list filter of products and views.
type productQuery struct {
	Q      string `query:"q" doc:"Case-insensitive match on name or description"`
	Entity string `query:"entity"`
	Domain string `query:"domain"`
	Stage  string `query:"stage" doc:"ideation, poc, mvp, pilot, rollout or retire"`
	Pinned bool   `query:"pinned"`
}

func (q productQuery) filter() (store.Filter, error) {
	f := store.Filter{
		Query:      strings.TrimSpace(q.Q),
		Entity:     q.Entity,
		Domain:     q.Domain,
		PinnedOnly: q.Pinned,
	}
	if q.Stage != "" {
		stage, err := domain.ParseStage(q.Stage)
		if err != nil {
			return f, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"stage": q.Stage})
		}
		f.Stage = stage
	}
	return f, nil
}

type productPath struct {
	ProductID string `path:"product_id"`
}

func registerProducts(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-products",
		Method:      http.MethodGet,
		Path:        "/products",
		Summary:     "List products visible to the current user",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *productQuery) (*out[[]domain.Product], error) {
		u, authErr := currentUser(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		f, err := input.filter()
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(e.ListProducts(ctx, f, u))), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-product",
		Method:        http.MethodPost,
		Path:          "/products",
		Summary:       "Create product",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateProductRequest
	}) (*out[domain.Product], error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		u, authErr := currentUser(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.AddProductOptions{
			Name:           strings.TrimSpace(input.Body.Name),
			Description:    input.Body.Description,
			BusinessUnit:   input.Body.BusinessUnit,
			Entity:         input.Body.Entity,
			BusinessDomain: input.Body.BusinessDomain,
			Stage:          input.Body.LifecycleStage,
			BusinessInfo:   input.Body.BusinessInfo.toDomain(),
			Actor:          u,
		}
		if input.Body.ID != nil {
			opts.ID = strings.TrimSpace(*input.Body.ID)
		}
		p, err := e.AddProduct(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-product",
		Method:      http.MethodGet,
		Path:        "/products/{product_id}",
		Summary:     "Get product",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *productPath) (*out[domain.Product], error) {
		u, authErr := currentUser(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.GetProduct(ctx, input.ProductID, u)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "toggle-product-pin",
		Method:      http.MethodPost,
		Path:        "/products/{product_id}/pin",
		Summary:     "Toggle the pinned flag",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *productPath) (*out[domain.Product], error) {
		u, authErr := currentUser(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.TogglePin(ctx, input.ProductID, u)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-model-card",
		Method:      http.MethodGet,
		Path:        "/products/{product_id}/model-card",
		Summary:     "Render the product's model card as Markdown",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *productPath) (*out[ModelCardResponse], error) {
		u, authErr := currentUser(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		md, err := e.ModelCard(ctx, input.ProductID, u)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(ModelCardResponse{ProductID: input.ProductID, Markdown: md}), nil
	})
}

func registerAssessments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "submit-assessment",
		Method:      http.MethodPost,
		Path:        "/products/{product_id}/assessments",
		Summary:     "Complete a pillar assessment",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProductID string `path:"product_id"`
		Body      SubmitAssessmentRequest
	}) (*out[engine.CompletionResult], error) {
		u, authErr := currentUser(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.CompleteAssessment(ctx, engine.CompleteOptions{
			ProductID: input.ProductID,
			PillarID:  input.Body.PillarID,
			Answers:   input.Body.Answers,
			Actor:     u,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "preview-assessment",
		Method:      http.MethodPost,
		Path:        "/products/{product_id}/assessments/preview",
		Summary:     "Score answers and report stage progress without saving",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProductID string `path:"product_id"`
		Body      SubmitAssessmentRequest
	}) (*out[engine.Preview], error) {
		u, authErr := currentUser(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		pv, err := e.PreviewAssessment(ctx, engine.CompleteOptions{
			ProductID: input.ProductID,
			PillarID:  input.Body.PillarID,
			Answers:   input.Body.Answers,
			Actor:     u,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(pv), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-assessments",
		Method:      http.MethodGet,
		Path:        "/products/{product_id}/assessments",
		Summary:     "Assessment history, oldest first",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *productPath) (*out[[]domain.Assessment], error) {
		u, authErr := currentUser(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListAssessments(ctx, input.ProductID, u)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-audit-records",
		Method:      http.MethodGet,
		Path:        "/products/{product_id}/audit-records",
		Summary:     "Detailed answer records logged for the product",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProductID string `path:"product_id"`
		Limit     int    `query:"limit" default:"50"`
	}) (*out[[]domain.AuditRecord], error) {
		u, authErr := currentUser(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.GetProduct(ctx, input.ProductID, u)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListAuditRecords(ctx, p.Name, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})
}
