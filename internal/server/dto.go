package server

import (
	"encoding/json"
	"time"

	"pillarline/internal/catalog"
	"pillarline/internal/domain"
)

// Request payloads

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CreateProductRequest struct {
	ID             *string               `json:"id,omitempty"`
	Name           string                `json:"name"`
	Description    string                `json:"description,omitempty"`
	BusinessUnit   string                `json:"business_unit,omitempty"`
	Entity         string                `json:"entity,omitempty"`
	BusinessDomain string                `json:"business_domain,omitempty"`
	LifecycleStage domain.LifecycleStage `json:"lifecycle_stage,omitempty" enum:"ideation,poc,mvp,pilot,rollout,retire"`
	BusinessInfo   *BusinessInfoRequest  `json:"business_info,omitempty"`
}

type BusinessInfoRequest struct {
	Problem        string                        `json:"problem,omitempty"`
	Domain         string                        `json:"domain,omitempty"`
	RiskLevel      domain.RiskLevel              `json:"risk_level,omitempty" enum:"low,intermediate,high"`
	KPIs           []domain.KPI                  `json:"kpis,omitempty"`
	Accountability []domain.AccountabilityMember `json:"accountability,omitempty"`
	Links          *domain.Links                 `json:"links,omitempty"`
}

type SubmitAssessmentRequest struct {
	PillarID string            `json:"pillar_id"`
	Answers  map[string]string `json:"answers,omitempty"`
}

// Response payloads

type LoginResponse struct {
	Token     string      `json:"token"`
	ExpiresAt string      `json:"expires_at" format:"date-time"`
	User      domain.User `json:"user"`
}

type MeResponse struct {
	Username string      `json:"username"`
	Entity   string      `json:"entity"`
	Role     domain.Role `json:"role"`
	Source   string      `json:"source"`
}

type QuestionsResponse struct {
	Pillar   domain.Pillar              `json:"pillar"`
	Sections []catalog.SectionQuestions `json:"sections"`
}

type ModelCardResponse struct {
	ProductID string `json:"product_id"`
	Markdown  string `json:"markdown"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func loginResponse(token string, exp time.Time, u domain.User) LoginResponse {
	return LoginResponse{Token: token, ExpiresAt: exp.UTC().Format(time.RFC3339), User: u.Public()}
}

func (r *BusinessInfoRequest) toDomain() domain.BusinessInfo {
	if r == nil {
		return domain.BusinessInfo{}
	}
	info := domain.BusinessInfo{
		Problem:        r.Problem,
		Domain:         r.Domain,
		RiskLevel:      r.RiskLevel,
		KPIs:           r.KPIs,
		Accountability: r.Accountability,
	}
	if r.Links != nil {
		info.Links = *r.Links
	}
	return info
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	out := map[string]any{}
	if raw == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
