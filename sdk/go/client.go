package pillarlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Pillarline HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// PillarScore is one pillar's score inside an assessment.
type PillarScore struct {
	PillarID string `json:"pillarId"`
	Score    int    `json:"score"`
}

// Assessment is one entry of a product's history.
type Assessment struct {
	ID           string        `json:"id"`
	Date         string        `json:"date"`
	Scores       []PillarScore `json:"scores"`
	OverallScore int           `json:"overallScore"`
}

// Product represents the API product model (partial).
type Product struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Entity         string       `json:"entity"`
	BusinessDomain string       `json:"businessDomain"`
	LifecycleStage string       `json:"lifecycleStage"`
	Assessments    []Assessment `json:"assessments"`
	Pinned         bool         `json:"isPinned"`
}

// NewProduct is the creation payload.
type NewProduct struct {
	ID             string `json:"id,omitempty"`
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	Entity         string `json:"entity,omitempty"`
	BusinessDomain string `json:"business_domain,omitempty"`
	LifecycleStage string `json:"lifecycle_stage,omitempty"`
}

// Completion is the outcome of a submitted assessment.
type Completion struct {
	Score         int            `json:"score"`
	StageCoverage map[string]int `json:"stage_coverage"`
	Assessment    Assessment     `json:"assessment"`
	PreviousStage string         `json:"previous_stage"`
	Stage         string         `json:"lifecycle_stage"`
	Advanced      bool           `json:"advanced"`
	AuditError    string         `json:"audit_error,omitempty"`
}

// Preview reports a live score without saving.
type Preview struct {
	Score         int    `json:"score"`
	CurrentStage  string `json:"current_stage"`
	StageCoverage int    `json:"current_stage_coverage"`
	Threshold     int    `json:"threshold"`
	WouldAdvance  bool   `json:"would_advance"`
	NextStage     string `json:"next_stage,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// ProductFilter narrows ListProducts. Zero values do not filter.
type ProductFilter struct {
	Query  string
	Entity string
	Domain string
	Stage  string
	Pinned bool
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// Login exchanges credentials for a bearer token and keeps it on the client.
func (c *Client) Login(ctx context.Context, username, password string) error {
	var resp struct {
		Token string `json:"token"`
	}
	body := map[string]any{"username": username, "password": password}
	if err := c.do(ctx, http.MethodPost, "v0/auth/login", body, &resp); err != nil {
		return err
	}
	c.BearerToken = resp.Token
	return nil
}

// ListProducts returns the products visible to the logged-in user.
func (c *Client) ListProducts(ctx context.Context, f ProductFilter) ([]Product, error) {
	q := url.Values{}
	for k, v := range map[string]string{"q": f.Query, "entity": f.Entity, "domain": f.Domain, "stage": f.Stage} {
		if v != "" {
			q.Set(k, v)
		}
	}
	if f.Pinned {
		q.Set("pinned", "true")
	}
	endpoint := "v0/products"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []Product
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// GetProduct fetches a product by id.
func (c *Client) GetProduct(ctx context.Context, id string) (Product, error) {
	var resp Product
	err := c.do(ctx, http.MethodGet, c.productPath(id, ""), nil, &resp)
	return resp, err
}

// CreateProduct creates a product.
func (c *Client) CreateProduct(ctx context.Context, p NewProduct) (Product, error) {
	var resp Product
	err := c.do(ctx, http.MethodPost, "v0/products", p, &resp)
	return resp, err
}

// TogglePin flips the product's pinned flag.
func (c *Client) TogglePin(ctx context.Context, id string) (Product, error) {
	var resp Product
	err := c.do(ctx, http.MethodPost, c.productPath(id, "pin"), nil, &resp)
	return resp, err
}

// SubmitAssessment completes a pillar assessment.
func (c *Client) SubmitAssessment(ctx context.Context, productID, pillarID string, answers map[string]string) (Completion, error) {
	var resp Completion
	body := map[string]any{"pillar_id": pillarID, "answers": answers}
	err := c.do(ctx, http.MethodPost, c.productPath(productID, "assessments"), body, &resp)
	return resp, err
}

// PreviewAssessment scores answers without saving them.
func (c *Client) PreviewAssessment(ctx context.Context, productID, pillarID string, answers map[string]string) (Preview, error) {
	var resp Preview
	body := map[string]any{"pillar_id": pillarID, "answers": answers}
	err := c.do(ctx, http.MethodPost, c.productPath(productID, "assessments/preview"), body, &resp)
	return resp, err
}

// Assessments returns the product's history, oldest first.
func (c *Client) Assessments(ctx context.Context, productID string) ([]Assessment, error) {
	var resp []Assessment
	err := c.do(ctx, http.MethodGet, c.productPath(productID, "assessments"), nil, &resp)
	return resp, err
}

// ModelCard returns the product's model card as Markdown.
func (c *Client) ModelCard(ctx context.Context, productID string) (string, error) {
	var resp struct {
		Markdown string `json:"markdown"`
	}
	err := c.do(ctx, http.MethodGet, c.productPath(productID, "model-card"), nil, &resp)
	return resp.Markdown, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) productPath(id, sub string) string {
	p := "v0/products/" + url.PathEscape(id)
	if sub != "" {
		p += "/" + strings.TrimLeft(sub, "/")
	}
	return p
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
