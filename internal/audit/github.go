package audit

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"pillarline/internal/domain"
)

const defaultGitHubAPI = "https://api.github.com"

// GitHubSink commits each record as a file under assessments/ through the contents API.
type GitHubSink struct {
	BaseURL string
	Owner   string
	Repo    string
	Branch  string

	client  *http.Client
	limiter *rate.Limiter
}

type GitHubOptions struct {
	BaseURL string
	Owner   string
	Repo    string
	Branch  string
	Token   string
	// Rate is commits per second; 0 means 1.
	Rate float64
}

func NewGitHubSink(ctx context.Context, opts GitHubOptions) *GitHubSink {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = defaultGitHubAPI
	}
	branch := opts.Branch
	if branch == "" {
		branch = "main"
	}
	limit := opts.Rate
	if limit <= 0 {
		limit = 1
	}
	client := &http.Client{Timeout: 15 * time.Second}
	if opts.Token != "" {
		client = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token}))
		client.Timeout = 15 * time.Second
	}
	return &GitHubSink{
		BaseURL: base,
		Owner:   opts.Owner,
		Repo:    opts.Repo,
		Branch:  branch,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(limit), 1),
	}
}

func (*GitHubSink) Name() string { return "github" }

type contentsRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	Branch  string `json:"branch"`
}

func (s *GitHubSink) Write(ctx context.Context, rec domain.AuditRecord) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("github rate limiter: %w", err)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	path := "assessments/" + FileName(rec)
	body, err := json.Marshal(contentsRequest{
		Message: "Add assessment result: " + path,
		Content: base64.StdEncoding.EncodeToString(data),
		Branch:  s.Branch,
	})
	if err != nil {
		return err
	}
	endpoint := fmt.Sprintf("%s/repos/%s/%s/contents/%s", s.BaseURL, url.PathEscape(s.Owner), url.PathEscape(s.Repo), escapePath(path))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("github put %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("github put %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
