package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"pillarline/internal/audit"
	"pillarline/internal/catalog"
	"pillarline/internal/config"
	"pillarline/internal/domain"
	"pillarline/internal/engine/auth"
	"pillarline/internal/events"
	"pillarline/internal/repo"
	"pillarline/internal/scoring"
	"pillarline/internal/store"
)

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Config  *config.Config
	Catalog *catalog.Catalog
	Store   *store.Store
	Audit   *audit.Logger
	Auth    auth.Service
	Now     func() time.Time
}

func New(db *sql.DB, cfg *config.Config, cat *catalog.Catalog) Engine {
	e := Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Events:  events.Writer{DB: db},
		Config:  cfg,
		Catalog: cat,
		Auth:    auth.Service{Catalog: cat},
		Now:     time.Now,
	}
	e.Store = store.New(journal{repo: e.Repo, events: e.Events})
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) threshold() int {
	if e.Config == nil || e.Config.Assessment.AdvanceThreshold <= 0 {
		return scoring.DefaultAdvanceThreshold
	}
	return e.Config.Assessment.AdvanceThreshold
}

// ValidationError reports bad input on a named field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Bootstrap loads products from the database, seeding them from the catalogue
// the first time.
func (e Engine) Bootstrap(ctx context.Context, actorID string) error {
	n, err := e.Repo.CountProducts(ctx)
	if err != nil {
		return fmt.Errorf("count products: %w", err)
	}
	if n == 0 {
		seed := e.Catalog.SeedProducts()
		if len(seed) > 0 {
			if err := e.Store.ReplaceAll(withActor(ctx, actorID), seed); err != nil {
				return fmt.Errorf("seed products: %w", err)
			}
			if err := e.Events.AppendNow(ctx, events.CatalogSeeded, "catalog", "", actorID, events.EventPayload{"products": len(seed)}); err != nil {
				return err
			}
			return nil
		}
	}
	return e.Store.Load(ctx)
}

// CompleteOptions are the inputs of one assessment submission.
type CompleteOptions struct {
	ProductID string
	PillarID  string
	Answers   map[string]string
	Actor     domain.User
}

type CompletionResult struct {
	Score         int                           `json:"score"`
	Coverage      map[domain.LifecycleStage]int `json:"stage_coverage"`
	Assessment    domain.Assessment             `json:"assessment"`
	PreviousStage domain.LifecycleStage         `json:"previous_stage"`
	Stage         domain.LifecycleStage         `json:"lifecycle_stage"`
	Advanced      bool                          `json:"advanced"`
	Product       domain.Product                `json:"product"`
	Record        domain.AuditRecord            `json:"audit_record"`
	AuditError    string                        `json:"audit_error,omitempty"`
}

// CompleteAssessment scores the submission, appends an assessment, applies the
// advancement rule and hands the audit record to the audit sinks.
func (e Engine) CompleteAssessment(ctx context.Context, opts CompleteOptions) (CompletionResult, error) {
	pillar, questions, answers, err := e.resolveSubmission(opts.PillarID, opts.Answers)
	if err != nil {
		return CompletionResult{}, err
	}
	now := e.now()
	var (
		completion scoring.Completion
		previous   domain.LifecycleStage
	)
	_, err = e.Store.Update(withActor(ctx, opts.Actor.Username), opts.ProductID, func(cur domain.Product) (domain.Product, error) {
		if err := auth.Authorize(opts.Actor, "assess", cur); err != nil {
			return cur, err
		}
		previous = cur.LifecycleStage
		completion = scoring.Complete(scoring.CompletionInput{
			Product:   cur,
			PillarID:  pillar.ID,
			Questions: questions,
			Answers:   answers,
			Now:       now,
			Threshold: e.threshold(),
		})
		return completion.Product, nil
	})
	if err != nil {
		return CompletionResult{}, err
	}
	res := CompletionResult{
		Score:         completion.Score,
		Coverage:      completion.Coverage,
		Assessment:    completion.Assessment,
		PreviousStage: previous,
		Stage:         completion.Stage,
		Advanced:      completion.Advanced,
		Product:       completion.Product,
		Record:        audit.BuildRecord(completion.Product, &pillar, pillar.ID, questions, answers, completion.Score, now, opts.Actor),
	}
	if err := e.Audit.Log(ctx, res.Record); err != nil {
		res.AuditError = err.Error()
	}
	return res, nil
}

type Preview struct {
	Score         int                           `json:"score"`
	Coverage      map[domain.LifecycleStage]int `json:"stage_coverage"`
	CurrentStage  domain.LifecycleStage         `json:"current_stage"`
	StageCoverage int                           `json:"current_stage_coverage"`
	Threshold     int                           `json:"threshold"`
	WouldAdvance  bool                          `json:"would_advance"`
	NextStage     domain.LifecycleStage         `json:"next_stage,omitempty"`
}

// PreviewAssessment computes the live score and stage progress without saving.
func (e Engine) PreviewAssessment(ctx context.Context, opts CompleteOptions) (Preview, error) {
	p, err := e.GetProduct(ctx, opts.ProductID, opts.Actor)
	if err != nil {
		return Preview{}, err
	}
	_, questions, answers, err := e.resolveSubmission(opts.PillarID, opts.Answers)
	if err != nil {
		return Preview{}, err
	}
	coverage := scoring.StageCoverage(questions, answers)
	next, advance := scoring.Advance(p.LifecycleStage, coverage[p.LifecycleStage], e.threshold())
	pv := Preview{
		Score:         scoring.Score(scoring.PillarAnswers(questions, opts.PillarID, answers)),
		Coverage:      coverage,
		CurrentStage:  p.LifecycleStage,
		StageCoverage: coverage[p.LifecycleStage],
		Threshold:     e.threshold(),
		WouldAdvance:  advance,
	}
	if advance {
		pv.NextStage = next
	}
	return pv, nil
}

// resolveSubmission checks the pillar and answers against the catalogue.
func (e Engine) resolveSubmission(pillarID string, raw map[string]string) (domain.Pillar, []domain.Question, map[string]domain.AnswerValue, error) {
	if pillarID == "" {
		return domain.Pillar{}, nil, nil, ValidationError{Field: "pillar_id", Message: "is required"}
	}
	pillar, err := e.Catalog.Pillar(pillarID)
	if err != nil {
		return domain.Pillar{}, nil, nil, err
	}
	questions, err := e.Catalog.QuestionsFor(pillarID)
	if err != nil {
		return domain.Pillar{}, nil, nil, err
	}
	known := make(map[string]bool, len(questions))
	for _, q := range questions {
		known[q.ID] = true
	}
	answers := make(map[string]domain.AnswerValue, len(raw))
	for qid, v := range raw {
		if !known[qid] {
			return domain.Pillar{}, nil, nil, ValidationError{Field: "answers." + qid, Message: fmt.Sprintf("question is not part of pillar %s", pillarID)}
		}
		a, err := domain.ParseAnswer(v)
		if err != nil {
			return domain.Pillar{}, nil, nil, ValidationError{Field: "answers." + qid, Message: err.Error()}
		}
		if a != "" {
			answers[qid] = a
		}
	}
	return pillar, questions, answers, nil
}

// AddProductOptions describe a new product. Empty Entity means the actor's entity.
type AddProductOptions struct {
	ID             string
	Name           string
	Description    string
	BusinessUnit   string
	Entity         string
	BusinessDomain string
	Stage          domain.LifecycleStage
	BusinessInfo   domain.BusinessInfo
	Actor          domain.User
}

func (e Engine) AddProduct(ctx context.Context, opts AddProductOptions) (domain.Product, error) {
	if opts.Name == "" {
		return domain.Product{}, ValidationError{Field: "name", Message: "is required"}
	}
	if opts.Entity == "" {
		opts.Entity = opts.Actor.Entity
	}
	if opts.Stage == "" {
		opts.Stage = domain.StageIdeation
	}
	if !opts.Stage.Valid() {
		return domain.Product{}, ValidationError{Field: "lifecycle_stage", Message: fmt.Sprintf("invalid lifecycle stage %q", opts.Stage)}
	}
	if opts.BusinessInfo.RiskLevel == "" {
		opts.BusinessInfo.RiskLevel = domain.RiskLow
	}
	if !opts.BusinessInfo.RiskLevel.Valid() {
		return domain.Product{}, ValidationError{Field: "business_info.risk_level", Message: fmt.Sprintf("invalid risk level %q", opts.BusinessInfo.RiskLevel)}
	}
	if e.Config != nil {
		if !contains(e.Config.Entities, opts.Entity) {
			return domain.Product{}, ValidationError{Field: "entity", Message: fmt.Sprintf("unknown entity %q", opts.Entity)}
		}
		if opts.BusinessDomain != "" && !contains(e.Config.Domains, opts.BusinessDomain) {
			return domain.Product{}, ValidationError{Field: "business_domain", Message: fmt.Sprintf("unknown business domain %q", opts.BusinessDomain)}
		}
	}
	if err := auth.AuthorizeEntity(opts.Actor, "create", opts.Entity); err != nil {
		return domain.Product{}, err
	}
	id := opts.ID
	if id == "" {
		id = fmt.Sprintf("product-%d", e.now().UnixMilli())
	}
	p := domain.Product{
		ID:             id,
		Name:           opts.Name,
		Description:    opts.Description,
		BusinessUnit:   opts.BusinessUnit,
		Entity:         opts.Entity,
		BusinessDomain: opts.BusinessDomain,
		LifecycleStage: opts.Stage,
		BusinessInfo:   opts.BusinessInfo,
		Assessments:    []domain.Assessment{},
	}
	if p.BusinessInfo.Domain == "" {
		p.BusinessInfo.Domain = opts.BusinessDomain
	}
	if err := e.Store.Add(withActor(ctx, opts.Actor.Username), p); err != nil {
		return domain.Product{}, err
	}
	return p, nil
}

func (e Engine) TogglePin(ctx context.Context, id string, actor domain.User) (domain.Product, error) {
	if _, err := e.GetProduct(ctx, id, actor); err != nil {
		return domain.Product{}, err
	}
	return e.Store.TogglePin(withActor(ctx, actor.Username), id)
}

// GetProduct returns the product when the actor may see it.
func (e Engine) GetProduct(_ context.Context, id string, actor domain.User) (domain.Product, error) {
	p, err := e.Store.Get(id)
	if err != nil {
		return domain.Product{}, err
	}
	if err := auth.Authorize(actor, "view", p); err != nil {
		return domain.Product{}, err
	}
	return p, nil
}

// ListProducts applies entity visibility and then the filter.
func (e Engine) ListProducts(_ context.Context, f store.Filter, actor domain.User) []domain.Product {
	return f.Apply(store.VisibleTo(actor, e.Store.List()))
}

func (e Engine) ListAssessments(ctx context.Context, id string, actor domain.User) ([]domain.Assessment, error) {
	p, err := e.GetProduct(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	return p.Assessments, nil
}

func (e Engine) ListEvents(ctx context.Context, f repo.EventFilter) ([]domain.Event, error) {
	return e.Repo.LatestEvents(ctx, f)
}

func (e Engine) ListAuditRecords(ctx context.Context, productName string, limit int) ([]domain.AuditRecord, error) {
	return e.Repo.ListAuditRecords(ctx, productName, limit)
}

// ImportRecord applies a previously exported audit record to the product of
// the same name as a new assessment. The lifecycle stage is left unchanged.
func (e Engine) ImportRecord(ctx context.Context, rec domain.AuditRecord, actor domain.User) (domain.Assessment, error) {
	if _, err := e.Catalog.Pillar(rec.PillarID); err != nil {
		return domain.Assessment{}, err
	}
	if rec.Score < 0 || rec.Score > 100 {
		return domain.Assessment{}, ValidationError{Field: "score", Message: "must be between 0 and 100"}
	}
	// products outside the actor's entity are treated as absent
	var target string
	for _, p := range store.VisibleTo(actor, e.Store.List()) {
		if p.Name == rec.ProductName {
			target = p.ID
			break
		}
	}
	if target == "" {
		return domain.Assessment{}, fmt.Errorf("product named %q: %w", rec.ProductName, store.ErrNotFound)
	}
	var a domain.Assessment
	_, err := e.Store.Update(withActor(ctx, actor.Username), target, func(cur domain.Product) (domain.Product, error) {
		if err := auth.Authorize(actor, "assess", cur); err != nil {
			return cur, err
		}
		a = scoring.NewAssessment(cur.Assessments, rec.PillarID, rec.Score, e.now())
		cur.Assessments = scoring.AppendAssessment(cur.Assessments, a)
		return cur, nil
	})
	return a, err
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

// IsNotFound reports whether err is any of the not-found sentinels.
func IsNotFound(err error) bool {
	return errors.Is(err, repo.ErrNotFound) || errors.Is(err, store.ErrNotFound) || errors.Is(err, catalog.ErrNotFound)
}
