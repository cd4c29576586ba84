package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"pillarline/internal/audit"
	"pillarline/internal/catalog"
	"pillarline/internal/config"
	"pillarline/internal/db"
	"pillarline/internal/domain"
	"pillarline/internal/engine"
	"pillarline/internal/engine/auth"
	"pillarline/internal/events"
	"pillarline/internal/migrate"
	"pillarline/internal/repo"
	"pillarline/internal/store"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Admin  domain.User
	UK     domain.User
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cat, err := catalog.Load("")
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	eng := engine.New(conn, config.Default(), cat)
	eng.Now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }
	eng.Audit = audit.NewLogger(nil, audit.EventSink{Repo: eng.Repo, Events: eng.Events})
	ctx := context.Background()
	if err := eng.Bootstrap(ctx, "tester"); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	admin, _ := eng.Auth.Lookup("admin")
	uk, _ := eng.Auth.Lookup("uk.user")
	return testEnv{Engine: eng, Ctx: ctx, Admin: admin, UK: uk}
}

func allAnswers(t *testing.T, env testEnv, pillarID string, stage domain.LifecycleStage, yes int) map[string]string {
	t.Helper()
	qs, err := env.Engine.Catalog.QuestionsFor(pillarID)
	if err != nil {
		t.Fatalf("questions: %v", err)
	}
	out := map[string]string{}
	given := 0
	for _, q := range qs {
		if q.LifecycleStage == stage && given < yes {
			out[q.ID] = "yes"
			given++
			continue
		}
		out[q.ID] = "no"
	}
	return out
}

func TestBootstrapSeedsOnce(t *testing.T) {
	env := newTestEnv(t)
	seeded := env.Engine.Store.Len()
	if seeded == 0 {
		t.Fatalf("expected seed products")
	}
	if err := env.Engine.Bootstrap(env.Ctx, "tester"); err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}
	if env.Engine.Store.Len() != seeded {
		t.Fatalf("bootstrap reseeded: %d vs %d", env.Engine.Store.Len(), seeded)
	}
	evts, err := env.Engine.ListEvents(env.Ctx, repo.EventFilter{Type: events.CatalogSeeded})
	if err != nil || len(evts) != 1 {
		t.Fatalf("expected one seed event, got %d (%v)", len(evts), err)
	}
}

func TestCompleteAssessmentAdvancesStage(t *testing.T) {
	env := newTestEnv(t)
	// prod-3 starts at poc; p1 has two poc questions.
	res, err := env.Engine.CompleteAssessment(env.Ctx, engine.CompleteOptions{
		ProductID: "prod-3",
		PillarID:  "p1",
		Answers:   allAnswers(t, env, "p1", domain.StagePOC, 2),
		Actor:     env.UK,
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !res.Advanced || res.Stage != domain.StageMVP || res.PreviousStage != domain.StagePOC {
		t.Fatalf("expected advance poc->mvp, got %+v", res)
	}
	if res.Coverage[domain.StagePOC] != 100 {
		t.Fatalf("unexpected coverage %v", res.Coverage)
	}
	if res.AuditError != "" {
		t.Fatalf("audit failed: %s", res.AuditError)
	}
	if res.Record.PillarName != "Data Management" || res.Record.User.Username != "uk.user" {
		t.Fatalf("unexpected record %+v", res.Record)
	}

	stored, err := env.Engine.Repo.GetProduct(env.Ctx, "prod-3")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if stored.LifecycleStage != domain.StageMVP || len(stored.Assessments) != 1 {
		t.Fatalf("not persisted: %+v", stored)
	}
	advanced, _ := env.Engine.ListEvents(env.Ctx, repo.EventFilter{Type: events.ProductAdvanced, EntityID: "prod-3"})
	if len(advanced) != 1 || advanced[0].ActorID != "uk.user" {
		t.Fatalf("expected stage event by uk.user, got %+v", advanced)
	}
}

func TestCompleteAssessmentBelowThresholdKeepsStage(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.Engine.CompleteAssessment(env.Ctx, engine.CompleteOptions{
		ProductID: "prod-3",
		PillarID:  "p1",
		Answers:   allAnswers(t, env, "p1", domain.StagePOC, 1),
		Actor:     env.UK,
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if res.Advanced || res.Stage != domain.StagePOC {
		t.Fatalf("should not advance at 50%%: %+v", res)
	}
}

func TestCompleteAssessmentMergesIntoLatest(t *testing.T) {
	env := newTestEnv(t)
	before, _ := env.Engine.Store.Get("prod-1")
	latest := before.Assessments[len(before.Assessments)-1]

	res, err := env.Engine.CompleteAssessment(env.Ctx, engine.CompleteOptions{
		ProductID: "prod-1",
		PillarID:  "p2",
		Answers:   map[string]string{"p2-q1": "yes", "p2-q2": "yes", "p2-q3": "no", "p2-q4": "not-relevant"},
		Actor:     env.Admin,
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	// p2 has seven questions: 2 yes, 1 no, 1 not-relevant, 3 unanswered
	if res.Score != 33 {
		t.Fatalf("expected 33, got %d", res.Score)
	}
	if len(res.Assessment.Scores) != len(latest.Scores) {
		t.Fatalf("merge changed pillar count: %+v", res.Assessment.Scores)
	}
	for i, s := range res.Assessment.Scores {
		want := latest.Scores[i].Score
		if s.PillarID == "p2" {
			want = 33
		}
		if s.Score != want || s.PillarID != latest.Scores[i].PillarID {
			t.Fatalf("score %d: got %+v want %d", i, s, want)
		}
	}
	after, _ := env.Engine.Store.Get("prod-1")
	if len(after.Assessments) != len(before.Assessments)+1 {
		t.Fatalf("history not appended")
	}
	if after.Assessments[len(before.Assessments)-1].ID != latest.ID {
		t.Fatalf("prior assessment changed")
	}
}

func TestCompleteAssessmentErrors(t *testing.T) {
	env := newTestEnv(t)
	cases := []struct {
		name  string
		opts  engine.CompleteOptions
		check func(error) bool
	}{
		{"missing product", engine.CompleteOptions{ProductID: "nope", PillarID: "p1", Actor: env.Admin}, engine.IsNotFound},
		{"missing pillar", engine.CompleteOptions{ProductID: "prod-1", PillarID: "p99", Actor: env.Admin}, engine.IsNotFound},
		{"foreign question", engine.CompleteOptions{ProductID: "prod-1", PillarID: "p1", Answers: map[string]string{"p2-q1": "yes"}, Actor: env.Admin}, isValidation},
		{"bad answer", engine.CompleteOptions{ProductID: "prod-1", PillarID: "p1", Answers: map[string]string{"p1-q1": "maybe"}, Actor: env.Admin}, isValidation},
		{"other entity", engine.CompleteOptions{ProductID: "prod-1", PillarID: "p1", Actor: env.UK}, isForbidden},
	}
	for _, tc := range cases {
		_, err := env.Engine.CompleteAssessment(env.Ctx, tc.opts)
		if err == nil || !tc.check(err) {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
	}
	p, _ := env.Engine.Store.Get("prod-1")
	if len(p.Assessments) != 2 {
		t.Fatalf("failed submissions must not append: %d", len(p.Assessments))
	}
}

func isValidation(err error) bool {
	var ve engine.ValidationError
	return errors.As(err, &ve)
}

func isForbidden(err error) bool {
	var fe auth.ForbiddenError
	return errors.As(err, &fe)
}

func TestRetireNeverAdvances(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.AddProduct(env.Ctx, engine.AddProductOptions{Name: "Legacy scorer", Stage: domain.StageRetire, Actor: env.Admin})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	res, err := env.Engine.CompleteAssessment(env.Ctx, engine.CompleteOptions{
		ProductID: p.ID,
		PillarID:  "p1",
		Answers:   allAnswers(t, env, "p1", domain.StageRetire, 10),
		Actor:     env.Admin,
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if res.Advanced || res.Stage != domain.StageRetire {
		t.Fatalf("retire advanced: %+v", res)
	}
}

func TestPreviewDoesNotPersist(t *testing.T) {
	env := newTestEnv(t)
	pv, err := env.Engine.PreviewAssessment(env.Ctx, engine.CompleteOptions{
		ProductID: "prod-3",
		PillarID:  "p1",
		Answers:   allAnswers(t, env, "p1", domain.StagePOC, 2),
		Actor:     env.UK,
	})
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if !pv.WouldAdvance || pv.NextStage != domain.StageMVP || pv.StageCoverage != 100 {
		t.Fatalf("unexpected preview %+v", pv)
	}
	p, _ := env.Engine.Store.Get("prod-3")
	if len(p.Assessments) != 0 || p.LifecycleStage != domain.StagePOC {
		t.Fatalf("preview mutated product: %+v", p)
	}
}

func TestAddProduct(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.AddProduct(env.Ctx, engine.AddProductOptions{Name: "Renewal nudges", BusinessDomain: "P&C Retail Pricing", Actor: env.UK})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if p.Entity != "UK" || p.LifecycleStage != domain.StageIdeation || !strings.HasPrefix(p.ID, "product-") {
		t.Fatalf("unexpected product %+v", p)
	}
	if p.Assessments == nil || len(p.Assessments) != 0 {
		t.Fatalf("expected empty history")
	}
	if _, err := env.Engine.AddProduct(env.Ctx, engine.AddProductOptions{ID: p.ID, Name: "dup", Actor: env.UK}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, err := env.Engine.AddProduct(env.Ctx, engine.AddProductOptions{Name: "x", Entity: "FR", Actor: env.UK}); !isForbidden(err) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := env.Engine.AddProduct(env.Ctx, engine.AddProductOptions{Actor: env.UK}); !isValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := env.Engine.AddProduct(env.Ctx, engine.AddProductOptions{Name: "x", Stage: "someday", Actor: env.UK}); !isValidation(err) {
		t.Fatalf("expected stage validation error, got %v", err)
	}
}

func TestVisibilityAndPin(t *testing.T) {
	env := newTestEnv(t)
	visible := env.Engine.ListProducts(env.Ctx, store.Filter{}, env.UK)
	for _, p := range visible {
		if p.Entity != "UK" {
			t.Fatalf("uk user sees %s of %s", p.ID, p.Entity)
		}
	}
	if len(env.Engine.ListProducts(env.Ctx, store.Filter{}, env.Admin)) <= len(visible) {
		t.Fatalf("admin should see more products")
	}
	if _, err := env.Engine.GetProduct(env.Ctx, "prod-1", env.UK); !isForbidden(err) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	p, err := env.Engine.TogglePin(env.Ctx, "prod-3", env.UK)
	if err != nil || !p.Pinned {
		t.Fatalf("pin: %v %+v", err, p)
	}
	pinned := env.Engine.ListProducts(env.Ctx, store.Filter{PinnedOnly: true}, env.UK)
	if len(pinned) != 1 || pinned[0].ID != "prod-3" {
		t.Fatalf("unexpected pinned list %+v", pinned)
	}
}

func TestViews(t *testing.T) {
	env := newTestEnv(t)
	board := env.Engine.LifecycleBoard(env.Ctx, store.Filter{}, env.Admin)
	if len(board) != 6 || board[0].Stage != domain.StageIdeation {
		t.Fatalf("unexpected board %+v", board)
	}
	cells := env.Engine.Heatmap(env.Ctx, store.Filter{}, env.Admin)
	if len(cells) == 0 {
		t.Fatalf("expected heatmap cells")
	}
	rows := env.Engine.StrategyMatrix(env.Ctx, store.Filter{Query: "fraud"}, env.Admin)
	if len(rows) != 1 || len(rows[0].Pillars) != 6 {
		t.Fatalf("unexpected strategy rows %+v", rows)
	}
	dash := env.Engine.Dashboard(env.Ctx, env.Admin)
	if len(dash.Pinned) != 1 || len(dash.Recent) != 3 {
		t.Fatalf("unexpected dashboard %+v", dash)
	}
}

func TestModelCard(t *testing.T) {
	env := newTestEnv(t)
	md, err := env.Engine.ModelCard(env.Ctx, "prod-1", env.Admin)
	if err != nil {
		t.Fatalf("model card: %v", err)
	}
	for _, want := range []string{"# Claims Fraud Detection AI", "| Precision | 91.0% |", "- xgboost: 1.7.6", "**Repository:**", "Generated on: 2024-06-01 12:00:00 UTC"} {
		if !strings.Contains(md, want) {
			t.Fatalf("model card missing %q:\n%s", want, md)
		}
	}
	if strings.Contains(md, "**Sharepoint:**") {
		t.Fatalf("empty link rendered")
	}
	if _, err := env.Engine.ModelCard(env.Ctx, "prod-2", env.Admin); !engine.IsNotFound(err) {
		t.Fatalf("expected not found for missing performance, got %v", err)
	}
}

func TestImportRecord(t *testing.T) {
	env := newTestEnv(t)
	rec := domain.AuditRecord{ProductName: "Claims Fraud Detection AI", PillarID: "p1", Score: 90}
	a, err := env.Engine.ImportRecord(env.Ctx, rec, env.Admin)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if a.Scores[0].PillarID != "p1" || a.Scores[0].Score != 90 {
		t.Fatalf("unexpected scores %+v", a.Scores)
	}
	rec.ProductName = "Nope"
	if _, err := env.Engine.ImportRecord(env.Ctx, rec, env.Admin); !engine.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestImportRecordHidesOtherEntities(t *testing.T) {
	env := newTestEnv(t)
	before, _ := env.Engine.Store.Get("prod-1")
	rec := domain.AuditRecord{ProductName: "Claims Fraud Detection AI", PillarID: "p1", Score: 90}
	_, err := env.Engine.ImportRecord(env.Ctx, rec, env.UK)
	if !engine.IsNotFound(err) {
		t.Fatalf("expected not found for another entity's product, got %v", err)
	}
	if isForbidden(err) {
		t.Fatalf("error reveals the product exists: %v", err)
	}
	after, _ := env.Engine.Store.Get("prod-1")
	if len(after.Assessments) != len(before.Assessments) {
		t.Fatalf("import changed history: %d -> %d", len(before.Assessments), len(after.Assessments))
	}
}

type brokenSink struct{}

func (brokenSink) Name() string { return "broken" }

func (brokenSink) Write(context.Context, domain.AuditRecord) error {
	return errors.New("audit backend unavailable")
}

func TestCompleteAssessmentSurvivesAuditFailure(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Audit = audit.NewLogger(nil, brokenSink{})

	res, err := env.Engine.CompleteAssessment(env.Ctx, engine.CompleteOptions{
		ProductID: "prod-3",
		PillarID:  "p1",
		Answers:   map[string]string{"p1-q3": "yes", "p1-q4": "yes"},
		Actor:     env.UK,
	})
	if err != nil {
		t.Fatalf("audit failure must not fail the completion: %v", err)
	}
	if !strings.Contains(res.AuditError, "audit backend unavailable") {
		t.Fatalf("expected audit error in result, got %q", res.AuditError)
	}
	if !res.Advanced || res.Stage != domain.StageMVP {
		t.Fatalf("unexpected result %+v", res)
	}

	mem, err := env.Engine.Store.Get("prod-3")
	if err != nil {
		t.Fatalf("store get: %v", err)
	}
	stored, err := env.Engine.Repo.GetProduct(env.Ctx, "prod-3")
	if err != nil {
		t.Fatalf("repo get: %v", err)
	}
	for name, p := range map[string]domain.Product{"memory": mem, "database": stored} {
		if p.LifecycleStage != domain.StageMVP || len(p.Assessments) != 1 {
			t.Errorf("%s: stage=%s history=%d", name, p.LifecycleStage, len(p.Assessments))
			continue
		}
		if p.Assessments[0].ID != res.Assessment.ID {
			t.Errorf("%s: assessment %s, want %s", name, p.Assessments[0].ID, res.Assessment.ID)
		}
	}
}

func TestReplaceAllIsAtomicInDatabase(t *testing.T) {
	env := newTestEnv(t)
	ctx := env.Ctx
	current := env.Engine.Store.List()

	fresh := domain.Product{ID: "prod-new", Name: "Batch Product", Entity: "FR", BusinessDomain: "Health Claims", LifecycleStage: domain.StageIdeation}
	if len(current[0].Assessments) == 0 {
		t.Fatalf("seed product %s has no history", current[0].ID)
	}
	// a shorter history than what is stored is rejected by the repo
	truncated := current[0]
	truncated.Assessments = nil

	err := env.Engine.Store.ReplaceAll(ctx, []domain.Product{fresh, truncated})
	if err == nil {
		t.Fatal("expected replace to fail")
	}
	if _, err := env.Engine.Repo.GetProduct(ctx, "prod-new"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("first product of a failed batch was stored: %v", err)
	}
	if _, err := env.Engine.Store.Get("prod-new"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("memory changed after failed batch: %v", err)
	}
	if env.Engine.Store.Len() != len(current) {
		t.Fatalf("store len = %d, want %d", env.Engine.Store.Len(), len(current))
	}
}

func TestAuditRecordsStored(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CompleteAssessment(env.Ctx, engine.CompleteOptions{ProductID: "prod-2", PillarID: "p4", Answers: map[string]string{"p4-q1": "yes"}, Actor: env.Admin}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	recs, err := env.Engine.ListAuditRecords(env.Ctx, "Health Claims Triage", 10)
	if err != nil || len(recs) != 1 {
		t.Fatalf("expected one record, got %d (%v)", len(recs), err)
	}
	if recs[0].Score != 20 || len(recs[0].Answers) != 5 {
		t.Fatalf("unexpected record %+v", recs[0])
	}
}
