// Package catalog loads the read-only pillar, question, user and seed product data.
package catalog

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"pillarline/internal/domain"
)

//go:embed seed/*.json
var seedFS embed.FS

var ErrNotFound = errors.New("not found")

type Catalog struct {
	pillars     []domain.Pillar
	questions   []domain.Question
	sections    map[string][]domain.Section
	users       []domain.User
	products    []domain.Product
	performance map[string]domain.ModelPerformance
}

// SectionQuestions is one section of a pillar with the questions it displays.
type SectionQuestions struct {
	Section   domain.Section    `json:"section"`
	Questions []domain.Question `json:"questions"`
}

// Load reads the catalogue from dataDir, or from the built-in seed when dataDir is empty.
// Files missing from dataDir fall back to the built-in seed.
func Load(dataDir string) (*Catalog, error) {
	seed, err := fs.Sub(seedFS, "seed")
	if err != nil {
		return nil, err
	}
	if dataDir == "" {
		return FromFS(seed)
	}
	return FromFS(overlayFS{primary: os.DirFS(dataDir), fallback: seed})
}

// Builtin returns the embedded seed catalogue.
func Builtin() *Catalog {
	c, err := Load("")
	if err != nil {
		panic(fmt.Sprintf("builtin catalog: %v", err))
	}
	return c
}

// FromFS reads the six catalogue files from fsys and validates them.
func FromFS(fsys fs.FS) (*Catalog, error) {
	var (
		pillars struct {
			Pillars []domain.Pillar `json:"pillars"`
		}
		questions struct {
			Questions []domain.Question `json:"questions"`
		}
		sections struct {
			Sections map[string][]domain.Section `json:"sections"`
		}
		users struct {
			Users []domain.User `json:"users"`
		}
		products struct {
			Products []domain.Product `json:"products"`
		}
		performance struct {
			Products map[string]domain.ModelPerformance `json:"products"`
		}
	)
	files := []struct {
		name     string
		dst      any
		optional bool
	}{
		{"pillars.json", &pillars, false},
		{"questions.json", &questions, false},
		{"sections.json", &sections, true},
		{"users.json", &users, false},
		{"products.json", &products, true},
		{"model-performance.json", &performance, true},
	}
	for _, f := range files {
		data, err := fs.ReadFile(fsys, f.name)
		if err != nil {
			if f.optional && errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("read %s: %w", f.name, err)
		}
		if err := json.Unmarshal(data, f.dst); err != nil {
			return nil, fmt.Errorf("parse %s: %w", f.name, err)
		}
	}
	c := &Catalog{
		pillars:     pillars.Pillars,
		questions:   questions.Questions,
		sections:    sections.Sections,
		users:       users.Users,
		products:    products.Products,
		performance: performance.Products,
	}
	if c.sections == nil {
		c.sections = map[string][]domain.Section{}
	}
	if c.performance == nil {
		c.performance = map[string]domain.ModelPerformance{}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks referential integrity of the loaded data.
func (c *Catalog) Validate() error {
	var errs []error
	pillarIDs := map[string]bool{}
	for _, p := range c.pillars {
		if p.ID == "" {
			errs = append(errs, fmt.Errorf("pillar with empty id"))
			continue
		}
		if pillarIDs[p.ID] {
			errs = append(errs, fmt.Errorf("duplicate pillar %s", p.ID))
		}
		pillarIDs[p.ID] = true
	}
	questionIDs := map[string]bool{}
	for _, q := range c.questions {
		if questionIDs[q.ID] {
			errs = append(errs, fmt.Errorf("duplicate question %s", q.ID))
		}
		questionIDs[q.ID] = true
		if !pillarIDs[q.PillarID] {
			errs = append(errs, fmt.Errorf("question %s references unknown pillar %s", q.ID, q.PillarID))
		}
		if !q.LifecycleStage.Valid() {
			errs = append(errs, fmt.Errorf("question %s has invalid lifecycle stage %q", q.ID, q.LifecycleStage))
		}
	}
	for pillarID := range c.sections {
		if !pillarIDs[pillarID] {
			errs = append(errs, fmt.Errorf("sections reference unknown pillar %s", pillarID))
		}
	}
	usernames := map[string]bool{}
	for _, u := range c.users {
		if u.Username == "" || usernames[u.Username] {
			errs = append(errs, fmt.Errorf("invalid or duplicate user %q", u.Username))
		}
		usernames[u.Username] = true
		if u.Role != domain.RoleAdmin && u.Role != domain.RoleUser {
			errs = append(errs, fmt.Errorf("user %s has invalid role %q", u.Username, u.Role))
		}
	}
	productIDs := map[string]bool{}
	for _, p := range c.products {
		if p.ID == "" || productIDs[p.ID] {
			errs = append(errs, fmt.Errorf("invalid or duplicate product %q", p.ID))
		}
		productIDs[p.ID] = true
		if !p.LifecycleStage.Valid() {
			errs = append(errs, fmt.Errorf("product %s has invalid lifecycle stage %q", p.ID, p.LifecycleStage))
		}
	}
	return errors.Join(errs...)
}

func (c *Catalog) Pillars() []domain.Pillar {
	return append([]domain.Pillar(nil), c.pillars...)
}

func (c *Catalog) Pillar(id string) (domain.Pillar, error) {
	for _, p := range c.pillars {
		if p.ID == id {
			return p, nil
		}
	}
	return domain.Pillar{}, fmt.Errorf("pillar %s: %w", id, ErrNotFound)
}

func (c *Catalog) Questions() []domain.Question {
	return append([]domain.Question(nil), c.questions...)
}

func (c *Catalog) Question(id string) (domain.Question, error) {
	for _, q := range c.questions {
		if q.ID == id {
			return q, nil
		}
	}
	return domain.Question{}, fmt.Errorf("question %s: %w", id, ErrNotFound)
}

// QuestionsFor returns the pillar's questions in catalogue order.
func (c *Catalog) QuestionsFor(pillarID string) ([]domain.Question, error) {
	if _, err := c.Pillar(pillarID); err != nil {
		return nil, err
	}
	var out []domain.Question
	for _, q := range c.questions {
		if q.PillarID == pillarID {
			out = append(out, q)
		}
	}
	return out, nil
}

// SectionsFor splits the pillar's questions across its sections,
// ceil(n/sections) questions per section in catalogue order.
// A pillar without sections gets a single section holding every question.
func (c *Catalog) SectionsFor(pillarID string) ([]SectionQuestions, error) {
	pillar, err := c.Pillar(pillarID)
	if err != nil {
		return nil, err
	}
	questions, _ := c.QuestionsFor(pillarID)
	sections := c.sections[pillarID]
	if len(sections) == 0 {
		sections = []domain.Section{{ID: pillarID + "-all", Title: pillar.Name, Description: pillar.Description}}
	}
	per := (len(questions) + len(sections) - 1) / len(sections)
	out := make([]SectionQuestions, 0, len(sections))
	for i, s := range sections {
		lo, hi := i*per, (i+1)*per
		if lo > len(questions) {
			lo = len(questions)
		}
		if hi > len(questions) {
			hi = len(questions)
		}
		out = append(out, SectionQuestions{Section: s, Questions: append([]domain.Question{}, questions[lo:hi]...)})
	}
	return out, nil
}

func (c *Catalog) User(username string) (domain.User, error) {
	for _, u := range c.users {
		if u.Username == username {
			return u, nil
		}
	}
	return domain.User{}, fmt.Errorf("user %s: %w", username, ErrNotFound)
}

// Users returns the users without their credentials.
func (c *Catalog) Users() []domain.User {
	out := make([]domain.User, len(c.users))
	for i, u := range c.users {
		out[i] = u.Public()
	}
	return out
}

// SeedProducts returns deep copies of the initial product list.
func (c *Catalog) SeedProducts() []domain.Product {
	out := make([]domain.Product, len(c.products))
	for i, p := range c.products {
		out[i] = p.Clone()
	}
	return out
}

func (c *Catalog) ModelPerformance(productID string) (domain.ModelPerformance, error) {
	perf, ok := c.performance[productID]
	if !ok {
		return domain.ModelPerformance{}, fmt.Errorf("model performance for %s: %w", productID, ErrNotFound)
	}
	return perf, nil
}

type overlayFS struct {
	primary  fs.FS
	fallback fs.FS
}

func (o overlayFS) Open(name string) (fs.File, error) {
	f, err := o.primary.Open(name)
	if err == nil {
		return f, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return o.fallback.Open(name)
	}
	return nil, err
}
