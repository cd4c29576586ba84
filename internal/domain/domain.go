package domain

import "fmt"

type LifecycleStage string

const (
	StageIdeation LifecycleStage = "ideation"
	StagePOC      LifecycleStage = "poc"
	StageMVP      LifecycleStage = "mvp"
	StagePilot    LifecycleStage = "pilot"
	StageRollout  LifecycleStage = "rollout"
	StageRetire   LifecycleStage = "retire"
)

var stageOrder = []LifecycleStage{StageIdeation, StagePOC, StageMVP, StagePilot, StageRollout, StageRetire}

// Stages returns the lifecycle stages in progression order.
func Stages() []LifecycleStage {
	out := make([]LifecycleStage, len(stageOrder))
	copy(out, stageOrder)
	return out
}

// Index returns the position of the stage in the progression, or -1.
func (s LifecycleStage) Index() int {
	for i, st := range stageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

func (s LifecycleStage) Valid() bool { return s.Index() >= 0 }

// Next returns the following stage. retire has none.
func (s LifecycleStage) Next() (LifecycleStage, bool) {
	i := s.Index()
	if i < 0 || i >= len(stageOrder)-1 {
		return s, false
	}
	return stageOrder[i+1], true
}

func ParseStage(v string) (LifecycleStage, error) {
	s := LifecycleStage(v)
	if !s.Valid() {
		return "", fmt.Errorf("invalid lifecycle stage %q", v)
	}
	return s, nil
}

type AnswerValue string

const (
	AnswerYes         AnswerValue = "yes"
	AnswerNo          AnswerValue = "no"
	AnswerUnknown     AnswerValue = "unknown"
	AnswerNotRelevant AnswerValue = "not-relevant"
)

// ParseAnswer accepts the four categorical values and the empty string (unanswered).
func ParseAnswer(v string) (AnswerValue, error) {
	switch a := AnswerValue(v); a {
	case AnswerYes, AnswerNo, AnswerUnknown, AnswerNotRelevant, "":
		return a, nil
	}
	return "", fmt.Errorf("invalid answer %q", v)
}

type RiskLevel string

const (
	RiskLow          RiskLevel = "low"
	RiskIntermediate RiskLevel = "intermediate"
	RiskHigh         RiskLevel = "high"
)

func (r RiskLevel) Valid() bool {
	return r == RiskLow || r == RiskIntermediate || r == RiskHigh
}

type QuestionInfo struct {
	What    string `json:"what"`
	Why     string `json:"why"`
	Example string `json:"example"`
}

type Question struct {
	ID             string         `json:"id"`
	Text           string         `json:"text"`
	PillarID       string         `json:"pillarId"`
	LifecycleStage LifecycleStage `json:"lifecycleStage"`
	Info           *QuestionInfo  `json:"info,omitempty"`
}

type Pillar struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Color       string `json:"color"`
}

type Section struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type PillarScore struct {
	PillarID string `json:"pillarId"`
	Score    int    `json:"score"`
}

type Assessment struct {
	ID           string        `json:"id"`
	Date         string        `json:"date" format:"date"`
	Scores       []PillarScore `json:"scores"`
	OverallScore int           `json:"overallScore"`
}

type KPI struct {
	Name    string `json:"name"`
	Target  string `json:"target"`
	Current string `json:"current"`
	Trend   string `json:"trend" enum:"up,down,stable"`
}

type AccountabilityMember struct {
	Name  string `json:"name"`
	Role  string `json:"role"`
	Email string `json:"email"`
	Type  string `json:"type" enum:"model,deployment,data,product,business"`
}

type Links struct {
	Confluence string `json:"confluence"`
	Jira       string `json:"jira"`
	Repository string `json:"repository"`
	Sharepoint string `json:"sharepoint"`
}

type BusinessInfo struct {
	Problem        string                 `json:"problem"`
	Domain         string                 `json:"domain"`
	RiskLevel      RiskLevel              `json:"riskLevel"`
	KPIs           []KPI                  `json:"kpis"`
	Accountability []AccountabilityMember `json:"accountability"`
	Links          Links                  `json:"links"`
}

type Product struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Description    string         `json:"description"`
	BusinessUnit   string         `json:"businessUnit"`
	Entity         string         `json:"entity"`
	BusinessDomain string         `json:"businessDomain"`
	LifecycleStage LifecycleStage `json:"lifecycleStage"`
	BusinessInfo   BusinessInfo   `json:"businessInfo"`
	Assessments    []Assessment   `json:"assessments"`
	Pinned         bool           `json:"isPinned"`
}

// Clone returns a deep copy so callers can never alias the store's slices.
func (p Product) Clone() Product {
	out := p
	out.BusinessInfo.KPIs = append([]KPI(nil), p.BusinessInfo.KPIs...)
	out.BusinessInfo.Accountability = append([]AccountabilityMember(nil), p.BusinessInfo.Accountability...)
	out.Assessments = make([]Assessment, len(p.Assessments))
	for i, a := range p.Assessments {
		a.Scores = append([]PillarScore(nil), a.Scores...)
		out.Assessments[i] = a
	}
	return out
}

// LatestAssessment returns the most recent assessment, if any.
func (p Product) LatestAssessment() (Assessment, bool) {
	if len(p.Assessments) == 0 {
		return Assessment{}, false
	}
	return p.Assessments[len(p.Assessments)-1], true
}

type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

type User struct {
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
	Entity   string `json:"entity"`
	Role     Role   `json:"role"`
}

// Public strips the credential.
func (u User) Public() User {
	u.Password = ""
	return u
}

func (u User) IsAdmin() bool { return u.Role == RoleAdmin }

// CanSee reports whether the user may view or assess the product.
func (u User) CanSee(p Product) bool {
	return u.IsAdmin() || p.Entity == u.Entity
}

type SplitMetrics struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
}

type ClassificationMetrics struct {
	Train      SplitMetrics `json:"train"`
	Validation SplitMetrics `json:"validation"`
	Test       SplitMetrics `json:"test"`
}

type ModelInfo struct {
	Version         string         `json:"version"`
	Type            string         `json:"type"`
	Hyperparameters map[string]any `json:"hyperparameters"`
}

type Dependency struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type ModelImage struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
}

type ModelPerformance struct {
	Metrics struct {
		Classification ClassificationMetrics `json:"classification"`
	} `json:"metrics"`
	Info         ModelInfo    `json:"info"`
	Dependencies []Dependency `json:"dependencies"`
	Images       []ModelImage `json:"images"`
}

type DetailedAnswer struct {
	QuestionID     string `json:"questionId"`
	QuestionText   string `json:"questionText"`
	Answer         string `json:"answer"`
	LifecycleStage string `json:"lifecycleStage"`
}

// AuditRecord is the flattened, human-readable record of one completed assessment.
type AuditRecord struct {
	ID             string           `json:"id"`
	ProductName    string           `json:"productName"`
	Entity         string           `json:"entity"`
	BusinessDomain string           `json:"businessDomain"`
	PillarID       string           `json:"pillarId"`
	PillarName     string           `json:"pillarName"`
	Answers        []DetailedAnswer `json:"answers"`
	Score          int              `json:"score"`
	Timestamp      string           `json:"timestamp" format:"date-time"`
	User           User             `json:"user"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
