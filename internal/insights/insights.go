// Package insights derives the portfolio views from product histories.
package insights

import (
	"sort"

	"pillarline/internal/domain"
	"pillarline/internal/scoring"
)

// MaturityLevel maps a 0-100 score to a level from 1 to 5.
func MaturityLevel(score int) int {
	switch {
	case score >= 80:
		return 5
	case score >= 60:
		return 4
	case score >= 40:
		return 3
	case score >= 20:
		return 2
	}
	return 1
}

func LatestAssessment(p domain.Product) (domain.Assessment, bool) {
	return p.LatestAssessment()
}

func PreviousAssessment(p domain.Product) (domain.Assessment, bool) {
	if len(p.Assessments) < 2 {
		return domain.Assessment{}, false
	}
	return p.Assessments[len(p.Assessments)-2], true
}

// LatestOverall is the latest overall score, 0 without history.
func LatestOverall(p domain.Product) int {
	a, ok := p.LatestAssessment()
	if !ok {
		return 0
	}
	return a.OverallScore
}

func scoreIn(a domain.Assessment, pillarID string) (int, bool) {
	for _, s := range a.Scores {
		if s.PillarID == pillarID {
			return s.Score, true
		}
	}
	return 0, false
}

// PillarScore is the pillar's score in the latest assessment, 0 when missing.
func PillarScore(p domain.Product, pillarID string) int {
	a, ok := p.LatestAssessment()
	if !ok {
		return 0
	}
	s, _ := scoreIn(a, pillarID)
	return s
}

type Direction string

const (
	Up     Direction = "up"
	Down   Direction = "down"
	Stable Direction = "stable"
)

type TrendInfo struct {
	Direction Direction `json:"direction"`
	Value     int       `json:"value"`
}

// Trend compares the pillar between the last two assessments.
// It is nil with fewer than two assessments.
func Trend(p domain.Product, pillarID string) *TrendInfo {
	prev, ok := PreviousAssessment(p)
	if !ok {
		return nil
	}
	latest, _ := p.LatestAssessment()
	cur, _ := scoreIn(latest, pillarID)
	old, _ := scoreIn(prev, pillarID)
	diff := cur - old
	switch {
	case diff > 0:
		return &TrendInfo{Direction: Up, Value: diff}
	case diff < 0:
		return &TrendInfo{Direction: Down, Value: -diff}
	}
	return &TrendInfo{Direction: Stable, Value: 0}
}

type BoardCard struct {
	ProductID    string `json:"productId"`
	Name         string `json:"name"`
	Entity       string `json:"entity"`
	OverallScore int    `json:"overallScore"`
	Level        int    `json:"maturityLevel"`
}

type BoardColumn struct {
	Stage    domain.LifecycleStage `json:"stage"`
	Products []BoardCard           `json:"products"`
}

// LifecycleBoard groups products into the six stages in progression order.
func LifecycleBoard(products []domain.Product) []BoardColumn {
	stages := domain.Stages()
	cols := make([]BoardColumn, len(stages))
	byStage := make(map[domain.LifecycleStage]int, len(stages))
	for i, s := range stages {
		cols[i] = BoardColumn{Stage: s, Products: []BoardCard{}}
		byStage[s] = i
	}
	for _, p := range products {
		i, ok := byStage[p.LifecycleStage]
		if !ok {
			continue
		}
		overall := LatestOverall(p)
		cols[i].Products = append(cols[i].Products, BoardCard{
			ProductID:    p.ID,
			Name:         p.Name,
			Entity:       p.Entity,
			OverallScore: overall,
			Level:        MaturityLevel(overall),
		})
	}
	return cols
}

type HeatmapCell struct {
	Entity       string `json:"entity"`
	Domain       string `json:"domain"`
	ProductCount int    `json:"productCount"`
	AverageScore int    `json:"averageScore"`
	Level        int    `json:"maturityLevel"`
}

// Heatmap aggregates the latest overall score per entity and domain.
// Products without assessments count as 0; empty cells are omitted.
func Heatmap(products []domain.Product, entities, domains []string) []HeatmapCell {
	var out []HeatmapCell
	for _, e := range entities {
		for _, d := range domains {
			n, sum := 0, 0
			for _, p := range products {
				if p.Entity == e && p.BusinessDomain == d {
					n++
					sum += LatestOverall(p)
				}
			}
			if n == 0 {
				continue
			}
			avg := scoring.Round(float64(sum) / float64(n))
			out = append(out, HeatmapCell{Entity: e, Domain: d, ProductCount: n, AverageScore: avg, Level: MaturityLevel(avg)})
		}
	}
	return out
}

type StrategyCell struct {
	PillarID string     `json:"pillarId"`
	Score    int        `json:"score"`
	Trend    *TrendInfo `json:"trend,omitempty"`
}

type StrategyRow struct {
	ProductID    string                `json:"productId"`
	Name         string                `json:"name"`
	Stage        domain.LifecycleStage `json:"lifecycleStage"`
	Pillars      []StrategyCell        `json:"pillars"`
	OverallScore int                   `json:"overallScore"`
}

// StrategyMatrix gives one row per product with each pillar's latest score and trend.
func StrategyMatrix(products []domain.Product, pillars []domain.Pillar) []StrategyRow {
	rows := make([]StrategyRow, 0, len(products))
	for _, p := range products {
		row := StrategyRow{ProductID: p.ID, Name: p.Name, Stage: p.LifecycleStage, OverallScore: LatestOverall(p)}
		for _, pl := range pillars {
			row.Pillars = append(row.Pillars, StrategyCell{PillarID: pl.ID, Score: PillarScore(p, pl.ID), Trend: Trend(p, pl.ID)})
		}
		rows = append(rows, row)
	}
	return rows
}

type RecentAssessment struct {
	ProductID   string            `json:"productId"`
	ProductName string            `json:"productName"`
	Assessment  domain.Assessment `json:"assessment"`
}

// RecentAssessments flattens every history, newest date first, and keeps n.
// Ties keep product order and then history order, latest first.
func RecentAssessments(products []domain.Product, n int) []RecentAssessment {
	var all []RecentAssessment
	for _, p := range products {
		for i := len(p.Assessments) - 1; i >= 0; i-- {
			all = append(all, RecentAssessment{ProductID: p.ID, ProductName: p.Name, Assessment: p.Assessments[i]})
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Assessment.Date > all[j].Assessment.Date })
	if n > 0 && len(all) > n {
		all = all[:n]
	}
	return all
}

type Dashboard struct {
	Pinned       []domain.Product              `json:"pinned"`
	Recent       []RecentAssessment            `json:"recent"`
	Total        int                           `json:"totalProducts"`
	AverageScore int                           `json:"averageScore"`
	StageCounts  map[domain.LifecycleStage]int `json:"stageCounts"`
}

// BuildDashboard assembles the landing summary: pinned products and the three latest assessments.
func BuildDashboard(products []domain.Product) Dashboard {
	d := Dashboard{
		Pinned:      []domain.Product{},
		Recent:      RecentAssessments(products, 3),
		Total:       len(products),
		StageCounts: map[domain.LifecycleStage]int{},
	}
	sum, assessed := 0, 0
	for _, p := range products {
		if p.Pinned {
			d.Pinned = append(d.Pinned, p)
		}
		d.StageCounts[p.LifecycleStage]++
		if a, ok := p.LatestAssessment(); ok {
			sum += a.OverallScore
			assessed++
		}
	}
	if assessed > 0 {
		d.AverageScore = scoring.Round(float64(sum) / float64(assessed))
	}
	return d
}
