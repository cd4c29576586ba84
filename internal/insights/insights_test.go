package insights

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pillarline/internal/domain"
)

func assessed(id, date string, scores ...int) domain.Assessment {
	a := domain.Assessment{ID: id, Date: date}
	sum := 0
	for i, s := range scores {
		a.Scores = append(a.Scores, domain.PillarScore{PillarID: []string{"p1", "p2", "p3"}[i], Score: s})
		sum += s
	}
	if len(scores) > 0 {
		a.OverallScore = sum / len(scores)
	}
	return a
}

func TestMaturityLevel(t *testing.T) {
	cases := map[int]int{0: 1, 19: 1, 20: 2, 39: 2, 40: 3, 60: 4, 79: 4, 80: 5, 100: 5}
	for score, want := range cases {
		assert.Equal(t, want, MaturityLevel(score), "score %d", score)
	}
}

func TestTrend(t *testing.T) {
	p := domain.Product{Assessments: []domain.Assessment{assessed("a1", "2024-01-01", 40, 50)}}
	assert.Nil(t, Trend(p, "p1"))

	p.Assessments = append(p.Assessments, assessed("a2", "2024-02-01", 55, 45))
	assert.Equal(t, &TrendInfo{Direction: Up, Value: 15}, Trend(p, "p1"))
	assert.Equal(t, &TrendInfo{Direction: Down, Value: 5}, Trend(p, "p2"))
	assert.Equal(t, &TrendInfo{Direction: Stable, Value: 0}, Trend(p, "p3"))
	assert.Equal(t, 55, PillarScore(p, "p1"))
	assert.Equal(t, 0, PillarScore(p, "p3"))
}

func TestLifecycleBoard(t *testing.T) {
	products := []domain.Product{
		{ID: "1", LifecycleStage: domain.StagePOC, Assessments: []domain.Assessment{assessed("a", "2024-01-01", 80, 90)}},
		{ID: "2", LifecycleStage: domain.StagePOC},
		{ID: "3", LifecycleStage: domain.StageRetire},
	}
	board := LifecycleBoard(products)
	require.Len(t, board, 6)
	assert.Equal(t, domain.StageIdeation, board[0].Stage)
	assert.Empty(t, board[0].Products)
	require.Len(t, board[1].Products, 2)
	assert.Equal(t, 85, board[1].Products[0].OverallScore)
	assert.Equal(t, 5, board[1].Products[0].Level)
	assert.Equal(t, 1, board[1].Products[1].Level)
	assert.Len(t, board[5].Products, 1)
}

func TestHeatmapCountsUnassessedAsZero(t *testing.T) {
	products := []domain.Product{
		{ID: "1", Entity: "FR", BusinessDomain: "Health Claims", Assessments: []domain.Assessment{assessed("a", "2024-01-01", 75)}},
		{ID: "2", Entity: "FR", BusinessDomain: "Health Claims"},
		{ID: "3", Entity: "UK", BusinessDomain: "CL Underwriting", Assessments: []domain.Assessment{assessed("a", "2024-01-01", 40)}},
	}
	cells := Heatmap(products, []string{"FR", "UK", "IT"}, []string{"Health Claims", "CL Underwriting"})
	require.Len(t, cells, 2)
	assert.Equal(t, HeatmapCell{Entity: "FR", Domain: "Health Claims", ProductCount: 2, AverageScore: 38, Level: 2}, cells[0])
	assert.Equal(t, "UK", cells[1].Entity)
}

func TestStrategyMatrix(t *testing.T) {
	products := []domain.Product{{ID: "1", Name: "One", Assessments: []domain.Assessment{
		assessed("a1", "2024-01-01", 10, 20),
		assessed("a2", "2024-02-01", 30, 20),
	}}}
	pillars := []domain.Pillar{{ID: "p1"}, {ID: "p2"}, {ID: "p3"}}
	rows := StrategyMatrix(products, pillars)
	require.Len(t, rows, 1)
	require.Len(t, rows[0].Pillars, 3)
	assert.Equal(t, 30, rows[0].Pillars[0].Score)
	assert.Equal(t, Up, rows[0].Pillars[0].Trend.Direction)
	assert.Equal(t, Stable, rows[0].Pillars[1].Trend.Direction)
	assert.Equal(t, 25, rows[0].OverallScore)
}

func TestRecentAssessmentsAndDashboard(t *testing.T) {
	products := []domain.Product{
		{ID: "1", Name: "One", Pinned: true, LifecycleStage: domain.StagePOC, Assessments: []domain.Assessment{assessed("a1", "2024-01-01", 10), assessed("a2", "2024-03-01", 30)}},
		{ID: "2", Name: "Two", LifecycleStage: domain.StagePOC, Assessments: []domain.Assessment{assessed("b1", "2024-02-01", 50)}},
		{ID: "3", Name: "Three", LifecycleStage: domain.StageMVP},
	}
	recent := RecentAssessments(products, 2)
	require.Len(t, recent, 2)
	assert.Equal(t, "a2", recent[0].Assessment.ID)
	assert.Equal(t, "b1", recent[1].Assessment.ID)

	d := BuildDashboard(products)
	assert.Len(t, d.Pinned, 1)
	assert.Len(t, d.Recent, 3)
	assert.Equal(t, 3, d.Total)
	assert.Equal(t, 40, d.AverageScore)
	assert.Equal(t, 2, d.StageCounts[domain.StagePOC])
}
