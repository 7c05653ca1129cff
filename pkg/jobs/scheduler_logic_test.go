package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHasAllTags(t *testing.T) {
	assert.True(t, hasAllTags([]string{"gpu", "sdxl", "fast"}, []string{"gpu", "sdxl"}))
	assert.False(t, hasAllTags([]string{"gpu"}, []string{"gpu", "sdxl"}))
	assert.True(t, hasAllTags(nil, nil))
	assert.True(t, hasAllTags([]string{"gpu"}, nil))
}

func TestLoadScore(t *testing.T) {
	// 0.6*clamp(50/100) + 0.4*clamp(2/4) = 0.3 + 0.2 = 0.5
	w := Worker{GPUPercent: 50, ActiveJobs: 2}
	assert.InDelta(t, 0.5, loadScore(w, 4), 0.0001)

	// Over-100 GPU or over-denominator active jobs clamp to 1.
	overloaded := Worker{GPUPercent: 250, ActiveJobs: 99}
	assert.InDelta(t, 1.0, loadScore(overloaded, 4), 0.0001)

	// Zero denominator disables the active-jobs term rather than dividing by zero.
	idle := Worker{GPUPercent: 0, ActiveJobs: 5}
	assert.InDelta(t, 0.0, loadScore(idle, 0), 0.0001)
}

func TestPickWorkerPrefersLowerLoadAmongTagMatches(t *testing.T) {
	now := time.Now()
	busy := Worker{ID: 1, Status: "online", Tags: []string{"gpu"}, GPUPercent: 90, LastHeartbeatAt: &now}
	idle := Worker{ID: 2, Status: "online", Tags: []string{"gpu"}, GPUPercent: 10, LastHeartbeatAt: &now}

	picked, ok := pickWorker([]Worker{busy, idle}, Job{RequiredTags: []string{"gpu"}}, 4)
	assert := assert.New(t)
	assert.True(ok)
	assert.Equal(int64(2), picked.ID)
}

func TestPickWorkerExcludesTagMismatch(t *testing.T) {
	w := Worker{ID: 1, Status: "online", Tags: []string{"cpu"}}
	_, ok := pickWorker([]Worker{w}, Job{RequiredTags: []string{"gpu"}}, 4)
	assert.False(t, ok)
}

func TestPickWorkerTieBreaksOnHeartbeatAgeThenID(t *testing.T) {
	now := time.Now()
	older := now.Add(-time.Minute)
	newer := now.Add(-time.Second)

	a := Worker{ID: 5, Status: "online", GPUPercent: 0, ActiveJobs: 0, LastHeartbeatAt: &older}
	b := Worker{ID: 3, Status: "online", GPUPercent: 0, ActiveJobs: 0, LastHeartbeatAt: &newer}

	picked, ok := pickWorker([]Worker{a, b}, Job{}, 4)
	assert := assert.New(t)
	assert.True(ok)
	assert.Equal(int64(3), picked.ID, "smaller heartbeat age (most recently confirmed alive) should be preferred")
}

func TestPickWorkerFinalTieBreakIsAscendingID(t *testing.T) {
	now := time.Now()
	a := Worker{ID: 9, Status: "online", LastHeartbeatAt: &now}
	b := Worker{ID: 2, Status: "online", LastHeartbeatAt: &now}

	picked, ok := pickWorker([]Worker{a, b}, Job{}, 4)
	assert := assert.New(t)
	assert.True(ok)
	assert.Equal(int64(2), picked.ID)
}

func TestPickWorkerExcludesNonOnline(t *testing.T) {
	draining := Worker{ID: 1, Status: "draining"}
	_, ok := pickWorker([]Worker{draining}, Job{}, 4)
	assert.False(t, ok)
}
