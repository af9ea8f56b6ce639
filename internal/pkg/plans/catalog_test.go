package plans

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimit(t *testing.T) {
	tests := []struct {
		name      string
		planID    string
		usageType UsageType
		want      Quota
	}{
		{"basic daily ai messages", "basic", UsageAIMessages, 30},
		{"basic weekly quizzes", "basic", UsageQuizzes, 5},
		{"basic monthly exams", "basic", UsageExams, 1},
		{"premium ai messages unlimited", "premium", UsageAIMessages, Unlimited},
		{"premium exams", "premium", UsageExams, 10},
		{"unknown plan denied", "enterprise", UsageAIMessages, 0},
		{"unknown usage type denied", "basic", UsageType("video_calls"), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Limit(tt.planID, tt.usageType))
		})
	}
}

func TestPeriodOf(t *testing.T) {
	p, ok := PeriodOf(UsageQuizzes)
	require.True(t, ok)
	assert.Equal(t, PeriodWeekly, p)

	_, ok = PeriodOf(UsageType("bogus"))
	assert.False(t, ok)
}

func TestResolveUsageType(t *testing.T) {
	ut, metered := ResolveUsageType("generate_quiz")
	require.True(t, metered)
	assert.Equal(t, UsageQuizzes, ut)

	_, metered = ResolveUsageType("list_enrolled_courses")
	assert.False(t, metered)
}

func TestEveryUsageTypeHasAPeriod(t *testing.T) {
	for _, ut := range AllUsageTypes() {
		_, ok := PeriodOf(ut)
		assert.True(t, ok, "usage type %s has no period", ut)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plans.json")
	payload := `[{"id":"basic_v2","name":"Basic v2","price_kobo":200000,"billing_interval_days":30,"limits":{"ai_messages_per_day":40}}]`
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o644))

	t.Cleanup(func() {
		mu.Lock()
		catalog = builtinCatalog
		mu.Unlock()
	})

	require.NoError(t, LoadFile(path))

	p, ok := Get("basic_v2")
	require.True(t, ok)
	assert.Equal(t, Quota(40), p.Limit(UsageAIMessages))
	assert.Equal(t, Quota(0), p.Limit(UsageQuizzes))

	_, ok = Get("basic")
	assert.False(t, ok, "override replaces the builtin catalog")
}

func TestLoadFileRejectsDuplicates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plans.json")
	payload := `[{"id":"basic"},{"id":"basic"}]`
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o644))

	assert.Error(t, LoadFile(path))
}
