package verify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func goodResponse() map[string]any {
	return map[string]any{
		"jobId":    "job_123",
		"feasible": true,
		"blocks": []any{
			map[string]any{
				"taskId":          "t1",
				"title":           "Read chapter 4",
				"start":           "2026-03-02T09:00:00Z",
				"end":             "2026-03-02T10:00:00Z",
				"durationMinutes": 60,
			},
		},
		"metrics": map[string]any{
			"totalBlocks":           1,
			"totalScheduledMinutes": 60,
			"solveTimeMs":           12,
			"feasible":              true,
		},
		"explanations": []any{"Scheduled one focused block Monday morning."},
	}
}

func newBasic() *Verifier {
	return New(Config{Mode: ModeBasic, Enabled: true}, nil)
}

func newStrict() *Verifier {
	return New(Config{Mode: ModeStrict, Enabled: true}, nil)
}

func TestVerifyCleanResponse(t *testing.T) {
	for _, v := range []*Verifier{newBasic(), newStrict()} {
		result := v.VerifyResponse(goodResponse())
		assert.True(t, result.Valid)
		assert.Empty(t, result.Findings)
	}
}

func TestVerifyDisabledPassesEverything(t *testing.T) {
	v := New(Config{Mode: ModeStrict, Enabled: false}, nil)
	result := v.VerifyResponse(map[string]any{})
	assert.True(t, result.Valid)
	assert.Empty(t, result.Findings)
}

func TestMissingExplanationsStrictVsBasic(t *testing.T) {
	resp := goodResponse()
	delete(resp, "explanations")

	basic := newBasic().VerifyResponse(resp)
	assert.True(t, basic.Valid, "basic mode tolerates the error with a finding")
	require.Len(t, basic.Findings, 1)
	assert.Equal(t, SeverityError, basic.Findings[0].Severity)

	strict := newStrict().VerifyResponse(resp)
	assert.False(t, strict.Valid, "strict mode fails on errors")
}

func TestMissingBlocksIsCriticalEverywhere(t *testing.T) {
	resp := goodResponse()
	delete(resp, "blocks")

	result := newBasic().VerifyResponse(resp)
	assert.False(t, result.Valid, "missing blocks cannot be corrected")
}

func TestBlockFieldChecks(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(b map[string]any)
		path     string
		severity Severity
	}{
		{
			name:     "missing task id",
			mutate:   func(b map[string]any) { delete(b, "taskId") },
			path:     "blocks[0].taskId",
			severity: SeverityError,
		},
		{
			name:     "bad datetime",
			mutate:   func(b map[string]any) { b["start"] = "tuesday morning" },
			path:     "blocks[0].start",
			severity: SeverityError,
		},
		{
			name:     "missing duration",
			mutate:   func(b map[string]any) { delete(b, "durationMinutes") },
			path:     "blocks[0].durationMinutes",
			severity: SeverityError,
		},
		{
			name:     "duration out of range",
			mutate:   func(b map[string]any) { b["durationMinutes"] = 600 },
			path:     "blocks[0].durationMinutes",
			severity: SeverityWarning,
		},
		{
			name: "oversized title",
			mutate: func(b map[string]any) {
				long := make([]byte, 120)
				for i := range long {
					long[i] = 'x'
				}
				b["title"] = string(long)
			},
			path:     "blocks[0].title",
			severity: SeverityWarning,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := goodResponse()
			tc.mutate(resp["blocks"].([]any)[0].(map[string]any))

			result := newBasic().VerifyResponse(resp)
			var found *Finding
			for i := range result.Findings {
				if result.Findings[i].Path == tc.path {
					found = &result.Findings[i]
					break
				}
			}
			require.NotNil(t, found, "expected a finding at %s", tc.path)
			assert.Equal(t, tc.severity, found.Severity)
		})
	}
}

func TestOverlappingBlocksDetected(t *testing.T) {
	resp := goodResponse()
	resp["blocks"] = []any{
		map[string]any{
			"taskId": "t1", "start": "2026-03-02T09:00:00Z", "end": "2026-03-02T10:00:00Z", "durationMinutes": 60,
		},
		map[string]any{
			"taskId": "t2", "start": "2026-03-02T09:30:00Z", "end": "2026-03-02T10:30:00Z", "durationMinutes": 60,
		},
	}

	result := newStrict().VerifyResponse(resp)
	assert.False(t, result.Valid)
}

func TestTimezoneSuffixWarning(t *testing.T) {
	resp := goodResponse()
	// RFC3339 requires an offset, so an offsetless string fails the parse
	// and surfaces as an error rather than a frontend warning.
	resp["blocks"].([]any)[0].(map[string]any)["start"] = "2026-03-02T09:00:00"

	result := newBasic().VerifyResponse(resp)
	var found bool
	for _, f := range result.Findings {
		if f.Path == "blocks[0].start" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestExplanationQualityWarnings(t *testing.T) {
	resp := goodResponse()
	resp["explanations"] = []any{
		"too short",
		"The solver applied constraint optimization over the utility objective.",
	}

	result := newBasic().VerifyResponse(resp)
	assert.True(t, result.Valid)

	paths := map[string]bool{}
	for _, f := range result.Findings {
		paths[f.Path] = true
	}
	assert.True(t, paths["explanations[0]"], "short explanation flagged")
	assert.True(t, paths["explanations[1]"], "jargon-heavy explanation flagged")
}

func TestAutoCorrectFillsSafeDefaults(t *testing.T) {
	v := New(Config{Mode: ModeStrict, Enabled: true, AutoCorrect: true}, nil)
	resp := goodResponse()
	delete(resp, "explanations")
	resp["feasible"] = "true"

	result := v.VerifyResponse(resp)
	assert.True(t, result.Valid, "corrected errors no longer fail strict mode")
	require.NotNil(t, result.Corrected)
	assert.Equal(t, []any{}, result.Corrected["explanations"])
	assert.Equal(t, true, result.Corrected["feasible"])
	assert.ElementsMatch(t, []string{"explanations", "feasible"}, result.Corrections)
}

func TestAutoCorrectNeverInventsBlocks(t *testing.T) {
	v := New(Config{Mode: ModeBasic, Enabled: true, AutoCorrect: true}, nil)
	resp := goodResponse()
	delete(resp, "blocks")

	result := v.VerifyResponse(resp)
	assert.False(t, result.Valid)
	if result.Corrected != nil {
		_, has := result.Corrected["blocks"]
		assert.False(t, has)
	}
}

func TestMetricsChecks(t *testing.T) {
	resp := goodResponse()
	resp["metrics"] = map[string]any{
		"totalBlocks": -1,
		"feasible":    "yes",
	}

	result := newBasic().VerifyResponse(resp)
	assert.True(t, result.Valid, "metric findings are warnings")

	paths := map[string]bool{}
	for _, f := range result.Findings {
		paths[f.Path] = true
	}
	assert.True(t, paths["metrics.totalBlocks"])
	assert.True(t, paths["metrics.totalScheduledMinutes"])
	assert.True(t, paths["metrics.solveTimeMs"])
	assert.True(t, paths["metrics.feasible"])
}

func TestStatsAccumulateAndReset(t *testing.T) {
	v := newStrict()
	v.VerifyResponse(goodResponse())

	bad := goodResponse()
	delete(bad, "explanations")
	v.VerifyResponse(bad)

	stats := v.Stats()
	assert.EqualValues(t, 2, stats.Checked)
	assert.EqualValues(t, 1, stats.Valid)
	assert.EqualValues(t, 1, stats.BySeverity[SeverityError])

	v.ResetStats()
	stats = v.Stats()
	assert.EqualValues(t, 0, stats.Checked)
}

func TestEnableDisable(t *testing.T) {
	v := newStrict()
	v.Disable()
	assert.False(t, v.Config().Enabled)
	assert.True(t, v.VerifyResponse(map[string]any{}).Valid)

	v.Enable()
	assert.True(t, v.Config().Enabled)
	assert.False(t, v.VerifyResponse(map[string]any{}).Valid)
}
