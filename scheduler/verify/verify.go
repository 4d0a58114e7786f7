// Package verify checks outgoing schedule responses before they reach a
// client: structure, block shapes, metrics, and explanation quality. In
// strict mode errors invalidate the response; in basic mode only critical
// findings do. Optional auto-correction fills safe defaults but never
// invents blocks or times.
package verify

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pulseplan/pulse/internal/telemetry"
)

// Severity of one finding.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// Mode selects how findings gate validity.
type Mode string

const (
	// ModeBasic fails only on critical findings.
	ModeBasic Mode = "BASIC"
	// ModeStrict also fails on errors.
	ModeStrict Mode = "STRICT"
)

// Config tunes the verifier.
type Config struct {
	Mode        Mode `json:"mode"`
	Enabled     bool `json:"enabled"`
	AutoCorrect bool `json:"autoCorrect"`
}

// Finding is one detected problem.
type Finding struct {
	Check    string   `json:"check"`
	Severity Severity `json:"severity"`
	Path     string   `json:"path"`
	Message  string   `json:"message"`
}

// Result of verifying one response.
type Result struct {
	Valid       bool           `json:"valid"`
	Findings    []Finding      `json:"findings"`
	Corrected   map[string]any `json:"corrected,omitempty"`
	Corrections []string       `json:"corrections,omitempty"`
}

// Stats accumulate across responses.
type Stats struct {
	Checked     int64              `json:"checked"`
	Valid       int64              `json:"valid"`
	Corrections int64              `json:"corrections"`
	BySeverity  map[Severity]int64 `json:"bySeverity"`
}

// Verifier is safe for concurrent use.
type Verifier struct {
	mu    sync.RWMutex
	cfg   Config
	stats Stats
	tel   *telemetry.Telemetry
}

// New builds a verifier; telemetry may be nil.
func New(cfg Config, tel *telemetry.Telemetry) *Verifier {
	if cfg.Mode == "" {
		cfg.Mode = ModeBasic
	}
	return &Verifier{cfg: cfg, tel: tel, stats: Stats{BySeverity: map[Severity]int64{}}}
}

// Configure replaces the active configuration.
func (v *Verifier) Configure(cfg Config) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if cfg.Mode == "" {
		cfg.Mode = ModeBasic
	}
	v.cfg = cfg
}

// Enable turns verification on.
func (v *Verifier) Enable() { v.setEnabled(true) }

// Disable turns verification off; VerifyResponse then passes everything.
func (v *Verifier) Disable() { v.setEnabled(false) }

func (v *Verifier) setEnabled(on bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cfg.Enabled = on
}

// Config returns the active configuration.
func (v *Verifier) Config() Config {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.cfg
}

// ResetStats zeroes the counters.
func (v *Verifier) ResetStats() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stats = Stats{BySeverity: map[Severity]int64{}}
}

// Stats returns a copy of the counters.
func (v *Verifier) Stats() Stats {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := v.stats
	out.BySeverity = make(map[Severity]int64, len(v.stats.BySeverity))
	for k, n := range v.stats.BySeverity {
		out.BySeverity[k] = n
	}
	return out
}

var technicalTerms = []string{
	"solver", "heuristic", "optimization", "constraint", "objective",
	"feasibility", "utility", "gradient", "bandit", "algorithm",
}

// VerifyResponse checks one schedule response document. When disabled it
// returns valid with no findings.
func (v *Verifier) VerifyResponse(resp map[string]any) Result {
	cfg := v.Config()
	if !cfg.Enabled {
		return Result{Valid: true}
	}

	var findings []Finding
	findings = append(findings, checkStructure(resp)...)
	findings = append(findings, checkBlocks(resp)...)
	findings = append(findings, checkMetrics(resp)...)
	findings = append(findings, checkExplanations(resp)...)

	sort.SliceStable(findings, func(i, j int) bool {
		if findings[i].Path != findings[j].Path {
			return findings[i].Path < findings[j].Path
		}
		return findings[i].Check < findings[j].Check
	})

	result := Result{Findings: findings}
	if cfg.AutoCorrect {
		result.Corrected, result.Corrections = correct(resp, findings)
	}
	result.Valid = valid(findings, cfg.Mode, result.Corrections)

	v.record(result)
	return result
}

func valid(findings []Finding, mode Mode, corrections []string) bool {
	corrected := map[string]bool{}
	for _, c := range corrections {
		corrected[c] = true
	}
	for _, f := range findings {
		if corrected[f.Path] {
			continue
		}
		if f.Severity == SeverityCritical {
			return false
		}
		if mode == ModeStrict && f.Severity == SeverityError {
			return false
		}
	}
	return true
}

func (v *Verifier) record(r Result) {
	v.mu.Lock()
	v.stats.Checked++
	if r.Valid {
		v.stats.Valid++
	}
	v.stats.Corrections += int64(len(r.Corrections))
	for _, f := range r.Findings {
		v.stats.BySeverity[f.Severity]++
	}
	v.mu.Unlock()

	for _, f := range r.Findings {
		v.tel.RecordVerifierFinding(string(f.Severity))
		switch f.Severity {
		case SeverityWarning, SeverityError, SeverityCritical:
			slog.Warn("response verification finding",
				"check", f.Check, "severity", f.Severity, "path", f.Path, "message", f.Message)
		}
	}
}

func checkStructure(resp map[string]any) []Finding {
	var out []Finding
	if _, ok := resp["jobId"].(string); !ok {
		out = append(out, Finding{Check: "structural", Severity: SeverityWarning, Path: "jobId", Message: "missing or non-string job id"})
	}
	if _, ok := resp["feasible"].(bool); !ok {
		out = append(out, Finding{Check: "structural", Severity: SeverityError, Path: "feasible", Message: "missing or non-boolean feasible"})
	}
	if _, ok := resp["blocks"].([]any); !ok {
		out = append(out, Finding{Check: "structural", Severity: SeverityCritical, Path: "blocks", Message: "missing or non-array blocks"})
	}
	if _, ok := resp["metrics"].(map[string]any); !ok {
		out = append(out, Finding{Check: "structural", Severity: SeverityError, Path: "metrics", Message: "missing or non-object metrics"})
	}
	return out
}

type parsedBlock struct {
	start, end time.Time
	taskID     string
}

func checkBlocks(resp map[string]any) []Finding {
	blocks, ok := resp["blocks"].([]any)
	if !ok {
		return nil
	}
	var out []Finding
	var parsed []parsedBlock

	for i, raw := range blocks {
		path := fmt.Sprintf("blocks[%d]", i)
		block, ok := raw.(map[string]any)
		if !ok {
			out = append(out, Finding{Check: "block", Severity: SeverityError, Path: path, Message: "block is not an object"})
			continue
		}

		taskID, _ := block["taskId"].(string)
		if taskID == "" {
			out = append(out, Finding{Check: "block", Severity: SeverityError, Path: path + ".taskId", Message: "missing task id"})
		}
		start, startFindings := checkDatetime(block["start"], path+".start")
		end, endFindings := checkDatetime(block["end"], path+".end")
		out = append(out, startFindings...)
		out = append(out, endFindings...)

		if dur, ok := blockDuration(block); !ok {
			out = append(out, Finding{Check: "block", Severity: SeverityError, Path: path + ".durationMinutes", Message: "missing duration"})
		} else if dur < 5 || dur > 480 {
			out = append(out, Finding{Check: "block", Severity: SeverityWarning, Path: path + ".durationMinutes", Message: fmt.Sprintf("duration %.0f outside [5, 480]", dur)})
		}

		if title, ok := block["title"].(string); ok && len(title) > 100 {
			out = append(out, Finding{Check: "block", Severity: SeverityWarning, Path: path + ".title", Message: "title over 100 characters"})
		}

		if !start.IsZero() && !end.IsZero() {
			if !end.After(start) {
				out = append(out, Finding{Check: "block", Severity: SeverityError, Path: path, Message: "end not after start"})
			}
			parsed = append(parsed, parsedBlock{start: start, end: end, taskID: taskID})
		}
	}

	sort.Slice(parsed, func(i, j int) bool { return parsed[i].start.Before(parsed[j].start) })
	for i := 1; i < len(parsed); i++ {
		if parsed[i].start.Before(parsed[i-1].end) {
			out = append(out, Finding{
				Check:    "block",
				Severity: SeverityError,
				Path:     "blocks",
				Message:  fmt.Sprintf("blocks of %s and %s overlap", parsed[i-1].taskID, parsed[i].taskID),
			})
		}
	}
	return out
}

// blockDuration reads the duration from the block itself or from its
// metadata, where the pipeline's wire form carries it.
func blockDuration(block map[string]any) (float64, bool) {
	if dur, ok := numeric(block["durationMinutes"]); ok {
		return dur, true
	}
	if meta, ok := block["metadata"].(map[string]any); ok {
		return numeric(meta["duration_minutes"])
	}
	return 0, false
}

var tzSuffix = regexp.MustCompile(`(Z|[+-]\d{2}:\d{2})$`)

// checkDatetime validates one ISO-8601 field and its timezone suffix.
func checkDatetime(raw any, path string) (time.Time, []Finding) {
	s, ok := raw.(string)
	if !ok || s == "" {
		return time.Time{}, []Finding{{Check: "block", Severity: SeverityError, Path: path, Message: "missing datetime"}}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, []Finding{{Check: "block", Severity: SeverityError, Path: path, Message: "not an ISO-8601 datetime"}}
	}
	if !tzSuffix.MatchString(s) {
		return t, []Finding{{Check: "frontend", Severity: SeverityWarning, Path: path, Message: "datetime lacks a timezone suffix"}}
	}
	return t, nil
}

func checkMetrics(resp map[string]any) []Finding {
	metrics, ok := resp["metrics"].(map[string]any)
	if !ok {
		return nil
	}
	var out []Finding
	for _, field := range []string{"totalBlocks", "totalScheduledMinutes", "solveTimeMs"} {
		n, ok := numeric(metrics[field])
		if !ok {
			out = append(out, Finding{Check: "metrics", Severity: SeverityWarning, Path: "metrics." + field, Message: "missing or non-numeric"})
			continue
		}
		if n < 0 {
			out = append(out, Finding{Check: "metrics", Severity: SeverityWarning, Path: "metrics." + field, Message: "negative value"})
		}
	}
	if _, ok := metrics["feasible"].(bool); !ok {
		out = append(out, Finding{Check: "metrics", Severity: SeverityWarning, Path: "metrics.feasible", Message: "missing or non-boolean"})
	}
	return out
}

func checkExplanations(resp map[string]any) []Finding {
	raw, present := resp["explanations"]
	if !present {
		return []Finding{{Check: "explanations", Severity: SeverityError, Path: "explanations", Message: "missing explanations"}}
	}
	items, ok := raw.([]any)
	if !ok {
		return []Finding{{Check: "explanations", Severity: SeverityError, Path: "explanations", Message: "explanations is not an array"}}
	}
	var out []Finding
	for i, item := range items {
		path := fmt.Sprintf("explanations[%d]", i)
		s, ok := item.(string)
		if !ok {
			out = append(out, Finding{Check: "explanations", Severity: SeverityWarning, Path: path, Message: "not a string"})
			continue
		}
		if len(s) < 10 || len(s) > 500 {
			out = append(out, Finding{Check: "explanations", Severity: SeverityWarning, Path: path, Message: fmt.Sprintf("length %d outside [10, 500]", len(s))})
		}
		lower := strings.ToLower(s)
		terms := 0
		for _, term := range technicalTerms {
			if strings.Contains(lower, term) {
				terms++
			}
		}
		if terms > 2 {
			out = append(out, Finding{Check: "explanations", Severity: SeverityWarning, Path: path, Message: "too much technical jargon"})
		}
	}
	return out
}

// correct fills safe defaults for correctable findings. Blocks and datetimes
// are never synthesized.
func correct(resp map[string]any, findings []Finding) (map[string]any, []string) {
	fixed := make(map[string]any, len(resp))
	for k, val := range resp {
		fixed[k] = val
	}
	var corrections []string
	for _, f := range findings {
		switch f.Path {
		case "explanations":
			fixed["explanations"] = []any{}
			corrections = append(corrections, f.Path)
		case "metrics":
			fixed["metrics"] = map[string]any{}
			corrections = append(corrections, f.Path)
		case "feasible":
			fixed["feasible"] = coerceBool(resp["feasible"])
			corrections = append(corrections, f.Path)
		case "jobId":
			fixed["jobId"] = ""
			corrections = append(corrections, f.Path)
		}
	}
	if len(corrections) == 0 {
		return nil, nil
	}
	return fixed, corrections
}

func coerceBool(raw any) bool {
	switch v := raw.(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true")
	case float64:
		return v != 0
	case int:
		return v != 0
	default:
		return false
	}
}

func numeric(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
