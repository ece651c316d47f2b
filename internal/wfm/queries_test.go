package wfm

import (
	"strings"
	"testing"
	"time"
)

func TestEmployeeSearch(t *testing.T) {
	q := EmployeeSearch(EmployeeFilter{BadgeID: "123", Name: "O'Brien (Jr.)", EmploymentType: "FT"})
	if q["badgeId"] != "123" || q["type"] != "FT" {
		t.Errorf("query = %v", q)
	}
	or := q["$or"].([]any)
	if len(or) != 2 {
		t.Fatalf("$or = %v", or)
	}
	first := or[0].(map[string]any)["firstName"].(map[string]any)
	if first["$regex"] != `O'Brien \(Jr\.\)` {
		t.Errorf("$regex = %q, want metacharacters escaped", first["$regex"])
	}
	if first["$options"] != "i" {
		t.Errorf("$options = %v, want i", first["$options"])
	}

	if len(EmployeeSearch(EmployeeFilter{})) != 0 {
		t.Error("empty filter should produce an empty query")
	}
}

func stageNames(pipeline []any) []string {
	var names []string
	for _, stage := range pipeline {
		for k := range stage.(map[string]any) {
			names = append(names, k)
		}
	}
	return names
}

func TestPayrollAnalysis(t *testing.T) {
	tests := []struct {
		name            string
		county          string
		start, end      string
		wantStages      string
		wantMatchFields int
	}{
		{"no filters", "", "", "", "$group $addFields $sort", 0},
		{"county only", "Travis", "", "", "$match $group $addFields $sort", 1},
		{"half range ignored", "", "2026-01-01", "", "$group $addFields $sort", 0},
		{"county and range", "Travis", "2026-01-01", "2026-02-01", "$match $group $addFields $sort", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := PayrollAnalysis(tt.county, tt.start, tt.end)
			if got := strings.Join(stageNames(p), " "); got != tt.wantStages {
				t.Errorf("stages = %q, want %q", got, tt.wantStages)
			}
			if tt.wantMatchFields > 0 {
				match := p[0].(map[string]any)["$match"].(map[string]any)
				if len(match) != tt.wantMatchFields {
					t.Errorf("$match = %v", match)
				}
			}
		})
	}
}

func TestDateRange(t *testing.T) {
	now := time.Date(2026, 3, 31, 8, 0, 0, 0, time.UTC)
	start, end := DateRange(now, 30)
	if start != "2026-03-01T08:00:00" || end != "2026-03-31T08:00:00" {
		t.Errorf("DateRange = %s .. %s", start, end)
	}
}

func TestPipelines(t *testing.T) {
	for _, name := range []string{PipelineEmployeeCountByType, PipelineTopCountiesByHours, PipelineActivityCompletionRate} {
		p, ok := Pipeline(name)
		if !ok || len(p) == 0 {
			t.Errorf("Pipeline(%q) missing", name)
		}
	}
	if _, ok := Pipeline("drop_all"); ok {
		t.Error("unknown pipeline should not resolve")
	}

	a, _ := Pipeline(PipelineTopCountiesByHours)
	a[0] = nil
	b, _ := Pipeline(PipelineTopCountiesByHours)
	if b[0] == nil {
		t.Error("Pipeline must return a fresh copy")
	}
}

func TestQuickQueries(t *testing.T) {
	names := QuickQueryNames()
	if len(names) != 5 {
		t.Fatalf("got %d quick queries, want 5", len(names))
	}
	now := time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)
	for _, name := range names {
		req, ok := QuickQuery(name, "wfm_test", now)
		if !ok {
			t.Errorf("QuickQuery(%q) not found", name)
			continue
		}
		if req.Args["database"] != "wfm_test" {
			t.Errorf("%s: database = %v", name, req.Args["database"])
		}
	}

	req, _ := QuickQuery("Upcoming holidays", DefaultDatabase, now)
	gte := req.Args["query"].(map[string]any)["HOL_DATE"].(map[string]any)["$gte"]
	bound, ok := gte.(map[string]any)
	if !ok || bound["$date"] != "2026-12-01T00:00:00Z" {
		t.Errorf("holiday bound = %v, want an Extended JSON $date", gte)
	}
}

func TestSuggestions(t *testing.T) {
	tests := []struct {
		input     string
		wantLen   int
		wantFirst string
	}{
		{"hello", 0, ""},
		{"Which EMPLOYEE has a badge?", 2, "Employee Management"},
		{"database collections", 1, "Database Overview"},
		{"summary report", 1, "Reporting"},
		{"employee payroll hours and daily activity for the holiday database report", 5, "Database Overview"},
		{"staff time off", 4, "Employee Management"},
	}
	for _, tt := range tests {
		got := Suggestions(tt.input)
		if len(got) != tt.wantLen {
			t.Errorf("Suggestions(%q) = %d items, want %d", tt.input, len(got), tt.wantLen)
			continue
		}
		if tt.wantLen > 0 && got[0].Category != tt.wantFirst {
			t.Errorf("Suggestions(%q)[0] = %q, want %q", tt.input, got[0].Category, tt.wantFirst)
		}
	}
	if Suggestions("") == nil {
		t.Error("Suggestions should return an empty slice, not nil")
	}
}

func TestSystemPrompt(t *testing.T) {
	now := time.Date(2026, 7, 26, 0, 0, 0, 0, time.UTC)
	p := SystemPrompt(now, []string{"find", "aggregate"})

	for _, want := range []string{
		"MongoDB database called 'wfm_database'",
		"MASTER DATA (6 collections):",
		"TRANSACTIONAL DATA (3 collections):",
		"• ITMS_HOLIDAYS_LIST:",
		"Available MongoDB tools: find, aggregate",
		"10. Suggest follow-up questions",
		`{"$date": "2025-07-26T00:00:00Z"}`,
		"Current time: 2026-07-26T00:00:00Z",
	} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q", want)
		}
	}

	custom := Prompt{Database: "wfm_staging"}.SystemPrompt(now, nil)
	if strings.Contains(custom, "Available MongoDB tools") {
		t.Error("no tools should omit the tools line")
	}
	if !strings.Contains(custom, "Database: wfm_staging") {
		t.Error("custom database name not rendered")
	}
}

func TestCollections(t *testing.T) {
	if len(Collections()) != 9 {
		t.Errorf("got %d collections, want 9", len(Collections()))
	}
	if len(CollectionsOfKind(KindMaster)) != 6 || len(CollectionsOfKind(KindTransactional)) != 3 {
		t.Error("expected 6 master and 3 transactional collections")
	}
	if c, ok := LookupCollection(CollHolidays); !ok || c.KeyFields[2] != "HOL_DATE" {
		t.Errorf("LookupCollection(holidays) = %+v, %v", c, ok)
	}
}
