package wfm

import "strings"

// maxSuggestions caps the suggestion list.
const maxSuggestions = 5

// Suggestion is a query the user might want to ask next.
type Suggestion struct {
	Category    string `json:"category"`
	Query       string `json:"query"`
	Description string `json:"description"`
}

type suggestionRule struct {
	keywords    []string
	suggestions []Suggestion
}

var suggestionRules = []suggestionRule{
	{
		keywords: []string{"employee", "staff", "worker", "badge"},
		suggestions: []Suggestion{
			{Category: "Employee Management", Query: "Find employee by badge ID", Description: "Find employee by badge ID"},
			{Category: "Employee Management", Query: "Show employee count by type", Description: "Count employees by employment type"},
		},
	},
	{
		keywords: []string{"payroll", "hours", "overtime", "county", "pay"},
		suggestions: []Suggestion{
			{Category: "Payroll Analysis", Query: "Top counties by hours", Description: "Top counties by total hours worked"},
			{Category: "Payroll Analysis", Query: "Find overtime employees", Description: "Find employees with overtime (>40 hours)"},
		},
	},
	{
		keywords: []string{"activity", "activities", "daily", "task"},
		suggestions: []Suggestion{
			{Category: "Activity Tracking", Query: "Daily activities", Description: "Daily activities for a specific date"},
			{Category: "Activity Tracking", Query: "Activity completion rates", Description: "Activity completion rates"},
		},
	},
	{
		keywords: []string{"holiday", "holidays", "vacation", "time off"},
		suggestions: []Suggestion{
			{Category: "Holiday Management", Query: "Upcoming holidays", Description: "Upcoming holidays in date range"},
			{Category: "Holiday Management", Query: "Holidays by month", Description: "Holidays by month and year"},
		},
	},
}

var (
	overviewSuggestion = Suggestion{
		Category:    "Database Overview",
		Query:       "Show all collections",
		Description: "List all 9 WFM collections with statistics",
	}
	reportSuggestion = Suggestion{
		Category:    "Reporting",
		Query:       "Generate workforce report",
		Description: "Comprehensive workforce analytics report",
	}
)

// Suggestions returns up to five follow-up queries relevant to input.
// Matching is by case-insensitive keyword.
func Suggestions(input string) []Suggestion {
	lower := strings.ToLower(input)
	out := []Suggestion{}

	if containsAny(lower, "collection", "database") {
		out = append(out, overviewSuggestion)
	}
	for _, rule := range suggestionRules {
		if containsAny(lower, rule.keywords...) {
			out = append(out, rule.suggestions...)
		}
	}
	if containsAny(lower, "report", "summary") {
		out = append(out, reportSuggestion)
	}

	if len(out) > maxSuggestions {
		out = out[:maxSuggestions]
	}
	return out
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
