package wfm

import (
	"regexp"
	"time"
)

// isoFormat matches the timestamps stored in payroll and activity
// documents (local time, no zone).
const isoFormat = "2006-01-02T15:04:05"

// EmployeeFilter narrows an employee search. Empty fields are ignored.
type EmployeeFilter struct {
	BadgeID        string `json:"badge_id,omitempty"`
	Name           string `json:"name,omitempty"`
	EmploymentType string `json:"employment_type,omitempty"`
}

// EmployeeSearch builds a find filter for the employees collection. The
// name matches either first or last name, case-insensitively, as a
// literal substring.
func EmployeeSearch(f EmployeeFilter) map[string]any {
	query := map[string]any{}
	if f.BadgeID != "" {
		query["badgeId"] = f.BadgeID
	}
	if f.Name != "" {
		pattern := regexp.QuoteMeta(f.Name)
		query["$or"] = []any{
			map[string]any{"firstName": map[string]any{"$regex": pattern, "$options": "i"}},
			map[string]any{"lastName": map[string]any{"$regex": pattern, "$options": "i"}},
		}
	}
	if f.EmploymentType != "" {
		query["type"] = f.EmploymentType
	}
	return query
}

// PayrollAnalysis builds a per-county aggregation over payroll records.
// The $match stage is present only when a county or a complete date
// range is given.
func PayrollAnalysis(county, dateStart, dateEnd string) []any {
	var pipeline []any

	match := map[string]any{}
	if county != "" {
		match["county"] = county
	}
	if dateStart != "" && dateEnd != "" {
		match["date"] = map[string]any{"$gte": dateStart, "$lte": dateEnd}
	}
	if len(match) > 0 {
		pipeline = append(pipeline, map[string]any{"$match": match})
	}

	return append(pipeline,
		map[string]any{"$group": map[string]any{
			"_id":            "$county",
			"total_hours":    map[string]any{"$sum": "$hours"},
			"employee_count": map[string]any{"$addToSet": "$badgeId"},
			"avg_hours":      map[string]any{"$avg": "$hours"},
			"max_hours":      map[string]any{"$max": "$hours"},
		}},
		map[string]any{"$addFields": map[string]any{"employee_count": map[string]any{"$size": "$employee_count"}}},
		map[string]any{"$sort": map[string]any{"total_hours": -1}},
	)
}

// DateRange returns the start and end of the window ending at now and
// reaching daysBack days into the past.
func DateRange(now time.Time, daysBack int) (start, end string) {
	return now.AddDate(0, 0, -daysBack).Format(isoFormat), now.Format(isoFormat)
}

// Named aggregation pipelines.
const (
	PipelineEmployeeCountByType    = "employee_count_by_type"
	PipelineTopCountiesByHours     = "top_counties_by_hours"
	PipelineActivityCompletionRate = "activity_completion_rate"
)

// Pipeline returns a fresh copy of a named aggregation pipeline.
func Pipeline(name string) ([]any, bool) {
	switch name {
	case PipelineEmployeeCountByType:
		return []any{
			map[string]any{"$unwind": "$type"},
			map[string]any{"$group": map[string]any{"_id": "$type", "count": map[string]any{"$sum": 1}}},
			map[string]any{"$sort": map[string]any{"count": -1}},
		}, true
	case PipelineTopCountiesByHours:
		return []any{
			map[string]any{"$group": map[string]any{
				"_id":            "$county",
				"total_hours":    map[string]any{"$sum": "$hours"},
				"employee_count": map[string]any{"$addToSet": "$badgeId"},
			}},
			map[string]any{"$addFields": map[string]any{"employee_count": map[string]any{"$size": "$employee_count"}}},
			map[string]any{"$sort": map[string]any{"total_hours": -1}},
			map[string]any{"$limit": 10},
		}, true
	case PipelineActivityCompletionRate:
		return []any{
			map[string]any{"$group": map[string]any{"_id": "$status", "count": map[string]any{"$sum": 1}}},
			map[string]any{"$sort": map[string]any{"count": -1}},
		}, true
	}
	return nil, false
}

func mustPipeline(name string) []any {
	p, ok := Pipeline(name)
	if !ok {
		panic("wfm: unknown pipeline " + name)
	}
	return p
}

// ToolRequest is a ready-to-run tool invocation.
type ToolRequest struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

// quickQueryNames fixes the presentation order of the presets.
var quickQueryNames = []string{
	"Show all collections",
	"Employee count by type",
	"Top 5 counties by hours",
	"Recent payroll entries",
	"Upcoming holidays",
}

// QuickQueryNames lists the preset queries in display order.
func QuickQueryNames() []string {
	return append([]string(nil), quickQueryNames...)
}

// QuickQuery returns the tool request for a preset. Date-relative
// presets are evaluated against now.
func QuickQuery(name, database string, now time.Time) (ToolRequest, bool) {
	switch name {
	case "Show all collections":
		return ToolRequest{Tool: "list-collections", Args: map[string]any{"database": database}}, true
	case "Employee count by type":
		return ToolRequest{Tool: "aggregate", Args: map[string]any{
			"database":   database,
			"collection": CollEmployees,
			"pipeline":   mustPipeline(PipelineEmployeeCountByType),
		}}, true
	case "Top 5 counties by hours":
		return ToolRequest{Tool: "aggregate", Args: map[string]any{
			"database":   database,
			"collection": CollPayroll,
			"pipeline": []any{
				map[string]any{"$group": map[string]any{"_id": "$county", "total_hours": map[string]any{"$sum": "$hours"}}},
				map[string]any{"$sort": map[string]any{"total_hours": -1}},
				map[string]any{"$limit": 5},
			},
		}}, true
	case "Recent payroll entries":
		return ToolRequest{Tool: "find", Args: map[string]any{
			"database":   database,
			"collection": CollPayroll,
			"query":      map[string]any{},
			"limit":      10,
			"sort":       map[string]any{"date": -1},
		}}, true
	case "Upcoming holidays":
		return ToolRequest{Tool: "find", Args: map[string]any{
			"database":   database,
			"collection": CollHolidays,
			"query": map[string]any{"HOL_DATE": map[string]any{
				"$gte": map[string]any{"$date": now.UTC().Format(time.RFC3339)},
			}},
			"limit": 10,
			"sort":  map[string]any{"HOL_DATE": 1},
		}}, true
	}
	return ToolRequest{}, false
}
