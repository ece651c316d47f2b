package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/nugget/wfm-assistant/internal/wfm"
)

func (s *Server) handleCollections(w http.ResponseWriter, r *http.Request) {
	s.ok(w, map[string]any{
		"success":   true,
		"summary":   s.catalog.Summary(),
		"timestamp": timestamp(),
	})
}

func (s *Server) handleCollectionInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.catalog.Info(r.PathValue("name"))
	if err != nil {
		s.queryError(w, err)
		return
	}
	body := map[string]any{
		"success":    true,
		"collection": info,
		"timestamp":  timestamp(),
	}
	if schema, ok := s.catalog.Schema(info.Name); ok {
		body["schema"] = schema
	}
	s.ok(w, body)
}

type employeeSearchRequest struct {
	Name           string `json:"name"`
	BadgeID        string `json:"badge_id"`
	EmploymentType string `json:"employment_type"`
	Limit          int    `json:"limit"`
}

func (s *Server) handleEmployeeSearch(w http.ResponseWriter, r *http.Request) {
	req := employeeSearchRequest{Limit: 20}
	if err := decodeBody(r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := s.catalog.FindEmployees(r.Context(), wfm.EmployeeFilter{
		BadgeID:        req.BadgeID,
		Name:           req.Name,
		EmploymentType: req.EmploymentType,
	}, req.Limit)
	if err != nil {
		s.queryError(w, err)
		return
	}
	s.ok(w, map[string]any{
		"success":   true,
		"employees": res,
		"count":     res.Count,
		"timestamp": timestamp(),
	})
}

type payrollRequest struct {
	County   string `json:"county"`
	DaysBack int    `json:"days_back"`
}

func (s *Server) handlePayrollAnalyze(w http.ResponseWriter, r *http.Request) {
	req := payrollRequest{DaysBack: 30}
	if err := decodeBody(r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := s.catalog.AnalyzePayroll(r.Context(), req.County, req.DaysBack)
	if err != nil {
		s.queryError(w, err)
		return
	}
	s.ok(w, map[string]any{
		"success":   true,
		"analysis":  res,
		"period":    res.Period,
		"timestamp": timestamp(),
	})
}

type holidaysRequest struct {
	DaysAhead int `json:"days_ahead"`
}

func (s *Server) handleHolidays(w http.ResponseWriter, r *http.Request) {
	req := holidaysRequest{DaysAhead: 90}
	if err := decodeBody(r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := s.catalog.UpcomingHolidays(r.Context(), req.DaysAhead)
	if err != nil {
		s.queryError(w, err)
		return
	}
	s.ok(w, map[string]any{
		"success":   true,
		"holidays":  res,
		"count":     res.Count,
		"timestamp": timestamp(),
	})
}

type dailyActivitiesRequest struct {
	Date          string `json:"date"`
	EmployeeBadge string `json:"employee_badge"`
	Limit         int    `json:"limit"`
}

func (s *Server) handleDailyActivities(w http.ResponseWriter, r *http.Request) {
	req := dailyActivitiesRequest{Limit: 20}
	if err := decodeBody(r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := s.catalog.DailyActivities(r.Context(), req.Date, req.EmployeeBadge, req.Limit)
	if err != nil {
		s.queryError(w, err)
		return
	}
	s.ok(w, map[string]any{
		"success":    true,
		"activities": res,
		"count":      res.Count,
		"timestamp":  timestamp(),
	})
}

func (s *Server) handleWorkforceReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.catalog.WorkforceReport(r.Context())
	if err != nil {
		s.queryError(w, err)
		return
	}
	s.ok(w, map[string]any{
		"success":   true,
		"report":    report,
		"timestamp": timestamp(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.catalog.Stats(r.Context())
	s.ok(w, map[string]any{
		"success":     true,
		"databases":   stats.Databases,
		"collections": stats.Collections,
		"mcp_tools":   stats.MCPTools,
		"timestamp":   timestamp(),
	})
}

func (s *Server) handleQueryList(w http.ResponseWriter, r *http.Request) {
	s.ok(w, map[string]any{"queries": wfm.QuickQueryNames()})
}

func (s *Server) handleQueryRun(w http.ResponseWriter, r *http.Request) {
	res, err := s.catalog.QuickQuery(r.Context(), r.PathValue("name"))
	if err != nil {
		s.queryError(w, err)
		return
	}
	s.ok(w, map[string]any{
		"success":   true,
		"result":    res,
		"timestamp": timestamp(),
	})
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	s.ok(w, map[string]any{
		"query":       q,
		"suggestions": wfm.Suggestions(q),
	})
}

// handleUsage reports token usage over the last ?hours= hours (24 by
// default).
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.usage == nil {
		s.errorResponse(w, http.StatusNotFound, "usage tracking is not enabled")
		return
	}
	hours := 24
	if v := r.URL.Query().Get("hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.errorResponse(w, http.StatusBadRequest, "hours must be a positive integer")
			return
		}
		hours = n
	}
	since := time.Now().Add(-time.Duration(hours) * time.Hour)

	summary, err := s.usage.Summary(r.Context(), since)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	byModel, err := s.usage.SummaryByModel(r.Context(), since)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.ok(w, map[string]any{
		"since":    since.Format(time.RFC3339),
		"summary":  summary,
		"by_model": byModel,
	})
}
