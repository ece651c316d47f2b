package wfm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nugget/wfm-assistant/internal/mcp"
)

// Errors returned by Catalog helpers. Tool failures are returned as
// *mcp.Failure so callers can distinguish not-ready from remote errors.
var (
	ErrUnknownCollection = errors.New("collection not found in WFM database")
	ErrUnknownQuery      = errors.New("quick query not found")
	ErrInvalidDate       = errors.New("invalid date")
)

// ToolCaller is the subset of the tool channel the catalog needs.
type ToolCaller interface {
	Invoke(ctx context.Context, name string, args map[string]any) mcp.ToolCallResult
	Capabilities() []mcp.Capability
}

// CollectionInfo is a collection's static description plus what was
// learned from the server at startup.
type CollectionInfo struct {
	Collection
	DocumentCount   int  `json:"document_count"`
	SchemaAvailable bool `json:"schema_available"`
}

// KindSummary groups the collections of one kind.
type KindSummary struct {
	Count       int              `json:"count"`
	Collections []CollectionInfo `json:"collections"`
}

// CollectionsSummary describes the whole database.
type CollectionsSummary struct {
	TotalCollections  int         `json:"total_collections"`
	MasterData        KindSummary `json:"master_data"`
	TransactionalData KindSummary `json:"transactional_data"`
	TotalDocuments    int         `json:"total_documents"`
}

// QueryResult is the outcome of a helper query. Result holds one string
// per content item the tool returned.
type QueryResult struct {
	QueryType string         `json:"query_type"`
	Tool      string         `json:"tool_used,omitempty"`
	Filters   map[string]any `json:"filters,omitempty"`
	Period    string         `json:"period,omitempty"`
	Result    []string       `json:"result"`
	Count     int            `json:"count"`
}

// WorkforceReport combines the collection summary with three standing
// aggregations. A failed aggregation leaves its section empty.
type WorkforceReport struct {
	GeneratedAt         time.Time          `json:"generated_at"`
	Database            string             `json:"database"`
	CollectionsAnalyzed int                `json:"collections_analyzed"`
	Collections         CollectionsSummary `json:"collections"`
	EmployeeTypes       []string           `json:"employee_types"`
	TopCounties         []string           `json:"top_counties"`
	ActivityStats       []string           `json:"activity_stats"`
}

// Stats is the server's view of databases and collections.
type Stats struct {
	Databases   []string `json:"databases"`
	Collections []string `json:"collections"`
	MCPTools    int      `json:"mcp_tools"`
}

type collectionMeta struct {
	schema        string
	schemaLoaded  bool
	documentCount int
}

// Catalog runs WFM queries through the tool channel and caches
// per-collection metadata.
type Catalog struct {
	tools    ToolCaller
	database string
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.RWMutex
	meta     map[string]*collectionMeta
	loadedAt time.Time
}

// NewCatalog creates a Catalog for database (DefaultDatabase when empty).
func NewCatalog(tools ToolCaller, database string, logger *slog.Logger) *Catalog {
	if database == "" {
		database = DefaultDatabase
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		tools:    tools,
		database: database,
		logger:   logger.With("component", "wfm"),
		now:      time.Now,
		meta:     make(map[string]*collectionMeta),
	}
}

// Database returns the target database name.
func (c *Catalog) Database() string { return c.database }

// LoadMetadata fetches the schema and document count of every known
// collection. Individual failures are logged and skipped; only context
// cancellation is returned as an error.
func (c *Catalog) LoadMetadata(ctx context.Context) error {
	loaded := 0
	for _, coll := range collections {
		if err := ctx.Err(); err != nil {
			return err
		}
		args := map[string]any{"database": c.database, "collection": coll.Name}
		meta := &collectionMeta{}

		if res := c.tools.Invoke(ctx, "collection-schema", args); res.OK() {
			meta.schema = res.Text()
			meta.schemaLoaded = true
			loaded++
		} else {
			c.logger.Warn("failed to load collection schema", "collection", coll.Name, "error", res.Failure.Message)
		}

		if res := c.tools.Invoke(ctx, "count", args); res.OK() {
			meta.documentCount = parseCount(firstText(res.Payload))
		} else {
			c.logger.Warn("failed to count collection", "collection", coll.Name, "error", res.Failure.Message)
		}

		c.mu.Lock()
		c.meta[coll.Name] = meta
		c.mu.Unlock()
		c.logger.Debug("collection metadata loaded", "collection", coll.Name, "documents", meta.documentCount)
	}

	c.mu.Lock()
	c.loadedAt = c.now()
	c.mu.Unlock()
	c.logger.Info("collection metadata loaded", "collections", len(collections), "schemas", loaded)
	return nil
}

// Ready reports whether metadata has been loaded for at least one
// collection.
func (c *Catalog) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, m := range c.meta {
		if m.schemaLoaded {
			return true
		}
	}
	return false
}

// Info describes one collection.
func (c *Catalog) Info(name string) (CollectionInfo, error) {
	coll, ok := LookupCollection(name)
	if !ok {
		return CollectionInfo{}, fmt.Errorf("%w: %s", ErrUnknownCollection, name)
	}
	info := CollectionInfo{Collection: coll}
	c.mu.RLock()
	if m, ok := c.meta[name]; ok {
		info.DocumentCount = m.documentCount
		info.SchemaAvailable = m.schemaLoaded
	}
	c.mu.RUnlock()
	return info, nil
}

// Schema returns the cached schema text for a collection, if loaded.
func (c *Catalog) Schema(name string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.meta[name]
	if !ok || !m.schemaLoaded {
		return "", false
	}
	return m.schema, true
}

// Summary describes every collection, grouped by kind.
func (c *Catalog) Summary() CollectionsSummary {
	sum := CollectionsSummary{TotalCollections: len(collections)}
	for _, coll := range collections {
		info, _ := c.Info(coll.Name)
		sum.TotalDocuments += info.DocumentCount
		switch coll.Kind {
		case KindMaster:
			sum.MasterData.Collections = append(sum.MasterData.Collections, info)
		case KindTransactional:
			sum.TransactionalData.Collections = append(sum.TransactionalData.Collections, info)
		}
	}
	sum.MasterData.Count = len(sum.MasterData.Collections)
	sum.TransactionalData.Count = len(sum.TransactionalData.Collections)
	return sum
}

// FindEmployees searches the employees collection.
func (c *Catalog) FindEmployees(ctx context.Context, f EmployeeFilter, limit int) (QueryResult, error) {
	if limit <= 0 {
		limit = 10
	}
	res := c.tools.Invoke(ctx, "find", map[string]any{
		"database":   c.database,
		"collection": CollEmployees,
		"query":      EmployeeSearch(f),
		"limit":      limit,
	})
	return c.finish(res, QueryResult{
		QueryType: "employee_search",
		Filters:   map[string]any{"badge_id": f.BadgeID, "name": f.Name, "employment_type": f.EmploymentType},
	})
}

// AnalyzePayroll aggregates payroll over the last daysBack days,
// optionally for one county.
func (c *Catalog) AnalyzePayroll(ctx context.Context, county string, daysBack int) (QueryResult, error) {
	if daysBack <= 0 {
		daysBack = 30
	}
	start, end := DateRange(c.now(), daysBack)
	res := c.tools.Invoke(ctx, "aggregate", map[string]any{
		"database":   c.database,
		"collection": CollPayroll,
		"pipeline":   PayrollAnalysis(county, start, end),
	})
	return c.finish(res, QueryResult{
		QueryType: "payroll_analysis",
		Filters:   map[string]any{"county": county, "days_back": daysBack},
		Period:    fmt.Sprintf("Last %d days", daysBack),
	})
}

// DailyActivities lists activity records, newest first. date may be a
// calendar date (2006-01-02) or an RFC 3339 timestamp; it selects the
// 24 hours starting at that instant.
func (c *Catalog) DailyActivities(ctx context.Context, date, employeeBadge string, limit int) (QueryResult, error) {
	if limit <= 0 {
		limit = 20
	}
	query := map[string]any{}
	if date != "" {
		day, err := parseDate(date)
		if err != nil {
			return QueryResult{}, err
		}
		query["date"] = map[string]any{
			"$gte": day.Format(isoFormat),
			"$lt":  day.AddDate(0, 0, 1).Format(isoFormat),
		}
	}
	if employeeBadge != "" {
		query["employee.badgeId"] = employeeBadge
	}

	res := c.tools.Invoke(ctx, "find", map[string]any{
		"database":   c.database,
		"collection": CollDailyActivities,
		"query":      query,
		"limit":      limit,
		"sort":       map[string]any{"date": -1},
	})
	return c.finish(res, QueryResult{
		QueryType: "daily_activities",
		Filters:   map[string]any{"date": date, "employee_badge": employeeBadge},
	})
}

// UpcomingHolidays lists holidays from now through daysAhead days out.
// HOL_DATE is a BSON date, so the bounds use Extended JSON.
func (c *Catalog) UpcomingHolidays(ctx context.Context, daysAhead int) (QueryResult, error) {
	if daysAhead <= 0 {
		daysAhead = 60
	}
	now := c.now().UTC()
	res := c.tools.Invoke(ctx, "find", map[string]any{
		"database":   c.database,
		"collection": CollHolidays,
		"query": map[string]any{"HOL_DATE": map[string]any{
			"$gte": map[string]any{"$date": now.Format(time.RFC3339)},
			"$lte": map[string]any{"$date": now.AddDate(0, 0, daysAhead).Format(time.RFC3339)},
		}},
		"sort":  map[string]any{"HOL_DATE": 1},
		"limit": 20,
	})
	return c.finish(res, QueryResult{
		QueryType: "upcoming_holidays",
		Period:    fmt.Sprintf("Next %d days", daysAhead),
	})
}

// QuickQuery runs a named preset.
func (c *Catalog) QuickQuery(ctx context.Context, name string) (QueryResult, error) {
	req, ok := QuickQuery(name, c.database, c.now())
	if !ok {
		return QueryResult{}, fmt.Errorf("%w: %q", ErrUnknownQuery, name)
	}
	res := c.tools.Invoke(ctx, req.Tool, req.Args)
	return c.finish(res, QueryResult{QueryType: "quick_query", Tool: req.Tool, Filters: map[string]any{"name": name}})
}

// WorkforceReport builds the standing cross-collection report.
func (c *Catalog) WorkforceReport(ctx context.Context) (WorkforceReport, error) {
	report := WorkforceReport{
		GeneratedAt:         c.now(),
		Database:            c.database,
		CollectionsAnalyzed: len(collections),
		Collections:         c.Summary(),
	}

	sections := []struct {
		collection string
		pipeline   string
		dst        *[]string
	}{
		{CollEmployees, PipelineEmployeeCountByType, &report.EmployeeTypes},
		{CollPayroll, PipelineTopCountiesByHours, &report.TopCounties},
		{CollDailyActivities, PipelineActivityCompletionRate, &report.ActivityStats},
	}
	for _, s := range sections {
		if err := ctx.Err(); err != nil {
			return WorkforceReport{}, err
		}
		*s.dst = []string{}
		res := c.tools.Invoke(ctx, "aggregate", map[string]any{
			"database":   c.database,
			"collection": s.collection,
			"pipeline":   mustPipeline(s.pipeline),
		})
		if !res.OK() {
			c.logger.Warn("report section failed", "pipeline", s.pipeline, "error", res.Failure.Message)
			continue
		}
		*s.dst = texts(res.Payload)
	}
	return report, nil
}

// Stats lists the server's databases and this database's collections.
// A failed listing is reported as empty.
func (c *Catalog) Stats(ctx context.Context) Stats {
	st := Stats{Databases: []string{}, Collections: []string{}, MCPTools: len(c.tools.Capabilities())}
	if res := c.tools.Invoke(ctx, "list-databases", map[string]any{}); res.OK() {
		st.Databases = texts(res.Payload)
	}
	if res := c.tools.Invoke(ctx, "list-collections", map[string]any{"database": c.database}); res.OK() {
		st.Collections = texts(res.Payload)
	}
	return st
}

// finish fills in a QueryResult from a tool result, or returns the
// failure as an error.
func (c *Catalog) finish(res mcp.ToolCallResult, qr QueryResult) (QueryResult, error) {
	if !res.OK() {
		c.logger.Warn("query failed", "query_type", qr.QueryType, "tool", res.ToolName, "error", res.Failure.Message)
		return QueryResult{}, res.Failure
	}
	if qr.Tool == "" {
		qr.Tool = res.ToolName
	}
	qr.Result = texts(res.Payload)
	qr.Count = documentCount(res.Payload)
	return qr, nil
}

func texts(items []mcp.ToolContent) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.String()
	}
	return out
}

func firstText(items []mcp.ToolContent) string {
	if len(items) == 0 {
		return ""
	}
	return items[0].String()
}

var (
	foundPattern  = regexp.MustCompile(`Found (\d+) documents`)
	numberPattern = regexp.MustCompile(`\d+`)
)

// documentCount reads the server's "Found N documents" header when
// present and otherwise counts content items.
func documentCount(items []mcp.ToolContent) int {
	if m := foundPattern.FindStringSubmatch(firstText(items)); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return n
		}
	}
	return len(items)
}

// parseCount extracts a count from a count tool response, which is
// either JSON with a count field or prose containing the number.
func parseCount(text string) int {
	var body struct {
		Count *int `json:"count"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &body); err == nil && body.Count != nil {
		return *body.Count
	}
	if m := numberPattern.FindString(text); m != "" {
		if n, err := strconv.Atoi(m); err == nil {
			return n
		}
	}
	return 0
}

// parseDate accepts RFC 3339 with any offset, or a zoneless ISO
// timestamp or calendar date. Offsets keep their wall clock, which is
// how activity dates are stored.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	s = strings.TrimSuffix(s, "Z")
	for _, layout := range []string{isoFormat, "2006-01-02T15:04:05.999999999", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
}
