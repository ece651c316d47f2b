package wfm

import (
	"fmt"
	"strings"
	"time"
)

// systemTemplate describes the database to the model. The verbs are, in
// order: database name, collection listing, tools line, database name,
// current time, database name.
const systemTemplate = `You are a Workforce Management Database Assistant with expertise in HR analytics and workforce data. You have access to a MongoDB database called '%s' containing 9 collections of workforce data.

DATABASE STRUCTURE:
%s
%s
EXPERTISE AREAS:
- Workforce analytics and reporting
- Payroll analysis and time tracking
- Employee management and HR insights
- Activity scheduling and productivity analysis
- Holiday planning and workforce coverage
- Role-based access and permissions

QUERY GUIDELINES:
1. Always use the appropriate MongoDB tools to fetch real data from the %s
2. For holidays: Use collection "ITMS_HOLIDAYS_LIST" with field "HOL_DATE" for date queries
3. When analyzing payroll data, focus on hours, counties, dates, and trends
4. For employee queries, consider badge IDs, names, employment types, and locations
5. Use "query" parameter (not "filter") for MongoDB find operations
6. For date comparisons, use MongoDB Extended JSON format: {"$date": "2025-07-26T00:00:00Z"}
7. Format results clearly for HR and management stakeholders
8. Provide actionable insights and summaries when appropriate
9. Handle dates and time ranges intelligently
10. Suggest follow-up questions or related analyses

Current time: %s
Database: %s (9 collections: 6 master, 3 transactional)
`

// Prompt renders the system prompt for one database.
type Prompt struct {
	Database string
}

// SystemPrompt renders the prompt with the current time and the names
// of the tools the server offers right now.
func (p Prompt) SystemPrompt(now time.Time, toolNames []string) string {
	db := p.Database
	if db == "" {
		db = DefaultDatabase
	}

	toolsLine := ""
	if len(toolNames) > 0 {
		toolsLine = "Available MongoDB tools: " + strings.Join(toolNames, ", ") + "\n"
	}

	return fmt.Sprintf(systemTemplate,
		db,
		CollectionContext(),
		toolsLine,
		db,
		now.Format(time.RFC3339),
		db,
	)
}

// SystemPrompt renders the prompt for the default database.
func SystemPrompt(now time.Time, toolNames []string) string {
	return Prompt{}.SystemPrompt(now, toolNames)
}

// CollectionContext lists the collections grouped by kind.
func CollectionContext() string {
	var sb strings.Builder
	master := CollectionsOfKind(KindMaster)
	fmt.Fprintf(&sb, "MASTER DATA (%d collections):\n", len(master))
	for _, c := range master {
		fmt.Fprintf(&sb, "• %s: %s\n", c.Name, c.Description)
	}
	trans := CollectionsOfKind(KindTransactional)
	fmt.Fprintf(&sb, "\nTRANSACTIONAL DATA (%d collections):\n", len(trans))
	for _, c := range trans {
		fmt.Fprintf(&sb, "• %s: %s\n", c.Name, c.Description)
	}
	return sb.String()
}
