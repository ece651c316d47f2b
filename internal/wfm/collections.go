// Package wfm knows the shape of the workforce management database:
// its collections, the queries commonly run against them, and the
// system prompt that describes them to the model.
package wfm

// DefaultDatabase is the database every query targets unless configured.
const DefaultDatabase = "wfm_database"

// Kind separates reference data from day-to-day records.
type Kind string

// Collection kinds.
const (
	KindMaster        Kind = "master"
	KindTransactional Kind = "transactional"
)

// Collection describes one collection of the WFM database.
type Collection struct {
	Name        string   `json:"name"`
	Kind        Kind     `json:"type"`
	Description string   `json:"description"`
	KeyFields   []string `json:"key_fields"`
	SampleQuery string   `json:"sample_query"`
}

// Collection names referenced by the query helpers.
const (
	CollEmployees       = "employees"
	CollActivities      = "activities"
	CollActivityTypes   = "activityTypes"
	CollPaycodes        = "paycodes"
	CollRoles           = "itms_wfm_roles"
	CollHolidays        = "ITMS_HOLIDAYS_LIST"
	CollDailyActivities = "dailyActivities"
	CollPayroll         = "itms_wfm_payroll"
	CollUserRoles       = "itms_wfm_user_roles"
)

// collections lists master data first, then transactional data.
var collections = []Collection{
	{
		Name:        CollEmployees,
		Kind:        KindMaster,
		Description: "Employee master data with personal info, employment history, and contact details",
		KeyFields:   []string{"_id", "firstName", "lastName", "peopleSoftId", "badgeId", "type", "addresses", "contacts", "employmentHistory"},
		SampleQuery: "Find employees by employment type or badge ID",
	},
	{
		Name:        CollActivities,
		Kind:        KindMaster,
		Description: "Work activity definitions and descriptions",
		KeyFields:   []string{"_id", "name", "description", "startTime", "endTime", "type"},
		SampleQuery: "List available work activities",
	},
	{
		Name:        CollActivityTypes,
		Kind:        KindMaster,
		Description: "Categories and types of work activities",
		KeyFields:   []string{"_id", "name", "description", "category"},
		SampleQuery: "Show activity type categories",
	},
	{
		Name:        CollPaycodes,
		Kind:        KindMaster,
		Description: "Payroll codes and compensation rules",
		KeyFields:   []string{"_id", "code", "description", "rate", "type"},
		SampleQuery: "List payroll codes and rates",
	},
	{
		Name:        CollRoles,
		Kind:        KindMaster,
		Description: "User roles and permissions in the WFM system",
		KeyFields:   []string{"_id", "roleName", "permissions", "description"},
		SampleQuery: "Show user roles and permissions",
	},
	{
		Name:        CollHolidays,
		Kind:        KindMaster,
		Description: "Holiday schedules by location with dates and descriptions",
		KeyFields:   []string{"_id", "NAME", "HOL_DATE", "HOL_DESC", "ADDED_BY", "UPDATED_BY"},
		SampleQuery: "Find holidays by date range or name",
	},
	{
		Name:        CollDailyActivities,
		Kind:        KindTransactional,
		Description: "Daily work activity tracking and time logs",
		KeyFields:   []string{"_id", "date", "employee", "name", "startTime", "endTime", "status"},
		SampleQuery: "Show daily activities for specific dates or employees",
	},
	{
		Name:        CollPayroll,
		Kind:        KindTransactional,
		Description: "Payroll records with hours worked, dates, and counties",
		KeyFields:   []string{"_id", "badgeId", "firstName", "lastName", "county", "date", "hours", "peoplesoftCode"},
		SampleQuery: "Analyze payroll by county, date, or employee",
	},
	{
		Name:        CollUserRoles,
		Kind:        KindTransactional,
		Description: "User role assignments and access permissions",
		KeyFields:   []string{"_id", "user_id", "role_id", "assigned_date", "status"},
		SampleQuery: "Show user role assignments",
	},
}

// Collections returns every known collection, master data first.
func Collections() []Collection {
	out := make([]Collection, len(collections))
	copy(out, collections)
	return out
}

// CollectionsOfKind returns the collections of one kind, in catalog order.
func CollectionsOfKind(k Kind) []Collection {
	var out []Collection
	for _, c := range collections {
		if c.Kind == k {
			out = append(out, c)
		}
	}
	return out
}

// LookupCollection finds a collection by exact name.
func LookupCollection(name string) (Collection, bool) {
	for _, c := range collections {
		if c.Name == name {
			return c, true
		}
	}
	return Collection{}, false
}
