package orchestrator

import (
	"strconv"

	"github.com/ridoystarlord/dbdocsync/chunk"
	"github.com/ridoystarlord/dbdocsync/mapping"
)

// Root records and their endpoints.
const (
	ProjectsTable     = "projects"
	DescriptionsTable = "db_descriptions"
	ProjectFK         = "project_id"

	ProjectParentEndpoint = "/api/sync/project-parent"
	ProjectEndpoint       = "/api/sync/project"
)

// Detail describes a second-level child of a Kind. Details get no ids back,
// so nothing is mapped for them.
type Detail struct {
	Name       string
	Table      string
	Endpoint   string
	PayloadKey string
	ParentFK   string // column holding the parent's local id; sent as its remote id
	PageSize   int
}

// Kind describes one child entity kind of a database description. A single
// generic routine syncs every Kind.
type Kind struct {
	Name        string
	Table       string
	Endpoint    string
	PayloadKey  string
	MappingKind string
	ParentFK    string
	PageSize    int
	Details     []Detail
}

// DefaultKinds returns the five kinds in the order they must be synced:
// tables, views, functions, procedures, triggers.
func DefaultKinds(pageSize, detailPageSize int) []Kind {
	if pageSize <= 0 {
		pageSize = chunk.ParentPageSize
	}
	if detailPageSize <= 0 {
		detailPageSize = chunk.DetailPageSize
	}
	detail := func(name, table, endpoint, key, fk string) Detail {
		return Detail{Name: name, Table: table, Endpoint: endpoint, PayloadKey: key, ParentFK: fk, PageSize: detailPageSize}
	}

	return []Kind{
		{
			Name: "tables", Table: "table_descriptions", Endpoint: "/api/sync/tables/batch",
			PayloadKey: "tables", MappingKind: mapping.Table, ParentFK: "dbid", PageSize: pageSize,
			Details: []Detail{
				detail("columns", "table_structures", "/api/sync/columns/batch", "columns", "id_table"),
				detail("indexes", "table_indexes", "/api/sync/indexes/batch", "indexes", "id_table"),
				detail("relations", "table_relations", "/api/sync/relations/batch", "relations", "id_table"),
			},
		},
		{
			Name: "views", Table: "view_descriptions", Endpoint: "/api/sync/views/batch",
			PayloadKey: "views", MappingKind: mapping.View, ParentFK: "dbid", PageSize: pageSize,
			Details: []Detail{
				detail("view-columns", "view_structures", "/api/sync/view-columns/batch", "view_columns", "id_view"),
				detail("view-information", "view_information", "/api/sync/view-information/batch", "view_information", "id_view"),
			},
		},
		{
			Name: "functions", Table: "function_descriptions", Endpoint: "/api/sync/functions/batch",
			PayloadKey: "functions", MappingKind: mapping.Function, ParentFK: "dbid", PageSize: pageSize,
			Details: []Detail{
				detail("function-information", "function_information", "/api/sync/function-information/batch", "function_information", "id_func"),
				detail("function-parameters", "function_parameters", "/api/sync/function-parameters/batch", "function_parameters", "id_func"),
			},
		},
		{
			Name: "procedures", Table: "procedure_descriptions", Endpoint: "/api/sync/procedures/batch",
			PayloadKey: "procedures", MappingKind: mapping.Procedure, ParentFK: "dbid", PageSize: pageSize,
			Details: []Detail{
				detail("procedure-information", "procedure_information", "/api/sync/procedure-information/batch", "procedure_information", "id_proc"),
				detail("procedure-parameters", "procedure_parameters", "/api/sync/procedure-parameters/batch", "procedure_parameters", "id_proc"),
			},
		},
		{
			Name: "triggers", Table: "trigger_descriptions", Endpoint: "/api/sync/triggers/batch",
			PayloadKey: "triggers", MappingKind: mapping.Trigger, ParentFK: "dbid", PageSize: pageSize,
			Details: []Detail{
				detail("trigger-information", "trigger_information", "/api/sync/trigger-information/batch", "trigger_information", "id_trigger"),
			},
		},
	}
}

// LockName is the lock a sync of descriptionID holds, so a description is
// never synced twice at once.
func LockName(descriptionID int64) string {
	return "sync:" + strconv.FormatInt(descriptionID, 10)
}
