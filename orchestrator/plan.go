package orchestrator

import (
	"context"
	"fmt"

	"github.com/ridoystarlord/dbdocsync/mapping"
	"github.com/ridoystarlord/dbdocsync/store"
)

// PlanEntry is what a sync would do for one phase.
type PlanEntry struct {
	Phase    string
	Endpoint string
	Rows     int64
	Batches  int64
	Mapped   bool // root phases only: already has a remote id, no call needed
}

// Plan counts the rows a Sync of descriptionID would send, without touching
// the network or the mapping store.
func (o *Orchestrator) Plan(ctx context.Context, descriptionID int64) ([]PlanEntry, error) {
	desc, err := o.src.Find(ctx, DescriptionsTable, descriptionID)
	if err != nil {
		return nil, fmt.Errorf("loading description %d: %w", descriptionID, err)
	}

	var plan []PlanEntry
	if projectID, ok := desc.Int(ProjectFK); ok {
		_, mapped, err := o.mappings.RemoteID(ctx, mapping.Project, projectID)
		if err != nil {
			return nil, err
		}
		plan = append(plan, PlanEntry{Phase: PhaseProjectParent, Endpoint: ProjectParentEndpoint, Rows: 1, Batches: boolBatches(!mapped), Mapped: mapped})
	}
	_, mapped, err := o.mappings.RemoteID(ctx, mapping.DBDescription, descriptionID)
	if err != nil {
		return nil, err
	}
	plan = append(plan, PlanEntry{Phase: PhaseProject, Endpoint: ProjectEndpoint, Rows: 1, Batches: boolBatches(!mapped), Mapped: mapped})

	for _, k := range o.kinds {
		filter := store.Filter{Table: k.Table, Column: k.ParentFK, Values: []int64{descriptionID}}
		n, err := o.src.Count(ctx, filter)
		if err != nil {
			return nil, err
		}
		plan = append(plan, PlanEntry{Phase: k.Name, Endpoint: k.Endpoint, Rows: n, Batches: batches(n, k.PageSize)})
		if len(k.Details) == 0 {
			continue
		}

		var ids []int64
		if n > 0 {
			if ids, err = o.src.IDs(ctx, filter); err != nil {
				return nil, err
			}
		}
		for _, d := range k.Details {
			var rows int64
			if len(ids) > 0 {
				rows, err = o.src.Count(ctx, store.Filter{Table: d.Table, Column: d.ParentFK, Values: ids})
				if err != nil {
					return nil, err
				}
			}
			plan = append(plan, PlanEntry{Phase: d.Name, Endpoint: d.Endpoint, Rows: rows, Batches: batches(rows, d.PageSize)})
		}
	}
	return plan, nil
}

func batches(rows int64, size int) int64 {
	if rows == 0 || size <= 0 {
		return 0
	}
	return (rows + int64(size) - 1) / int64(size)
}

func boolBatches(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
