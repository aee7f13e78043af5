package editor

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/funcscan/flowdesk/pkg/codec"
	"github.com/funcscan/flowdesk/pkg/models"
	"github.com/funcscan/flowdesk/pkg/persistence"
)

// rowSet is the set of backend rows the session knows to exist.
type rowSet struct {
	testCases map[int64]struct{}
	// step id to test case id
	steps map[int64]int64
}

func newRowSet(testCases []models.TestCase, steps []models.StepTest) rowSet {
	rows := rowSet{
		testCases: make(map[int64]struct{}, len(testCases)),
		steps:     make(map[int64]int64, len(steps)),
	}

	for _, tc := range testCases {
		if tc.ID > 0 {
			rows.testCases[tc.ID] = struct{}{}
		}
	}

	for _, s := range steps {
		if s.ID > 0 {
			rows.steps[s.ID] = s.TestCaseID
		}
	}

	return rows
}

// savedRows is the row set after a save: the rows of rel with their final ids.
// Rows whose create failed have no id and are left out.
func savedRows(rel codec.Relational, assigned map[int]int64) rowSet {
	rows := newRowSet(nil, nil)

	tcIDs := make(map[int]int64, len(rel.TestCases))
	for _, row := range rel.TestCases {
		id := cmp.Or(row.ID, assigned[row.NodeID])
		if id > 0 {
			rows.testCases[id] = struct{}{}
			tcIDs[row.NodeID] = id
		}
	}

	for _, row := range rel.Steps {
		id := cmp.Or(row.ID, assigned[row.NodeID])
		if id > 0 {
			rows.steps[id] = cmp.Or(row.TestCaseID, tcIDs[row.ParentNodeID])
		}
	}

	return rows
}

// stale returns the known rows that rel no longer holds. Steps of a stale test
// case are left out since the backend removes them with it.
func (r rowSet) stale(rel codec.Relational) (testCases, steps []int64) {
	keepTC := make(map[int64]struct{}, len(rel.TestCases))
	for _, row := range rel.TestCases {
		if row.ID > 0 {
			keepTC[row.ID] = struct{}{}
		}
	}

	keepStep := make(map[int64]struct{}, len(rel.Steps))
	for _, row := range rel.Steps {
		if row.ID > 0 {
			keepStep[row.ID] = struct{}{}
		}
	}

	for id := range r.testCases {
		if _, ok := keepTC[id]; !ok {
			testCases = append(testCases, id)
		}
	}

	for id, parent := range r.steps {
		if _, ok := keepStep[id]; ok {
			continue
		}

		if _, ok := keepTC[parent]; !ok && r.has(parent) {
			continue
		}

		steps = append(steps, id)
	}

	slices.Sort(testCases)
	slices.Sort(steps)

	return testCases, steps
}

func (r rowSet) has(testCaseID int64) bool {
	_, ok := r.testCases[testCaseID]

	return ok
}

// deleteRows removes stale rows. Rows already gone count as removed. It returns
// the rows that could not be removed.
func (c *Controller) deleteRows(ctx context.Context, testCases, steps []int64) (rowSet, error) {
	failed := newRowSet(nil, nil)

	var errs []error

	for _, id := range steps {
		err := c.backend.DeleteStepTest(ctx, id)
		if err != nil && !errors.Is(err, persistence.ErrStepTestNotFound) {
			errs = append(errs, fmt.Errorf("delete step %d: %w", id, err))
			failed.steps[id] = 0
		}
	}

	for _, id := range testCases {
		err := c.backend.DeleteTestCase(ctx, id)
		if err != nil && !errors.Is(err, persistence.ErrTestCaseNotFound) {
			errs = append(errs, fmt.Errorf("delete test case %d: %w", id, err))
			failed.testCases[id] = struct{}{}
		}
	}

	return failed, errors.Join(errs...)
}

// merge adds the rows of other to r.
func (r rowSet) merge(other rowSet) {
	for id := range other.testCases {
		r.testCases[id] = struct{}{}
	}

	for id, parent := range other.steps {
		r.steps[id] = parent
	}
}
