package domain

import "time"

// EntityState enumerates the orchestrator's per-entity milestones.
type EntityState string

const (
	StatePending   EntityState = "pending"
	StateResolving EntityState = "resolving"
	StateSkipped   EntityState = "skipped"
	StateFetching  EntityState = "fetching"
	StateDone      EntityState = "done"
)

// Terminal reports whether no further transition happens within a run.
func (s EntityState) Terminal() bool {
	return s == StateSkipped || s == StateDone
}

// EntityOutcome is the per-entity record of one run.
type EntityOutcome struct {
	Entity    string
	State     EntityState
	Community string
	Resolved  bool
	NewItems  int
	Batches   int
	Failed    bool
	Err       error
	Reason    string
}

// RunSummary aggregates the outcomes of one orchestrator run.
type RunSummary struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Outcomes   []EntityOutcome
}

// Failed reports whether any entity suffered a non-recoverable error.
func (s RunSummary) Failed() bool {
	for _, o := range s.Outcomes {
		if o.Failed {
			return true
		}
	}
	return false
}

// NewItems sums committed items across all entities.
func (s RunSummary) NewItems() int {
	total := 0
	for _, o := range s.Outcomes {
		total += o.NewItems
	}
	return total
}

// Count returns how many entities ended in state.
func (s RunSummary) Count(state EntityState) int {
	n := 0
	for _, o := range s.Outcomes {
		if o.State == state {
			n++
		}
	}
	return n
}

// ScoredItem is a content item with the sentiment returned by the scoring service.
type ScoredItem struct {
	ID              string  `json:"id"`
	EntityName      string  `json:"entity_name"`
	CommunityHandle string  `json:"community_handle"`
	Compound        float64 `json:"compound"`
	Positive        float64 `json:"pos"`
	Neutral         float64 `json:"neu"`
	Negative        float64 `json:"neg"`
}
