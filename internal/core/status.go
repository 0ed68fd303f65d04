package core

// Status enums and their transition tables. Transitions are validated centrally
// here rather than with per-endpoint checks: services call the CanTransition
// helpers and turn a false result into a StateError.

type POStatus string

const (
	PODraft     POStatus = "DRAFT"
	POProgress  POStatus = "PROGRESS"
	POReceived  POStatus = "RECEIVED"
	POCancelled POStatus = "CANCELLED"
)

// poTransitions is the full purchase order state machine. RECEIVED and
// CANCELLED are terminal.
var poTransitions = map[POStatus][]POStatus{
	PODraft:    {POProgress, POCancelled},
	POProgress: {POReceived, POCancelled},
}

func (s POStatus) CanTransition(to POStatus) bool {
	for _, t := range poTransitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

// Editable reports whether item-level edits and deletes are allowed.
// Only DRAFT purchase orders may be edited or deleted.
func (s POStatus) Editable() bool {
	return s == PODraft
}

type ItemPOStatus string

const (
	ItemPONone     ItemPOStatus = "NONE"
	ItemPOPending  ItemPOStatus = "PENDING"
	ItemPOOrdered  ItemPOStatus = "ORDERED"
	ItemPOReceived ItemPOStatus = "RECEIVED"
)

type ProjectStatus string

const (
	ProjectDraft     ProjectStatus = "DRAFT"
	ProjectActive    ProjectStatus = "ACTIVE"
	ProjectCompleted ProjectStatus = "COMPLETED"
	ProjectCancelled ProjectStatus = "CANCELLED"
)

// Settled reports whether a project has already gone through settlement.
// Settlement must run exactly once: completing or cancelling a settled project
// would double-deduct and double-release stock.
func (s ProjectStatus) Settled() bool {
	return s == ProjectCompleted || s == ProjectCancelled
}
