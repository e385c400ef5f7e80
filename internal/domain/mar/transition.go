package mar

type Action string

const (
	ActionPrepare    Action = "prepare"
	ActionAdminister Action = "administer"
	ActionHold       Action = "hold"
	ActionRefuse     Action = "refuse"
	ActionMiss       Action = "miss"
	ActionReschedule Action = "reschedule"
	ActionReturn     Action = "return"
	ActionUndo       Action = "undo"
	ActionCancel     Action = "cancel"
)

// transitions maps each action to the statuses it may start from.
var transitions = map[Action][]Status{
	ActionPrepare:    {StatusScheduled},
	ActionAdminister: {StatusScheduled, StatusPrepared},
	ActionHold:       {StatusScheduled, StatusPrepared},
	ActionRefuse:     {StatusScheduled, StatusPrepared},
	ActionMiss:       {StatusScheduled, StatusPrepared},
	ActionReschedule: {StatusHeld, StatusRefused, StatusMissed},
	ActionReturn:     {StatusReturnPending, StatusMissed},
	ActionUndo:       {StatusAdministered},
	ActionCancel:     {StatusScheduled, StatusPrepared, StatusHeld, StatusRefused, StatusMissed},
}

// CanTransition reports whether action is legal from status.
func CanTransition(action Action, from Status) bool {
	for _, s := range transitions[action] {
		if s == from {
			return true
		}
	}
	return false
}

// AllowedAfterStop reports whether action may still run on an item of a
// stopped order. Only actions that unwind the dose are.
func AllowedAfterStop(action Action) bool {
	switch action {
	case ActionReturn, ActionUndo, ActionCancel:
		return true
	}
	return false
}

// exceptionAction maps an exception kind to its action.
func exceptionAction(kind Status) (Action, bool) {
	switch kind {
	case StatusHeld:
		return ActionHold, true
	case StatusRefused:
		return ActionRefuse, true
	case StatusMissed:
		return ActionMiss, true
	}
	return "", false
}

// exceptionOutcome is the status an exception records. A dose already
// issued to the bedside that is held or refused must come back to stock,
// so it goes to RETURN_PENDING instead.
func exceptionOutcome(kind Status, dispensed bool) Status {
	if dispensed && (kind == StatusHeld || kind == StatusRefused) {
		return StatusReturnPending
	}
	return kind
}

// cancelOutcome is the status an order stop leaves the item in.
func cancelOutcome(it *MARItem) Status {
	if it.IsDispensed {
		return StatusReturnPending
	}
	return StatusCancelled
}

// DeriveVisitStatus computes a visit's status from its items. Cancelled
// items do not count.
func DeriveVisitStatus(items []*MARItem) VisitStatus {
	active, done := 0, 0
	for _, it := range items {
		if it.Status == StatusCancelled {
			continue
		}
		active++
		if it.Status == StatusAdministered || it.Status == StatusReturned {
			done++
		}
	}
	switch {
	case active > 0 && done == active:
		return VisitFullyDispensed
	case done == 0:
		return VisitNew
	default:
		return VisitPartiallyDispensed
	}
}
