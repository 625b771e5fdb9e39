package store

import "skipline/internal/models"

const (
	ActionCallNext = "call_next"
	ActionServe    = "serve"
	ActionMiss     = "miss"
	ActionCancel   = "cancel"
)

var transitionMap = map[string][]string{
	ActionCallNext: {models.StatusWaiting},
	ActionServe:    {models.StatusCalled},
	ActionMiss:     {models.StatusCalled},
	ActionCancel:   {models.StatusWaiting, models.StatusCalled},
}

var transitionTarget = map[string]string{
	ActionCallNext: models.StatusCalled,
	ActionServe:    models.StatusServed,
	ActionMiss:     models.StatusMissed,
	ActionCancel:   models.StatusCancelled,
}

func ValidTransition(action, fromStatus string) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}

func TargetStatus(action string) string {
	return transitionTarget[action]
}

// EventType names the history event written for action.
func EventType(action string) string {
	switch action {
	case ActionCallNext:
		return "entry.called"
	case ActionServe:
		return "entry.served"
	case ActionMiss:
		return "entry.missed"
	case ActionCancel:
		return "entry.cancelled"
	default:
		return "entry." + action
	}
}
