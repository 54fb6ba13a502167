package store

import "qms/campus-queue/internal/models"

const (
	ActionStart    = "start"
	ActionComplete = "complete"
	ActionCancel   = "cancel"
)

var transitionMap = map[string][]string{
	ActionStart:    {models.StatusWaiting},
	ActionComplete: {models.StatusInProgress},
	ActionCancel:   {models.StatusWaiting, models.StatusInProgress},
}

var transitionTarget = map[string]string{
	ActionStart:    models.StatusInProgress,
	ActionComplete: models.StatusCompleted,
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

// TargetStatus is the status a ticket ends in after action.
func TargetStatus(action string) (string, bool) {
	status, ok := transitionTarget[action]
	return status, ok
}

// ActionFor finds the action that moves a ticket from one status to another.
func ActionFor(fromStatus, toStatus string) (string, bool) {
	for action, target := range transitionTarget {
		if target == toStatus && ValidTransition(action, fromStatus) {
			return action, true
		}
	}
	return "", false
}

// SourceStatuses lists the statuses action may start from.
func SourceStatuses(action string) []string {
	return append([]string(nil), transitionMap[action]...)
}
