package store

import "clup/store-service/internal/models"

var transitionMap = map[string][]string{
	"admit":  {models.StatusValid},
	"cancel": {models.StatusValid},
	"expire": {models.StatusValid},
}

// ValidTransition reports whether action may be applied to a ticket in
// fromStatus. Used and cancelled are terminal.
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
