package projections

// Status is the persisted state of a projection. Controllers write it to
// request a transition; running projections read it between cycles.
type Status string

const (
	StatusIdle                      Status = "idle"
	StatusRunning                   Status = "running"
	StatusStopping                  Status = "stopping"
	StatusResetting                 Status = "resetting"
	StatusDeleting                  Status = "deleting"
	StatusDeletingWithEmittedEvents Status = "deleting_with_emitted_events"
)

func (s Status) String() string { return string(s) }

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusIdle, StatusRunning, StatusStopping, StatusResetting,
		StatusDeleting, StatusDeletingWithEmittedEvents:
		return true
	}
	return false
}
