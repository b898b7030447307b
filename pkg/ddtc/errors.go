package ddtc

import "errors"

var (
	// ErrServerExists is returned when addServer is called with an id already
	// present in the registry.
	ErrServerExists = errors.New("ddtc: server already exists")
	// ErrServerNotFound is returned by operations that require a known server id.
	ErrServerNotFound = errors.New("ddtc: server not found")
	// ErrMachineNotFound is returned by operations that require a known machine id.
	ErrMachineNotFound = errors.New("ddtc: machine not found")
	// ErrTeamNotFound is returned by operations that require a known team id.
	ErrTeamNotFound = errors.New("ddtc: team not found")
	// ErrNoValidLocality is returned by the builder when no healthy server has
	// a locality the configured policy accepts.
	ErrNoValidLocality = errors.New("ddtc: no server with valid locality")
	// ErrInsufficientMachines is returned when fewer than k unique machines
	// are available to build a team.
	ErrInsufficientMachines = errors.New("ddtc: fewer than k unique machines available")
	// ErrRemoveFailedServer escalates a FAILED-exclusion server to the
	// supervisor so key-range repair can run before the server is dropped.
	ErrRemoveFailedServer = errors.New("ddtc: server excluded as failed, repair required")
	// ErrMoveKeysConflict is surfaced when a system-keyspace transaction
	// observes the move-keys lock held by someone else.
	ErrMoveKeysConflict = errors.New("ddtc: move-keys lock conflict")
	// ErrPleaseReboot is a clean-termination signal propagated out of trackers.
	ErrPleaseReboot = errors.New("ddtc: please reboot")
	// ErrCancelled marks cooperative cancellation of a task.
	ErrCancelled = errors.New("ddtc: cancelled")
)
