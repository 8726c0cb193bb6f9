package planning

import "errors"

var (
	ErrProjectNotFound    = errors.New("project not found")
	ErrPhaseNotFound      = errors.New("phase not found")
	ErrDependencyNotFound = errors.New("dependency not found")
	// ErrDependencyCycle wraps the engine's *schedule.CycleError when fix-all
	// meets a cycle, and is returned alone when a new edge would close one.
	ErrDependencyCycle   = errors.New("dependency cycle")
	ErrInvalidDependency = errors.New("invalid dependency")
	ErrInvalidDates      = errors.New("invalid phase dates")
	ErrFixInProgress     = errors.New("fix already in progress for project")
	ErrProjectTooLarge   = errors.New("project has too many phases")
)
