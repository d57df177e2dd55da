package task

import "errors"

var (
	// ErrNoActiveTask indicates a table without an adopted kernel task.
	ErrNoActiveTask = errors.New("task: no active task")

	// ErrExited indicates a task that has finished.
	ErrExited = errors.New("task: task exited")

	// ErrPrimed indicates a task whose stack already holds its start chain.
	ErrPrimed = errors.New("task: context already set")

	// ErrBadEntry indicates an entry address that is not a routine.
	ErrBadEntry = errors.New("task: entry is not a routine")

	// ErrBadRing indicates a privilege ring other than 0 or 3.
	ErrBadRing = errors.New("task: unsupported ring")
)
