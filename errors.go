package main

import "fmt"

// ErrorKind classifies a game error so transports and tests can react to
// the category without string matching.
type ErrorKind string

const (
	ErrKindValidation    ErrorKind = "validation"    // malformed or out-of-range input
	ErrKindAuthorization ErrorKind = "authorization" // caller may not perform this intent
	ErrKindPhase         ErrorKind = "phase"         // intent invalid for the current phase or turn
	ErrKindConflict      ErrorKind = "conflict"      // lost an atomic compare-and-swap race
	ErrKindCorrupt       ErrorKind = "corrupt"       // required room substructure is missing
)

// GameError is the typed failure every intent handler returns.
// No handler mutates state after producing one.
type GameError struct {
	Kind    ErrorKind
	Message string
}

func (e *GameError) Error() string {
	return e.Message
}

func validationError(format string, args ...any) *GameError {
	return &GameError{Kind: ErrKindValidation, Message: fmt.Sprintf(format, args...)}
}

func authError(format string, args ...any) *GameError {
	return &GameError{Kind: ErrKindAuthorization, Message: fmt.Sprintf(format, args...)}
}

func phaseError(format string, args ...any) *GameError {
	return &GameError{Kind: ErrKindPhase, Message: fmt.Sprintf(format, args...)}
}

func conflictError(format string, args ...any) *GameError {
	return &GameError{Kind: ErrKindConflict, Message: fmt.Sprintf(format, args...)}
}

func corruptError(format string, args ...any) *GameError {
	return &GameError{Kind: ErrKindCorrupt, Message: fmt.Sprintf(format, args...)}
}
