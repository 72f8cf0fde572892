package services

import (
	"errors"
	"fmt"
)

// Common errors, used by the services and by the HTTP error mapping.
var (
	ErrNotFound = errors.New("requested resource not found")

	// Validation
	ErrValidationFailed         = errors.New("validation failed")
	ErrInvalidFormat            = errors.New("tournament format must be swiss, elimination or arena")
	ErrInvalidLength            = errors.New("match length must be positive")
	ErrInvalidRoundCount        = errors.New("round count must be at least 1")
	ErrInvalidRatingRange       = errors.New("rating range minimum must not exceed its maximum")
	ErrDuplicateParticipant     = errors.New("participant listed more than once")
	ErrGuildRequired            = errors.New("guild id is required")
	ErrTooFewParticipantsListed = errors.New("at least two participants are required")

	// Conflicts and preconditions
	ErrActiveTournamentExists = errors.New("guild already has an active tournament")
	ErrTournamentNotActive    = errors.New("tournament is not active")
	ErrRoundAlreadyActive     = errors.New("a round is already running")
	ErrForbiddenOperation     = errors.New("operation not allowed for the current user")

	// Entities
	ErrTournamentNotFound = errors.New("tournament not found")
	ErrRoundNotFound      = errors.New("round not found")

	// Collaborators
	ErrProblemSelectionFailed = errors.New("problem selection failed")
	ErrDuelCreationFailed     = errors.New("duel creation failed")
)

// RoundIncompleteError is returned when a round still has pending matches.
// Callers can retry once the remaining duels finish.
type RoundIncompleteError struct {
	RoundNumber int
	Pending     int
}

func (e *RoundIncompleteError) Error() string {
	return fmt.Sprintf("round %d is not completed yet (%d pending matches)", e.RoundNumber, e.Pending)
}

// InsufficientParticipantsError means a round cannot be paired with the remaining players.
type InsufficientParticipantsError struct {
	Active int
}

func (e *InsufficientParticipantsError) Error() string {
	return fmt.Sprintf("need at least 2 active participants to start a round, have %d", e.Active)
}
