package services

import (
	"context"
	"errors"

	"github.com/Dosada05/duel-tournament/models"
)

// ErrProblemNotFound is returned by a ProblemSelector when no problem satisfies the query.
var ErrProblemNotFound = errors.New("no problem matches the requested filters")

type ProblemQuery struct {
	RatingRanges       []models.RatingRange
	Tags               []string
	ExcludedProblemIDs []string
	// ParticipantIDs lets the selector drop problems any participant has already solved.
	ParticipantIDs []int64
}

type ProblemSelector interface {
	SelectProblem(ctx context.Context, query ProblemQuery) (*models.Problem, error)
}

type DuelRequest struct {
	TournamentID   int
	RoundNumber    int
	MatchNumber    int
	Problem        models.Problem
	LengthMinutes  int
	ParticipantIDs []int64
}

// ChallengeRunner runs timed head-to-head duels. Completions come back through
// MatchService.OnMatchCompleted.
type ChallengeRunner interface {
	CreateDuel(ctx context.Context, req DuelRequest) (string, error)
	CancelDuel(ctx context.Context, challengeRef string) error
}

// Notifier receives lifecycle events after their state change is committed.
type Notifier interface {
	Publish(tournamentID int, eventType string, payload interface{})
}

// ResultsArchiver stores final standings and returns where they can be read.
type ResultsArchiver interface {
	ArchiveStandings(ctx context.Context, tournament *models.Tournament, standings []models.Standing) (string, error)
}

type noopNotifier struct{}

func (noopNotifier) Publish(int, string, interface{}) {}
