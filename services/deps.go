package services

import (
	"errors"
	"log/slog"

	"github.com/Dosada05/duel-tournament/metrics"
	"github.com/Dosada05/duel-tournament/repositories"
)

type Repositories struct {
	Tx           repositories.Transactor
	Tournaments  repositories.TournamentRepository
	Participants repositories.ParticipantRepository
	Rounds       repositories.RoundRepository
	Matches      repositories.MatchRepository
}

// Deps bundles what the tournament engine talks to. Archiver and Metrics are optional.
type Deps struct {
	Repos    Repositories
	Problems ProblemSelector
	Duels    ChallengeRunner
	Locker   Locker
	Notifier Notifier
	Archiver ResultsArchiver
	Metrics  *metrics.Recorder
	Logger   *slog.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Locker == nil {
		d.Locker = NewKeyedMutex()
	}
	if d.Notifier == nil {
		d.Notifier = noopNotifier{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return d
}

func mapRepoError(err error) error {
	switch {
	case errors.Is(err, repositories.ErrTournamentNotFound):
		return ErrTournamentNotFound
	case errors.Is(err, repositories.ErrRoundNotFound):
		return ErrRoundNotFound
	case errors.Is(err, repositories.ErrActiveTournamentExists):
		return ErrActiveTournamentExists
	}
	return err
}
