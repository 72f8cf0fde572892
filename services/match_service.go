package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Dosada05/duel-tournament/metrics"
	"github.com/Dosada05/duel-tournament/models"
	"github.com/Dosada05/duel-tournament/repositories"
	"github.com/Dosada05/duel-tournament/scoring"
)

// Reasons reported when a completion notification is ignored.
const (
	IgnoredUnknownChallenge = "unknown challenge"
	IgnoredNotPending       = "match is not pending"
	IgnoredNotActive        = "tournament is not active"
)

// MatchCompletionResult reports how a completion notification was handled. Ignored
// notifications are not errors: duplicate or late deliveries are expected.
type MatchCompletionResult struct {
	Ignored        bool             `json:"ignored"`
	Reason         string           `json:"reason,omitempty"`
	Match          *models.Match    `json:"match,omitempty"`
	IsDraw         bool             `json:"is_draw"`
	RoundCompleted bool             `json:"round_completed"`
	Pending        int              `json:"pending_in_round"`
	Outcome        *scoring.Outcome `json:"-"`
}

type MatchService interface {
	OnMatchCompleted(ctx context.Context, challengeRef string, results []scoring.ParticipantResult) (*MatchCompletionResult, error)
	ListMatches(ctx context.Context, tournamentID int, roundNumber *int) ([]models.Match, error)
}

type matchService struct {
	deps Deps
	log  *slog.Logger
}

func NewMatchService(deps Deps) MatchService {
	deps = deps.withDefaults()
	return &matchService{deps: deps, log: deps.Logger.With("component", "match_service")}
}

func (s *matchService) ListMatches(ctx context.Context, tournamentID int, roundNumber *int) ([]models.Match, error) {
	if _, err := s.deps.Repos.Tournaments.GetByID(ctx, nil, tournamentID); err != nil {
		return nil, mapRepoError(err)
	}
	matches, err := s.deps.Repos.Matches.ListByTournament(ctx, nil, tournamentID, roundNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to list matches of tournament %d: %w", tournamentID, err)
	}
	return matches, nil
}

func (s *matchService) OnMatchCompleted(ctx context.Context, challengeRef string, results []scoring.ParticipantResult) (*MatchCompletionResult, error) {
	log := s.log.With("challenge_ref", challengeRef)

	match, err := s.deps.Repos.Matches.GetByChallengeRef(ctx, nil, challengeRef)
	if err != nil {
		if errors.Is(err, repositories.ErrMatchNotFound) {
			return s.ignore(log, IgnoredUnknownChallenge, nil), nil
		}
		return nil, err
	}
	log = log.With("tournament_id", match.TournamentID, "round", match.RoundNumber, "match_id", match.ID)

	release, err := s.deps.Locker.Lock(ctx, tournamentLockKey(match.TournamentID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock tournament %d: %w", match.TournamentID, err)
	}
	defer release()

	var (
		result     *MatchCompletionResult
		tournament *models.Tournament
	)
	err = s.deps.Repos.Tx.WithTx(ctx, func(exec repositories.SQLExecutor) error {
		result = nil
		t, err := s.deps.Repos.Tournaments.GetByIDForUpdate(ctx, exec, match.TournamentID)
		if err != nil {
			return err
		}
		if !t.IsActive() {
			result = &MatchCompletionResult{Ignored: true, Reason: IgnoredNotActive}
			return nil
		}
		tournament = t

		locked, err := s.deps.Repos.Matches.GetByChallengeRefForUpdate(ctx, exec, challengeRef)
		if err != nil {
			return err
		}
		if locked.Status != models.MatchStatusPending || locked.Player2ID == nil {
			result = &MatchCompletionResult{Ignored: true, Reason: IgnoredNotPending, Match: locked}
			return nil
		}

		result, err = s.apply(ctx, exec, t, locked, results)
		return err
	})
	if err != nil {
		log.Error("Failed to apply match completion", "error", err)
		return nil, err
	}
	if result.Ignored {
		return s.ignore(log, result.Reason, result.Match), nil
	}

	s.deps.Metrics.MatchCompletion(metrics.ResultApplied)
	log.Info("Match completed", "winner_id", result.Match.WinnerID, "draw", result.IsDraw, "pending_in_round", result.Pending)

	s.deps.Notifier.Publish(tournament.ID, models.EventMatchCompleted, models.MatchCompletedPayload{
		TournamentID: tournament.ID,
		RoundNumber:  result.Match.RoundNumber,
		MatchID:      result.Match.ID,
		WinnerID:     result.Match.WinnerID,
		IsDraw:       result.IsDraw,
	})
	if result.RoundCompleted {
		log.Info("Round completed")
		s.deps.Notifier.Publish(tournament.ID, models.EventRoundCompleted, models.RoundCompletedPayload{
			TournamentID: tournament.ID,
			RoundNumber:  result.Match.RoundNumber,
		})
	}
	return result, nil
}

// apply runs inside the transaction holding the tournament and match row locks.
func (s *matchService) apply(ctx context.Context, exec repositories.SQLExecutor, t *models.Tournament, match *models.Match, results []scoring.ParticipantResult) (*MatchCompletionResult, error) {
	participants, err := s.deps.Repos.Participants.ListByTournament(ctx, exec, t.ID)
	if err != nil {
		return nil, err
	}
	byUser := make(map[int64]*models.Participant, len(participants))
	seeds := make(map[int64]int, len(participants))
	for i := range participants {
		byUser[participants[i].UserID] = &participants[i]
		seeds[participants[i].UserID] = participants[i].Seed
	}

	outcome, err := scoring.ResolveOutcome(matchResults(match, results), seeds, scoring.ForcedDecision(t.Format))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve match %d: %w", match.ID, err)
	}

	winner := outcome.Winner()
	changed, err := s.deps.Repos.Matches.MarkCompleted(ctx, exec, match.ID, winner)
	if err != nil {
		return nil, err
	}
	if !changed {
		return &MatchCompletionResult{Ignored: true, Reason: IgnoredNotPending, Match: match}, nil
	}

	touched, err := scoring.ApplyOutcome(t.Format, byUser, outcome)
	if err != nil {
		return nil, fmt.Errorf("failed to apply outcome of match %d: %w", match.ID, err)
	}
	for _, p := range touched {
		if err := s.deps.Repos.Participants.UpdateRecord(ctx, exec, p); err != nil {
			return nil, err
		}
	}

	// Counted after this match's own update, on the same transaction.
	pending, err := s.deps.Repos.Matches.CountPendingInRound(ctx, exec, match.RoundID)
	if err != nil {
		return nil, err
	}
	roundCompleted := false
	if pending == 0 {
		roundCompleted, err = s.deps.Repos.Rounds.MarkCompleted(ctx, exec, match.RoundID)
		if err != nil {
			return nil, err
		}
	}

	completed := *match
	completed.Status = models.MatchStatusCompleted
	completed.WinnerID = winner
	return &MatchCompletionResult{
		Match:          &completed,
		IsDraw:         outcome.IsDraw,
		RoundCompleted: roundCompleted,
		Pending:        pending,
		Outcome:        &outcome,
	}, nil
}

// matchResults keeps one result per match player. A player the runner did not report is
// treated as not having solved.
func matchResults(match *models.Match, results []scoring.ParticipantResult) []scoring.ParticipantResult {
	players := []int64{match.Player1ID, *match.Player2ID}
	out := make([]scoring.ParticipantResult, 0, len(players))
	for _, id := range players {
		r := scoring.ParticipantResult{UserID: id}
		for _, candidate := range results {
			if candidate.UserID == id {
				r.SolvedAt = candidate.SolvedAt
				break
			}
		}
		out = append(out, r)
	}
	return out
}

func (s *matchService) ignore(log *slog.Logger, reason string, match *models.Match) *MatchCompletionResult {
	s.deps.Metrics.MatchCompletion(metrics.ResultIgnored)
	log.Info("Ignoring match completion", "reason", reason)
	return &MatchCompletionResult{Ignored: true, Reason: reason, Match: match}
}
