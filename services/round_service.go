package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Dosada05/duel-tournament/brackets"
	"github.com/Dosada05/duel-tournament/models"
	"github.com/Dosada05/duel-tournament/repositories"
	"github.com/Dosada05/duel-tournament/scoring"
	"golang.org/x/sync/errgroup"
)

var ErrRoundLimitReached = errors.New("all scheduled rounds have been played")

// AdvanceResult describes what AdvanceTournament did: either a new round was started or the
// tournament was completed.
type AdvanceResult struct {
	Completed  bool               `json:"completed"`
	Tournament *models.Tournament `json:"tournament"`
	Round      *models.Round      `json:"round,omitempty"`
	Winner     *models.Standing   `json:"winner,omitempty"`
	Standings  []models.Standing  `json:"standings,omitempty"`
	ArchiveURL string             `json:"archive_url,omitempty"`
}

type RoundService interface {
	StartRound(ctx context.Context, tournamentID int) (*models.Round, error)
	AdvanceTournament(ctx context.Context, tournamentID int) (*AdvanceResult, error)
}

type roundService struct {
	deps Deps
	log  *slog.Logger
}

func NewRoundService(deps Deps) RoundService {
	deps = deps.withDefaults()
	return &roundService{deps: deps, log: deps.Logger.With("component", "round_service")}
}

func (s *roundService) StartRound(ctx context.Context, tournamentID int) (*models.Round, error) {
	release, err := s.deps.Locker.Lock(ctx, tournamentLockKey(tournamentID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock tournament %d: %w", tournamentID, err)
	}
	defer release()

	t, err := s.loadActive(ctx, tournamentID)
	if err != nil {
		return nil, err
	}
	return s.startRoundLocked(ctx, t)
}

func (s *roundService) AdvanceTournament(ctx context.Context, tournamentID int) (*AdvanceResult, error) {
	release, err := s.deps.Locker.Lock(ctx, tournamentLockKey(tournamentID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock tournament %d: %w", tournamentID, err)
	}
	defer release()

	t, err := s.loadActive(ctx, tournamentID)
	if err != nil {
		return nil, err
	}

	if t.CurrentRound == 0 {
		round, err := s.startRoundLocked(ctx, t)
		if err != nil {
			return nil, err
		}
		return &AdvanceResult{Tournament: t, Round: round}, nil
	}

	if err := s.ensureRoundCompleted(ctx, t); err != nil {
		return nil, err
	}

	participants, err := s.deps.Repos.Participants.ListByTournament(ctx, nil, t.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load participants of tournament %d: %w", t.ID, err)
	}

	if s.isFinished(t, participants) {
		return s.completeTournament(ctx, t, participants)
	}

	round, err := s.startRoundLocked(ctx, t)
	if err != nil {
		return nil, err
	}
	return &AdvanceResult{Tournament: t, Round: round}, nil
}

func (s *roundService) isFinished(t *models.Tournament, participants []models.Participant) bool {
	if t.Format == models.FormatElimination {
		return len(scoring.ActiveEntrants(t.Format, participants)) <= 1
	}
	return t.CurrentRound >= t.RoundCount
}

func (s *roundService) loadActive(ctx context.Context, tournamentID int) (*models.Tournament, error) {
	t, err := s.deps.Repos.Tournaments.GetByID(ctx, nil, tournamentID)
	if err != nil {
		return nil, mapRepoError(err)
	}
	if !t.IsActive() {
		return nil, ErrTournamentNotActive
	}
	return t, nil
}

func (s *roundService) ensureRoundCompleted(ctx context.Context, t *models.Tournament) error {
	if t.CurrentRound == 0 {
		return nil
	}
	current, err := s.deps.Repos.Rounds.GetByNumber(ctx, nil, t.ID, t.CurrentRound)
	if err != nil {
		return fmt.Errorf("failed to load round %d of tournament %d: %w", t.CurrentRound, t.ID, mapRepoError(err))
	}
	if current.IsCompleted() {
		return nil
	}
	pending, err := s.deps.Repos.Matches.CountPendingInRound(ctx, nil, current.ID)
	if err != nil {
		return err
	}
	return &RoundIncompleteError{RoundNumber: current.RoundNumber, Pending: pending}
}

// startRoundLocked must run while the tournament lock is held. Every collaborator call happens
// before the first write, so a failure leaves nothing behind but cancelled duels.
func (s *roundService) startRoundLocked(ctx context.Context, t *models.Tournament) (*models.Round, error) {
	started := time.Now()
	log := s.log.With("tournament_id", t.ID, "round", t.CurrentRound+1)

	if err := s.ensureRoundCompleted(ctx, t); err != nil {
		return nil, err
	}
	if t.Format != models.FormatElimination && t.CurrentRound >= t.RoundCount {
		return nil, ErrRoundLimitReached
	}

	participants, err := s.deps.Repos.Participants.ListByTournament(ctx, nil, t.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load participants of tournament %d: %w", t.ID, err)
	}
	active := scoring.ActiveEntrants(t.Format, participants)
	if len(active) < 2 {
		return nil, &InsufficientParticipantsError{Active: len(active)}
	}

	history, err := s.deps.Repos.Matches.ListByTournament(ctx, nil, t.ID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load match history of tournament %d: %w", t.ID, err)
	}

	pairings, err := s.pair(ctx, t.Format, active, history)
	if err != nil {
		return nil, err
	}

	problem, err := s.selectProblem(ctx, t, active)
	if err != nil {
		return nil, err
	}

	roundNumber := t.CurrentRound + 1
	refs, err := s.createDuels(ctx, t, roundNumber, *problem, pairings)
	if err != nil {
		log.Error("Duel creation failed, round not started", "error", err)
		return nil, err
	}

	round := &models.Round{
		TournamentID: t.ID,
		RoundNumber:  roundNumber,
		Status:       models.RoundStatusActive,
		Problem:      *problem,
	}

	err = s.deps.Repos.Tx.WithTx(ctx, func(exec repositories.SQLExecutor) error {
		return s.persistRound(ctx, exec, t, round, pairings, refs)
	})
	if err != nil {
		s.cancelDuels(ctx, refs)
		log.Error("Failed to persist round", "error", err)
		return nil, mapRepoError(err)
	}

	t.CurrentRound = roundNumber
	s.deps.Metrics.RoundStarted(string(t.Format), time.Since(started))
	log.Info("Round started", "matches", len(round.Matches), "problem", problem.ID())

	s.deps.Notifier.Publish(t.ID, models.EventRoundStarted, models.RoundStartedPayload{
		TournamentID: t.ID,
		Round:        *round,
		Matches:      round.Matches,
	})
	if round.IsCompleted() {
		s.deps.Notifier.Publish(t.ID, models.EventRoundCompleted, models.RoundCompletedPayload{
			TournamentID: t.ID,
			RoundNumber:  round.RoundNumber,
		})
	}
	return round, nil
}

func (s *roundService) pair(ctx context.Context, format models.TournamentFormat, active []models.Participant, history []models.Match) ([]brackets.Pairing, error) {
	generator, err := brackets.ForFormat(format)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFormat, err)
	}
	entrants := make([]brackets.Entrant, 0, len(active))
	for _, p := range active {
		entrants = append(entrants, brackets.Entrant{UserID: p.UserID, Score: p.Score, Seed: p.Seed})
	}
	pairings, err := generator.GeneratePairings(ctx, brackets.PairingParams{
		Entrants: entrants,
		History:  brackets.HistoryFromMatches(history),
		HadBye:   brackets.ByeRecipients(history),
	})
	if err != nil {
		if errors.Is(err, brackets.ErrNotEnoughParticipants) {
			return nil, &InsufficientParticipantsError{Active: len(active)}
		}
		return nil, fmt.Errorf("%s pairing failed: %w", generator.GetName(), err)
	}
	return pairings, nil
}

func (s *roundService) selectProblem(ctx context.Context, t *models.Tournament, active []models.Participant) (*models.Problem, error) {
	used, err := s.deps.Repos.Rounds.UsedProblemIDs(ctx, nil, t.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load used problems of tournament %d: %w", t.ID, err)
	}
	ids := make([]int64, 0, len(active))
	for _, p := range active {
		ids = append(ids, p.UserID)
	}
	problem, err := s.deps.Problems.SelectProblem(ctx, ProblemQuery{
		RatingRanges:       t.RatingRanges,
		Tags:               t.Tags,
		ExcludedProblemIDs: used,
		ParticipantIDs:     ids,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProblemSelectionFailed, err)
	}
	return problem, nil
}

// createDuels asks the challenge runner for every two-player pairing concurrently. On failure
// the duels that were created are cancelled again.
func (s *roundService) createDuels(ctx context.Context, t *models.Tournament, roundNumber int, problem models.Problem, pairings []brackets.Pairing) ([]string, error) {
	refs := make([]string, len(pairings))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range pairings {
		if p.IsBye() {
			continue
		}
		g.Go(func() error {
			ref, err := s.deps.Duels.CreateDuel(gctx, DuelRequest{
				TournamentID:   t.ID,
				RoundNumber:    roundNumber,
				MatchNumber:    i + 1,
				Problem:        problem,
				LengthMinutes:  t.LengthMinutes,
				ParticipantIDs: []int64{p.Player1, *p.Player2},
			})
			if err != nil {
				return fmt.Errorf("match %d (%d vs %d): %w", i+1, p.Player1, *p.Player2, err)
			}
			refs[i] = ref
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.cancelDuels(ctx, refs)
		return nil, fmt.Errorf("%w: %w", ErrDuelCreationFailed, err)
	}
	return refs, nil
}

func (s *roundService) cancelDuels(ctx context.Context, refs []string) {
	ctx = context.WithoutCancel(ctx)
	for _, ref := range refs {
		if ref == "" {
			continue
		}
		if err := s.deps.Duels.CancelDuel(ctx, ref); err != nil {
			s.log.Warn("Failed to cancel orphaned duel", "challenge_ref", ref, "error", err)
		}
	}
}

func (s *roundService) persistRound(ctx context.Context, exec repositories.SQLExecutor, t *models.Tournament, round *models.Round, pairings []brackets.Pairing, refs []string) error {
	locked, err := s.deps.Repos.Tournaments.GetByIDForUpdate(ctx, exec, t.ID)
	if err != nil {
		return err
	}
	if !locked.IsActive() {
		return ErrTournamentNotActive
	}
	if locked.CurrentRound != t.CurrentRound {
		return ErrRoundAlreadyActive
	}

	if err := s.deps.Repos.Rounds.Create(ctx, exec, round); err != nil {
		if errors.Is(err, repositories.ErrRoundConflict) {
			return ErrRoundAlreadyActive
		}
		return err
	}

	participants, err := s.deps.Repos.Participants.ListByTournament(ctx, exec, t.ID)
	if err != nil {
		return err
	}
	byUser := make(map[int64]*models.Participant, len(participants))
	for i := range participants {
		byUser[participants[i].UserID] = &participants[i]
	}

	now := time.Now().UTC()
	allByes := true
	round.Matches = make([]models.Match, 0, len(pairings))
	for i, p := range pairings {
		match := models.Match{
			TournamentID: t.ID,
			RoundID:      round.ID,
			RoundNumber:  round.RoundNumber,
			MatchNumber:  i + 1,
			Player1ID:    p.Player1,
			Player2ID:    p.Player2,
		}
		if p.IsBye() {
			winner := p.Player1
			match.Status = models.MatchStatusBye
			match.WinnerID = &winner
			match.CompletedAt = &now
		} else {
			ref := refs[i]
			match.Status = models.MatchStatusPending
			match.ChallengeRef = &ref
			allByes = false
		}
		if err := s.deps.Repos.Matches.Create(ctx, exec, &match); err != nil {
			return err
		}
		if p.IsBye() {
			touched, err := scoring.ApplyOutcome(t.Format, byUser, scoring.ByeOutcome(p.Player1))
			if err != nil {
				return fmt.Errorf("failed to credit bye to %d: %w", p.Player1, err)
			}
			for _, participant := range touched {
				if err := s.deps.Repos.Participants.UpdateRecord(ctx, exec, participant); err != nil {
					return err
				}
			}
		}
		round.Matches = append(round.Matches, match)
	}

	if allByes {
		if _, err := s.deps.Repos.Rounds.MarkCompleted(ctx, exec, round.ID); err != nil {
			return err
		}
		round.Status = models.RoundStatusCompleted
		round.CompletedAt = &now
	}

	return s.deps.Repos.Tournaments.SetCurrentRound(ctx, exec, t.ID, round.RoundNumber)
}

func (s *roundService) completeTournament(ctx context.Context, t *models.Tournament, participants []models.Participant) (*AdvanceResult, error) {
	matches, err := s.deps.Repos.Matches.ListByTournament(ctx, nil, t.ID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load matches of tournament %d: %w", t.ID, err)
	}
	standings := scoring.CalculateStandings(t.Format, participants, matches)
	winner := scoring.Winner(t.Format, standings)

	var winnerID *int64
	if winner != nil {
		id := winner.UserID
		winnerID = &id
	}

	err = s.deps.Repos.Tx.WithTx(ctx, func(exec repositories.SQLExecutor) error {
		changed, err := s.deps.Repos.Tournaments.Complete(ctx, exec, t.ID, winnerID)
		if err != nil {
			return err
		}
		if !changed {
			return ErrTournamentNotActive
		}
		return nil
	})
	if err != nil {
		return nil, mapRepoError(err)
	}

	t.Status = models.StatusCompleted
	t.WinnerID = winnerID
	s.deps.Metrics.TournamentFinished(string(models.StatusCompleted))
	s.log.Info("Tournament completed", "tournament_id", t.ID, "winner_id", winnerID, "rounds", t.CurrentRound)

	result := &AdvanceResult{Completed: true, Tournament: t, Winner: winner, Standings: standings}
	if s.deps.Archiver != nil {
		url, err := s.deps.Archiver.ArchiveStandings(ctx, t, standings)
		if err != nil {
			s.log.Warn("Failed to archive final standings", "tournament_id", t.ID, "error", err)
		} else {
			result.ArchiveURL = url
		}
	}

	s.deps.Notifier.Publish(t.ID, models.EventTournamentCompleted, models.TournamentCompletedPayload{
		TournamentID: t.ID,
		WinnerID:     winnerID,
		Standings:    standings,
		ArchiveURL:   result.ArchiveURL,
	})
	return result, nil
}
