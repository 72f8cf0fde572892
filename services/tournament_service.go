package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Dosada05/duel-tournament/brackets"
	"github.com/Dosada05/duel-tournament/models"
	"github.com/Dosada05/duel-tournament/repositories"
	"github.com/Dosada05/duel-tournament/scoring"
)

type CreateTournamentInput struct {
	GuildID        string                  `json:"guild_id"`
	ChannelID      string                  `json:"channel_id"`
	HostID         int64                   `json:"-"`
	Format         models.TournamentFormat `json:"format"`
	LengthMinutes  int                     `json:"length_minutes"`
	RoundCount     int                     `json:"round_count"`
	RatingRanges   []models.RatingRange    `json:"rating_ranges"`
	Tags           []string                `json:"tags"`
	ParticipantIDs []int64                 `json:"participant_ids"`
	// StartImmediately defaults to true when omitted.
	StartImmediately *bool `json:"start_immediately,omitempty"`
}

// CreateTournamentResult carries the new tournament and, when requested, its first round.
// RoundError is set when the tournament was created but round 1 could not be started.
type CreateTournamentResult struct {
	Tournament *models.Tournament `json:"tournament"`
	Round      *models.Round      `json:"round,omitempty"`
	RoundError string             `json:"round_error,omitempty"`
}

type CancelResult struct {
	NothingToCancel bool `json:"nothing_to_cancel"`
	CancelledDuels  int  `json:"cancelled_duels"`
	FailedDuels     int  `json:"failed_duels"`
}

type TournamentService interface {
	CreateTournament(ctx context.Context, input CreateTournamentInput) (*CreateTournamentResult, error)
	GetTournament(ctx context.Context, id int) (*models.Tournament, error)
	ListTournaments(ctx context.Context, filter repositories.ListTournamentsFilter) ([]models.Tournament, error)
	GetActiveTournament(ctx context.Context, guildID string) (*models.Tournament, error)
	GetStandings(ctx context.Context, id int) ([]models.Standing, error)
	GetCurrentRound(ctx context.Context, id int) (*models.Round, error)
	CancelTournament(ctx context.Context, id int) (*CancelResult, error)
	// EnsureHost returns ErrForbiddenOperation unless userID hosts the tournament.
	EnsureHost(ctx context.Context, id int, userID int64) error
}

type tournamentService struct {
	deps   Deps
	rounds RoundService
	log    *slog.Logger
}

func NewTournamentService(deps Deps, rounds RoundService) TournamentService {
	deps = deps.withDefaults()
	return &tournamentService{
		deps:   deps,
		rounds: rounds,
		log:    deps.Logger.With("component", "tournament_service"),
	}
}

func (s *tournamentService) validate(input *CreateTournamentInput) error {
	input.GuildID = strings.TrimSpace(input.GuildID)
	if input.GuildID == "" {
		return fmt.Errorf("%w: %w", ErrValidationFailed, ErrGuildRequired)
	}
	if !input.Format.Valid() {
		return fmt.Errorf("%w: %w", ErrValidationFailed, ErrInvalidFormat)
	}
	if input.LengthMinutes <= 0 {
		return fmt.Errorf("%w: %w", ErrValidationFailed, ErrInvalidLength)
	}
	if input.Format != models.FormatElimination && input.RoundCount < 1 {
		return fmt.Errorf("%w: %w", ErrValidationFailed, ErrInvalidRoundCount)
	}
	for _, r := range input.RatingRanges {
		if r.Min > r.Max {
			return fmt.Errorf("%w: %w", ErrValidationFailed, ErrInvalidRatingRange)
		}
	}
	if len(input.ParticipantIDs) < 2 {
		return fmt.Errorf("%w: %w", ErrValidationFailed, ErrTooFewParticipantsListed)
	}
	seen := make(map[int64]struct{}, len(input.ParticipantIDs))
	for _, id := range input.ParticipantIDs {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: %w (%d)", ErrValidationFailed, ErrDuplicateParticipant, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

func (s *tournamentService) CreateTournament(ctx context.Context, input CreateTournamentInput) (*CreateTournamentResult, error) {
	if err := s.validate(&input); err != nil {
		return nil, err
	}

	existing, err := s.deps.Repos.Tournaments.GetActiveByGuild(ctx, nil, input.GuildID)
	if err == nil && existing != nil {
		return nil, ErrActiveTournamentExists
	}
	if err != nil && !errors.Is(err, repositories.ErrTournamentNotFound) {
		return nil, fmt.Errorf("failed to check active tournament of guild %s: %w", input.GuildID, err)
	}

	roundCount := input.RoundCount
	if input.Format == models.FormatElimination {
		roundCount = brackets.RoundsNeeded(len(input.ParticipantIDs))
	}

	t := &models.Tournament{
		GuildID:       input.GuildID,
		ChannelID:     input.ChannelID,
		HostID:        input.HostID,
		Format:        input.Format,
		Status:        models.StatusActive,
		LengthMinutes: input.LengthMinutes,
		RoundCount:    roundCount,
		RatingRanges:  input.RatingRanges,
		Tags:          input.Tags,
	}
	if t.RatingRanges == nil {
		t.RatingRanges = []models.RatingRange{}
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}

	err = s.deps.Repos.Tx.WithTx(ctx, func(exec repositories.SQLExecutor) error {
		if err := s.deps.Repos.Tournaments.Create(ctx, exec, t); err != nil {
			return err
		}
		t.Participants = make([]models.Participant, 0, len(input.ParticipantIDs))
		for i, userID := range input.ParticipantIDs {
			p := models.Participant{TournamentID: t.ID, UserID: userID, Seed: i + 1}
			if err := s.deps.Repos.Participants.Create(ctx, exec, &p); err != nil {
				return fmt.Errorf("failed to register participant %d: %w", userID, err)
			}
			t.Participants = append(t.Participants, p)
		}
		return nil
	})
	if err != nil {
		return nil, mapRepoError(err)
	}
	s.log.Info("Tournament created", "tournament_id", t.ID, "guild_id", t.GuildID, "format", t.Format, "participants", len(t.Participants))

	result := &CreateTournamentResult{Tournament: t}
	if input.StartImmediately != nil && !*input.StartImmediately {
		return result, nil
	}

	round, err := s.rounds.StartRound(ctx, t.ID)
	if err != nil {
		s.log.Warn("Tournament created but first round failed to start", "tournament_id", t.ID, "error", err)
		result.RoundError = err.Error()
		return result, nil
	}
	t.CurrentRound = round.RoundNumber
	result.Round = round
	return result, nil
}

func (s *tournamentService) GetTournament(ctx context.Context, id int) (*models.Tournament, error) {
	t, err := s.deps.Repos.Tournaments.GetByID(ctx, nil, id)
	if err != nil {
		return nil, mapRepoError(err)
	}
	participants, err := s.deps.Repos.Participants.ListByTournament(ctx, nil, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load participants of tournament %d: %w", id, err)
	}
	t.Participants = participants
	return t, nil
}

func (s *tournamentService) ListTournaments(ctx context.Context, filter repositories.ListTournamentsFilter) ([]models.Tournament, error) {
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 20
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.deps.Repos.Tournaments.List(ctx, filter)
}

func (s *tournamentService) GetActiveTournament(ctx context.Context, guildID string) (*models.Tournament, error) {
	t, err := s.deps.Repos.Tournaments.GetActiveByGuild(ctx, nil, guildID)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return t, nil
}

func (s *tournamentService) GetStandings(ctx context.Context, id int) ([]models.Standing, error) {
	t, err := s.deps.Repos.Tournaments.GetByID(ctx, nil, id)
	if err != nil {
		return nil, mapRepoError(err)
	}
	participants, err := s.deps.Repos.Participants.ListByTournament(ctx, nil, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load participants of tournament %d: %w", id, err)
	}
	matches, err := s.deps.Repos.Matches.ListByTournament(ctx, nil, id, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load matches of tournament %d: %w", id, err)
	}
	return scoring.CalculateStandings(t.Format, participants, matches), nil
}

func (s *tournamentService) GetCurrentRound(ctx context.Context, id int) (*models.Round, error) {
	t, err := s.deps.Repos.Tournaments.GetByID(ctx, nil, id)
	if err != nil {
		return nil, mapRepoError(err)
	}
	if t.CurrentRound == 0 {
		return nil, ErrRoundNotFound
	}
	round, err := s.deps.Repos.Rounds.GetByNumber(ctx, nil, id, t.CurrentRound)
	if err != nil {
		return nil, mapRepoError(err)
	}
	matches, err := s.deps.Repos.Matches.ListByTournament(ctx, nil, id, &round.RoundNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to load matches of round %d: %w", round.RoundNumber, err)
	}
	round.Matches = matches
	return round, nil
}

func (s *tournamentService) EnsureHost(ctx context.Context, id int, userID int64) error {
	t, err := s.deps.Repos.Tournaments.GetByID(ctx, nil, id)
	if err != nil {
		return mapRepoError(err)
	}
	if t.HostID != userID {
		return ErrForbiddenOperation
	}
	return nil
}

func (s *tournamentService) CancelTournament(ctx context.Context, id int) (*CancelResult, error) {
	release, err := s.deps.Locker.Lock(ctx, tournamentLockKey(id))
	if err != nil {
		return nil, fmt.Errorf("failed to lock tournament %d: %w", id, err)
	}
	defer release()

	t, err := s.deps.Repos.Tournaments.GetByID(ctx, nil, id)
	if err != nil {
		return nil, mapRepoError(err)
	}
	if !t.IsActive() {
		return &CancelResult{NothingToCancel: true}, nil
	}

	pending, err := s.deps.Repos.Matches.ListPending(ctx, nil, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending matches of tournament %d: %w", id, err)
	}

	result := &CancelResult{}
	for _, m := range pending {
		if m.ChallengeRef == nil {
			continue
		}
		if err := s.deps.Duels.CancelDuel(ctx, *m.ChallengeRef); err != nil {
			result.FailedDuels++
			s.log.Warn("Failed to cancel duel", "tournament_id", id, "challenge_ref", *m.ChallengeRef, "error", err)
			continue
		}
		result.CancelledDuels++
	}

	err = s.deps.Repos.Tx.WithTx(ctx, func(exec repositories.SQLExecutor) error {
		changed, err := s.deps.Repos.Tournaments.Cancel(ctx, exec, id)
		if err != nil {
			return err
		}
		if !changed {
			result.NothingToCancel = true
			return nil
		}
		_, err = s.deps.Repos.Matches.CancelPending(ctx, exec, id)
		return err
	})
	if err != nil {
		return nil, mapRepoError(err)
	}
	if result.NothingToCancel {
		return result, nil
	}

	s.deps.Metrics.TournamentFinished(string(models.StatusCancelled))
	s.log.Info("Tournament cancelled", "tournament_id", id, "cancelled_duels", result.CancelledDuels, "failed_duels", result.FailedDuels)
	s.deps.Notifier.Publish(id, models.EventTournamentCancelled, models.TournamentCancelledPayload{TournamentID: id})
	return result, nil
}
