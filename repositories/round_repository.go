package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Dosada05/duel-tournament/models"
	"github.com/lib/pq"
)

var (
	ErrRoundNotFound = errors.New("round not found")
	ErrRoundConflict = errors.New("round number already exists for this tournament")
)

type RoundRepository interface {
	Create(ctx context.Context, exec SQLExecutor, round *models.Round) error
	GetByNumber(ctx context.Context, exec SQLExecutor, tournamentID, roundNumber int) (*models.Round, error)
	ListByTournament(ctx context.Context, exec SQLExecutor, tournamentID int) ([]models.Round, error)
	// MarkCompleted flips an active round to completed; false means it already was.
	MarkCompleted(ctx context.Context, exec SQLExecutor, roundID int) (bool, error)
	UsedProblemIDs(ctx context.Context, exec SQLExecutor, tournamentID int) ([]string, error)
}

type postgresRoundRepository struct {
	db *sql.DB
}

func NewPostgresRoundRepository(db *sql.DB) RoundRepository {
	return &postgresRoundRepository{db: db}
}

const roundColumns = `
	id, tournament_id, round_number, status, problem_contest_id, problem_index,
	problem_name, problem_rating, problem_tags, created_at, completed_at`

func (r *postgresRoundRepository) Create(ctx context.Context, exec SQLExecutor, round *models.Round) error {
	query := `
		INSERT INTO rounds (
			tournament_id, round_number, status, problem_contest_id, problem_index,
			problem_name, problem_rating, problem_tags, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at`

	err := executorOr(r.db, exec).QueryRowContext(ctx, query,
		round.TournamentID, round.RoundNumber, round.Status,
		round.Problem.ContestID, round.Problem.Index, round.Problem.Name, round.Problem.Rating,
		pq.Array(round.Problem.Tags), round.CompletedAt,
	).Scan(&round.ID, &round.CreatedAt)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" && pqErr.Constraint == "rounds_tournament_id_round_number_key" {
			return ErrRoundConflict
		}
		return fmt.Errorf("failed to create round %d for tournament %d: %w", round.RoundNumber, round.TournamentID, err)
	}
	return nil
}

func (r *postgresRoundRepository) GetByNumber(ctx context.Context, exec SQLExecutor, tournamentID, roundNumber int) (*models.Round, error) {
	query := `SELECT` + roundColumns + ` FROM rounds WHERE tournament_id = $1 AND round_number = $2`
	round, err := scanRound(executorOr(r.db, exec).QueryRowContext(ctx, query, tournamentID, roundNumber))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRoundNotFound
		}
		return nil, fmt.Errorf("failed to scan round %d of tournament %d: %w", roundNumber, tournamentID, err)
	}
	return round, nil
}

func (r *postgresRoundRepository) ListByTournament(ctx context.Context, exec SQLExecutor, tournamentID int) ([]models.Round, error) {
	query := `SELECT` + roundColumns + ` FROM rounds WHERE tournament_id = $1 ORDER BY round_number ASC`
	rows, err := executorOr(r.db, exec).QueryContext(ctx, query, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rounds for tournament %d: %w", tournamentID, err)
	}
	defer rows.Close()

	rounds := make([]models.Round, 0)
	for rows.Next() {
		round, scanErr := scanRound(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan round row: %w", scanErr)
		}
		rounds = append(rounds, *round)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during round rows iteration: %w", err)
	}
	return rounds, nil
}

func (r *postgresRoundRepository) MarkCompleted(ctx context.Context, exec SQLExecutor, roundID int) (bool, error) {
	query := `UPDATE rounds SET status = $1, completed_at = NOW() WHERE id = $2 AND status = $3`
	result, err := executorOr(r.db, exec).ExecContext(ctx, query, models.RoundStatusCompleted, roundID, models.RoundStatusActive)
	if err != nil {
		return false, fmt.Errorf("failed to complete round %d: %w", roundID, err)
	}
	return affected(result)
}

func scanRound(row rowScanner) (*models.Round, error) {
	var (
		round models.Round
		tags  pq.StringArray
	)
	err := row.Scan(
		&round.ID, &round.TournamentID, &round.RoundNumber, &round.Status,
		&round.Problem.ContestID, &round.Problem.Index, &round.Problem.Name, &round.Problem.Rating,
		&tags, &round.CreatedAt, &round.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	round.Problem.Tags = []string(tags)
	return &round, nil
}

func (r *postgresRoundRepository) UsedProblemIDs(ctx context.Context, exec SQLExecutor, tournamentID int) ([]string, error) {
	query := `
		SELECT problem_contest_id, problem_index
		FROM rounds
		WHERE tournament_id = $1
		ORDER BY round_number ASC`
	rows, err := executorOr(r.db, exec).QueryContext(ctx, query, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query used problems for tournament %d: %w", tournamentID, err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var p models.Problem
		if scanErr := rows.Scan(&p.ContestID, &p.Index); scanErr != nil {
			return nil, fmt.Errorf("failed to scan used problem row: %w", scanErr)
		}
		ids = append(ids, p.ID())
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during used problem rows iteration: %w", err)
	}
	return ids, nil
}
