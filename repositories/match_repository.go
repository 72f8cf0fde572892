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
	ErrMatchNotFound = errors.New("match not found")
	ErrMatchConflict = errors.New("match conflict: duplicate match number or challenge reference")
)

type MatchRepository interface {
	Create(ctx context.Context, exec SQLExecutor, match *models.Match) error
	GetByChallengeRef(ctx context.Context, exec SQLExecutor, challengeRef string) (*models.Match, error)
	// GetByChallengeRefForUpdate locks the match row until the surrounding transaction ends.
	GetByChallengeRefForUpdate(ctx context.Context, exec SQLExecutor, challengeRef string) (*models.Match, error)
	// ListByTournament returns every match of the tournament, or only one round's when roundNumber is set.
	ListByTournament(ctx context.Context, exec SQLExecutor, tournamentID int, roundNumber *int) ([]models.Match, error)
	ListPending(ctx context.Context, exec SQLExecutor, tournamentID int) ([]models.Match, error)
	// MarkCompleted moves a pending match to completed. False means it was not pending anymore.
	MarkCompleted(ctx context.Context, exec SQLExecutor, matchID int, winnerID *int64) (bool, error)
	CancelPending(ctx context.Context, exec SQLExecutor, tournamentID int) (int64, error)
	// CountPendingInRound must be called on the same executor that wrote the match update.
	CountPendingInRound(ctx context.Context, exec SQLExecutor, roundID int) (int, error)
}

type postgresMatchRepository struct {
	db *sql.DB
}

func NewPostgresMatchRepository(db *sql.DB) MatchRepository {
	return &postgresMatchRepository{db: db}
}

const matchColumns = `
	id, tournament_id, round_id, round_number, match_number, player1_user_id, player2_user_id,
	challenge_ref, winner_user_id, status, created_at, completed_at`

func (r *postgresMatchRepository) Create(ctx context.Context, exec SQLExecutor, m *models.Match) error {
	query := `
		INSERT INTO matches (
			tournament_id, round_id, round_number, match_number, player1_user_id,
			player2_user_id, challenge_ref, winner_user_id, status, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at`

	err := executorOr(r.db, exec).QueryRowContext(ctx, query,
		m.TournamentID, m.RoundID, m.RoundNumber, m.MatchNumber, m.Player1ID,
		m.Player2ID, m.ChallengeRef, m.WinnerID, m.Status, m.CompletedAt,
	).Scan(&m.ID, &m.CreatedAt)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrMatchConflict
		}
		return fmt.Errorf("failed to create match %d of round %d: %w", m.MatchNumber, m.RoundNumber, err)
	}
	return nil
}

func (r *postgresMatchRepository) GetByChallengeRef(ctx context.Context, exec SQLExecutor, challengeRef string) (*models.Match, error) {
	return r.getByChallengeRef(ctx, exec, `SELECT`+matchColumns+` FROM matches WHERE challenge_ref = $1`, challengeRef)
}

func (r *postgresMatchRepository) GetByChallengeRefForUpdate(ctx context.Context, exec SQLExecutor, challengeRef string) (*models.Match, error) {
	return r.getByChallengeRef(ctx, exec, `SELECT`+matchColumns+` FROM matches WHERE challenge_ref = $1 FOR UPDATE`, challengeRef)
}

func (r *postgresMatchRepository) getByChallengeRef(ctx context.Context, exec SQLExecutor, query, challengeRef string) (*models.Match, error) {
	m, err := scanMatch(executorOr(r.db, exec).QueryRowContext(ctx, query, challengeRef))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMatchNotFound
		}
		return nil, fmt.Errorf("failed to scan match for challenge %s: %w", challengeRef, err)
	}
	return m, nil
}

func (r *postgresMatchRepository) ListByTournament(ctx context.Context, exec SQLExecutor, tournamentID int, roundNumber *int) ([]models.Match, error) {
	query := `SELECT` + matchColumns + ` FROM matches WHERE tournament_id = $1`
	args := []interface{}{tournamentID}
	if roundNumber != nil {
		query += ` AND round_number = $2`
		args = append(args, *roundNumber)
	}
	query += ` ORDER BY round_number ASC, match_number ASC`
	return r.list(ctx, exec, query, args...)
}

func (r *postgresMatchRepository) ListPending(ctx context.Context, exec SQLExecutor, tournamentID int) ([]models.Match, error) {
	query := `SELECT` + matchColumns + ` FROM matches WHERE tournament_id = $1 AND status = $2 ORDER BY round_number ASC, match_number ASC`
	return r.list(ctx, exec, query, tournamentID, models.MatchStatusPending)
}

func (r *postgresMatchRepository) list(ctx context.Context, exec SQLExecutor, query string, args ...interface{}) ([]models.Match, error) {
	rows, err := executorOr(r.db, exec).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query matches: %w", err)
	}
	defer rows.Close()

	matches := make([]models.Match, 0)
	for rows.Next() {
		m, scanErr := scanMatch(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan match row: %w", scanErr)
		}
		matches = append(matches, *m)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during match rows iteration: %w", err)
	}
	return matches, nil
}

func (r *postgresMatchRepository) MarkCompleted(ctx context.Context, exec SQLExecutor, matchID int, winnerID *int64) (bool, error) {
	query := `
		UPDATE matches SET status = $1, winner_user_id = $2, completed_at = NOW()
		WHERE id = $3 AND status = $4`
	result, err := executorOr(r.db, exec).ExecContext(ctx, query,
		models.MatchStatusCompleted, winnerID, matchID, models.MatchStatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("failed to complete match %d: %w", matchID, err)
	}
	return affected(result)
}

func (r *postgresMatchRepository) CancelPending(ctx context.Context, exec SQLExecutor, tournamentID int) (int64, error) {
	query := `UPDATE matches SET status = $1, completed_at = NOW() WHERE tournament_id = $2 AND status = $3`
	result, err := executorOr(r.db, exec).ExecContext(ctx, query,
		models.MatchStatusCancelled, tournamentID, models.MatchStatusPending,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel pending matches of tournament %d: %w", tournamentID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check affected rows: %w", err)
	}
	return n, nil
}

func (r *postgresMatchRepository) CountPendingInRound(ctx context.Context, exec SQLExecutor, roundID int) (int, error) {
	query := `SELECT COUNT(*) FROM matches WHERE round_id = $1 AND status = $2`
	var count int
	if err := executorOr(r.db, exec).QueryRowContext(ctx, query, roundID, models.MatchStatusPending).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count pending matches in round %d: %w", roundID, err)
	}
	return count, nil
}

func scanMatch(row rowScanner) (*models.Match, error) {
	var (
		m       models.Match
		player2 sql.NullInt64
		ref     sql.NullString
		winner  sql.NullInt64
	)
	err := row.Scan(
		&m.ID, &m.TournamentID, &m.RoundID, &m.RoundNumber, &m.MatchNumber, &m.Player1ID,
		&player2, &ref, &winner, &m.Status, &m.CreatedAt, &m.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	if player2.Valid {
		p2 := player2.Int64
		m.Player2ID = &p2
	}
	if ref.Valid {
		r := ref.String
		m.ChallengeRef = &r
	}
	if winner.Valid {
		w := winner.Int64
		m.WinnerID = &w
	}
	return &m, nil
}
