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
	ErrParticipantNotFound          = errors.New("participant not found")
	ErrParticipantConflict          = errors.New("participant conflict: user already registered for this tournament")
	ErrParticipantTournamentInvalid = errors.New("participant tournament conflict or invalid")
)

type ParticipantRepository interface {
	Create(ctx context.Context, exec SQLExecutor, p *models.Participant) error
	ListByTournament(ctx context.Context, exec SQLExecutor, tournamentID int) ([]models.Participant, error)
	// UpdateRecord persists score, win/loss/draw counters and the eliminated flag.
	UpdateRecord(ctx context.Context, exec SQLExecutor, p *models.Participant) error
}

type postgresParticipantRepository struct {
	db *sql.DB
}

func NewPostgresParticipantRepository(db *sql.DB) ParticipantRepository {
	return &postgresParticipantRepository{db: db}
}

func (r *postgresParticipantRepository) Create(ctx context.Context, exec SQLExecutor, p *models.Participant) error {
	query := `
		INSERT INTO participants (tournament_id, user_id, seed, score, wins, losses, draws, eliminated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`

	err := executorOr(r.db, exec).QueryRowContext(ctx, query,
		p.TournamentID, p.UserID, p.Seed, p.Score, p.Wins, p.Losses, p.Draws, p.Eliminated,
	).Scan(&p.ID, &p.CreatedAt)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) {
			switch pqErr.Code {
			case "23505": // unique_violation
				if pqErr.Constraint == "participants_tournament_id_user_id_key" {
					return ErrParticipantConflict
				}
			case "23503": // foreign_key_violation
				if pqErr.Constraint == "participants_tournament_id_fkey" {
					return ErrParticipantTournamentInvalid
				}
			}
		}
		return fmt.Errorf("failed to create participant: %w", err)
	}
	return nil
}

func (r *postgresParticipantRepository) ListByTournament(ctx context.Context, exec SQLExecutor, tournamentID int) ([]models.Participant, error) {
	query := `
		SELECT id, tournament_id, user_id, seed, score, wins, losses, draws, eliminated, created_at
		FROM participants
		WHERE tournament_id = $1
		ORDER BY seed ASC`

	rows, err := executorOr(r.db, exec).QueryContext(ctx, query, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query participants for tournament %d: %w", tournamentID, err)
	}
	defer rows.Close()

	participants := make([]models.Participant, 0)
	for rows.Next() {
		var p models.Participant
		if scanErr := rows.Scan(
			&p.ID, &p.TournamentID, &p.UserID, &p.Seed, &p.Score,
			&p.Wins, &p.Losses, &p.Draws, &p.Eliminated, &p.CreatedAt,
		); scanErr != nil {
			return nil, fmt.Errorf("failed to scan participant row: %w", scanErr)
		}
		participants = append(participants, p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during participant rows iteration: %w", err)
	}
	return participants, nil
}

func (r *postgresParticipantRepository) UpdateRecord(ctx context.Context, exec SQLExecutor, p *models.Participant) error {
	query := `
		UPDATE participants
		SET score = $1, wins = $2, losses = $3, draws = $4, eliminated = $5
		WHERE id = $6`
	result, err := executorOr(r.db, exec).ExecContext(ctx, query,
		p.Score, p.Wins, p.Losses, p.Draws, p.Eliminated, p.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update participant %d record: %w", p.ID, err)
	}
	return checkAffectedRows(result, ErrParticipantNotFound)
}
