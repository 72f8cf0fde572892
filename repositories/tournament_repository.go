package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Dosada05/duel-tournament/models"
	"github.com/lib/pq"
)

var (
	ErrTournamentNotFound     = errors.New("tournament not found")
	ErrActiveTournamentExists = errors.New("guild already has an active tournament")
	ErrCurrentRoundRegression = errors.New("current round can only move forward")
)

const activeTournamentPerGuildIndex = "tournaments_one_active_per_guild"

type ListTournamentsFilter struct {
	GuildID *string
	Status  *models.TournamentStatus
	Limit   int
	Offset  int
}

type TournamentRepository interface {
	Create(ctx context.Context, exec SQLExecutor, tournament *models.Tournament) error
	GetByID(ctx context.Context, exec SQLExecutor, id int) (*models.Tournament, error)
	// GetByIDForUpdate locks the tournament row until the surrounding transaction ends.
	GetByIDForUpdate(ctx context.Context, exec SQLExecutor, id int) (*models.Tournament, error)
	GetActiveByGuild(ctx context.Context, exec SQLExecutor, guildID string) (*models.Tournament, error)
	List(ctx context.Context, filter ListTournamentsFilter) ([]models.Tournament, error)
	SetCurrentRound(ctx context.Context, exec SQLExecutor, id int, round int) error
	Complete(ctx context.Context, exec SQLExecutor, id int, winnerID *int64) (bool, error)
	Cancel(ctx context.Context, exec SQLExecutor, id int) (bool, error)
}

type postgresTournamentRepository struct {
	db *sql.DB
}

func NewPostgresTournamentRepository(db *sql.DB) TournamentRepository {
	return &postgresTournamentRepository{db: db}
}

const tournamentColumns = `
	id, guild_id, channel_id, host_user_id, format, status, length_minutes,
	round_count, current_round, rating_ranges, tags, winner_user_id, created_at, updated_at`

func (r *postgresTournamentRepository) Create(ctx context.Context, exec SQLExecutor, t *models.Tournament) error {
	ranges, err := json.Marshal(t.RatingRanges)
	if err != nil {
		return fmt.Errorf("failed to encode rating ranges: %w", err)
	}
	query := `
		INSERT INTO tournaments (
			guild_id, channel_id, host_user_id, format, status, length_minutes,
			round_count, current_round, rating_ranges, tags
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at`

	err = executorOr(r.db, exec).QueryRowContext(ctx, query,
		t.GuildID, t.ChannelID, t.HostID, t.Format, t.Status, t.LengthMinutes,
		t.RoundCount, t.CurrentRound, ranges, pq.Array(t.Tags),
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)

	return r.handleTournamentError(err)
}

func (r *postgresTournamentRepository) GetByID(ctx context.Context, exec SQLExecutor, id int) (*models.Tournament, error) {
	query := `SELECT` + tournamentColumns + ` FROM tournaments WHERE id = $1`
	return r.getOne(ctx, exec, query, id)
}

func (r *postgresTournamentRepository) GetByIDForUpdate(ctx context.Context, exec SQLExecutor, id int) (*models.Tournament, error) {
	query := `SELECT` + tournamentColumns + ` FROM tournaments WHERE id = $1 FOR UPDATE`
	return r.getOne(ctx, exec, query, id)
}

func (r *postgresTournamentRepository) GetActiveByGuild(ctx context.Context, exec SQLExecutor, guildID string) (*models.Tournament, error) {
	query := `SELECT` + tournamentColumns + ` FROM tournaments WHERE guild_id = $1 AND status = $2`
	return r.getOne(ctx, exec, query, guildID, models.StatusActive)
}

func (r *postgresTournamentRepository) getOne(ctx context.Context, exec SQLExecutor, query string, args ...interface{}) (*models.Tournament, error) {
	t, err := scanTournament(executorOr(r.db, exec).QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTournamentNotFound
		}
		return nil, fmt.Errorf("failed to scan tournament: %w", err)
	}
	return t, nil
}

func (r *postgresTournamentRepository) List(ctx context.Context, filter ListTournamentsFilter) ([]models.Tournament, error) {
	query := `SELECT` + tournamentColumns + ` FROM tournaments WHERE 1=1`

	args := []interface{}{}
	argID := 1

	if filter.GuildID != nil {
		query += fmt.Sprintf(" AND guild_id = $%d", argID)
		args = append(args, *filter.GuildID)
		argID++
	}
	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argID)
		args = append(args, *filter.Status)
		argID++
	}

	query += " ORDER BY created_at DESC, id DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argID)
		args = append(args, filter.Limit)
		argID++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argID)
		args = append(args, filter.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tournaments: %w", err)
	}
	defer rows.Close()

	tournaments := make([]models.Tournament, 0)
	for rows.Next() {
		t, scanErr := scanTournament(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan tournament row: %w", scanErr)
		}
		tournaments = append(tournaments, *t)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during tournament rows iteration: %w", err)
	}
	return tournaments, nil
}

// SetCurrentRound only ever moves current_round forward.
func (r *postgresTournamentRepository) SetCurrentRound(ctx context.Context, exec SQLExecutor, id int, round int) error {
	query := `
		UPDATE tournaments SET current_round = $1, updated_at = NOW()
		WHERE id = $2 AND current_round < $1`
	result, err := executorOr(r.db, exec).ExecContext(ctx, query, round, id)
	if err != nil {
		return fmt.Errorf("failed to advance current round of tournament %d: %w", id, err)
	}
	return checkAffectedRows(result, ErrCurrentRoundRegression)
}

func (r *postgresTournamentRepository) Complete(ctx context.Context, exec SQLExecutor, id int, winnerID *int64) (bool, error) {
	query := `
		UPDATE tournaments SET status = $1, winner_user_id = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4`
	result, err := executorOr(r.db, exec).ExecContext(ctx, query, models.StatusCompleted, winnerID, id, models.StatusActive)
	if err != nil {
		return false, fmt.Errorf("failed to complete tournament %d: %w", id, err)
	}
	return affected(result)
}

func (r *postgresTournamentRepository) Cancel(ctx context.Context, exec SQLExecutor, id int) (bool, error) {
	query := `
		UPDATE tournaments SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3`
	result, err := executorOr(r.db, exec).ExecContext(ctx, query, models.StatusCancelled, id, models.StatusActive)
	if err != nil {
		return false, fmt.Errorf("failed to cancel tournament %d: %w", id, err)
	}
	return affected(result)
}

func scanTournament(row rowScanner) (*models.Tournament, error) {
	var (
		t      models.Tournament
		ranges []byte
		tags   pq.StringArray
		winner sql.NullInt64
	)
	err := row.Scan(
		&t.ID, &t.GuildID, &t.ChannelID, &t.HostID, &t.Format, &t.Status, &t.LengthMinutes,
		&t.RoundCount, &t.CurrentRound, &ranges, &tags, &winner, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(ranges) > 0 {
		if err := json.Unmarshal(ranges, &t.RatingRanges); err != nil {
			return nil, fmt.Errorf("failed to decode rating ranges: %w", err)
		}
	}
	t.Tags = []string(tags)
	if winner.Valid {
		w := winner.Int64
		t.WinnerID = &w
	}
	return &t, nil
}

func (r *postgresTournamentRepository) handleTournamentError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505": // unique_violation
			if pqErr.Constraint == activeTournamentPerGuildIndex {
				return ErrActiveTournamentExists
			}
		}
	}
	return err
}
