package models

import "time"

type RoundStatus string

const (
	RoundStatusActive    RoundStatus = "active"
	RoundStatusCompleted RoundStatus = "completed"
)

type Round struct {
	ID           int         `json:"id" db:"id"`
	TournamentID int         `json:"tournament_id" db:"tournament_id"`
	RoundNumber  int         `json:"round_number" db:"round_number"`
	Status       RoundStatus `json:"status" db:"status"`
	Problem      Problem     `json:"problem" db:"-"`
	CreatedAt    time.Time   `json:"created_at" db:"created_at"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty" db:"completed_at"`

	Matches []Match `json:"matches,omitempty" db:"-"`
}

func (r *Round) IsCompleted() bool {
	return r != nil && r.Status == RoundStatusCompleted
}
