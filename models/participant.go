package models

import "time"

// Participant is a single player's entry in a tournament.
// Score holds half points for draws; it is only mutated through scoring.ApplyOutcome.
type Participant struct {
	ID           int       `json:"id" db:"id"`
	TournamentID int       `json:"tournament_id" db:"tournament_id"`
	UserID       int64     `json:"user_id" db:"user_id"`
	Seed         int       `json:"seed" db:"seed"`
	Score        float64   `json:"score" db:"score"`
	Wins         int       `json:"wins" db:"wins"`
	Losses       int       `json:"losses" db:"losses"`
	Draws        int       `json:"draws" db:"draws"`
	Eliminated   bool      `json:"eliminated" db:"eliminated"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}
