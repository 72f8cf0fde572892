package models

import "time"

type MatchStatus string

const (
	MatchStatusPending   MatchStatus = "pending"
	MatchStatusCompleted MatchStatus = "completed"
	MatchStatusBye       MatchStatus = "bye"
	MatchStatusCancelled MatchStatus = "cancelled"
)

// Match is one head-to-head duel of a round. A nil Player2ID marks a bye.
type Match struct {
	ID           int         `json:"id" db:"id"`
	TournamentID int         `json:"tournament_id" db:"tournament_id"`
	RoundID      int         `json:"round_id" db:"round_id"`
	RoundNumber  int         `json:"round_number" db:"round_number"`
	MatchNumber  int         `json:"match_number" db:"match_number"`
	Player1ID    int64       `json:"player1_id" db:"player1_user_id"`
	Player2ID    *int64      `json:"player2_id,omitempty" db:"player2_user_id"`
	ChallengeRef *string     `json:"challenge_ref,omitempty" db:"challenge_ref"`
	WinnerID     *int64      `json:"winner_id,omitempty" db:"winner_user_id"`
	Status       MatchStatus `json:"status" db:"status"`
	CreatedAt    time.Time   `json:"created_at" db:"created_at"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty" db:"completed_at"`
}

func (m *Match) IsBye() bool {
	return m.Player2ID == nil
}

// Opponent returns the other player of the match, if any.
func (m *Match) Opponent(userID int64) (int64, bool) {
	if m.Player2ID == nil {
		return 0, false
	}
	switch userID {
	case m.Player1ID:
		return *m.Player2ID, true
	case *m.Player2ID:
		return m.Player1ID, true
	}
	return 0, false
}
