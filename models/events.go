package models

// Event types pushed to tournament rooms over the websocket hub.
const (
	EventRoundStarted        = "ROUND_STARTED"
	EventMatchCompleted      = "MATCH_COMPLETED"
	EventRoundCompleted      = "ROUND_COMPLETED"
	EventTournamentCompleted = "TOURNAMENT_COMPLETED"
	EventTournamentCancelled = "TOURNAMENT_CANCELLED"
)

type RoundStartedPayload struct {
	TournamentID int     `json:"tournament_id"`
	Round        Round   `json:"round"`
	Matches      []Match `json:"matches"`
}

type MatchCompletedPayload struct {
	TournamentID int    `json:"tournament_id"`
	RoundNumber  int    `json:"round_number"`
	MatchID      int    `json:"match_id"`
	WinnerID     *int64 `json:"winner_id,omitempty"`
	IsDraw       bool   `json:"is_draw"`
}

type RoundCompletedPayload struct {
	TournamentID int `json:"tournament_id"`
	RoundNumber  int `json:"round_number"`
}

type TournamentCompletedPayload struct {
	TournamentID int        `json:"tournament_id"`
	WinnerID     *int64     `json:"winner_id,omitempty"`
	Standings    []Standing `json:"standings"`
	ArchiveURL   string     `json:"archive_url,omitempty"`
}

type TournamentCancelledPayload struct {
	TournamentID int `json:"tournament_id"`
}
