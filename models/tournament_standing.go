package models

// Standing is one computed row of the tournament table. It is never persisted.
type Standing struct {
	Rank          int     `json:"rank"`
	UserID        int64   `json:"user_id"`
	Seed          int     `json:"seed"`
	Score         float64 `json:"score"`
	Wins          int     `json:"wins"`
	Losses        int     `json:"losses"`
	Draws         int     `json:"draws"`
	Tiebreak      float64 `json:"tiebreak"`
	MatchesPlayed int     `json:"matches_played"`
	Eliminated    bool    `json:"eliminated"`
}
