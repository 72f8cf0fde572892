package models

import "time"

// TournamentStatus mirrors the tournament_status enum in the database.
type TournamentStatus string

const (
	StatusActive    TournamentStatus = "active"
	StatusCompleted TournamentStatus = "completed"
	StatusCancelled TournamentStatus = "cancelled"
)

// TournamentFormat selects the pairing and scoring strategy.
type TournamentFormat string

const (
	FormatSwiss       TournamentFormat = "swiss"
	FormatElimination TournamentFormat = "elimination"
	FormatArena       TournamentFormat = "arena"
)

func (f TournamentFormat) Valid() bool {
	switch f {
	case FormatSwiss, FormatElimination, FormatArena:
		return true
	}
	return false
}

// RatingRange is an inclusive problem rating window passed through to the problem selector.
type RatingRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

func (r RatingRange) Contains(rating int) bool {
	return rating >= r.Min && rating <= r.Max
}

// Tournament is a multi-round duel competition hosted in a single guild.
type Tournament struct {
	ID            int              `json:"id" db:"id"`
	GuildID       string           `json:"guild_id" db:"guild_id"`
	ChannelID     string           `json:"channel_id" db:"channel_id"`
	HostID        int64            `json:"host_id" db:"host_id"`
	Format        TournamentFormat `json:"format" db:"format"`
	Status        TournamentStatus `json:"status" db:"status"`
	LengthMinutes int              `json:"length_minutes" db:"length_minutes"`
	RoundCount    int              `json:"round_count" db:"round_count"`
	CurrentRound  int              `json:"current_round" db:"current_round"`
	RatingRanges  []RatingRange    `json:"rating_ranges" db:"rating_ranges"` // stored as JSONB
	Tags          []string         `json:"tags" db:"tags"`
	WinnerID      *int64           `json:"winner_id,omitempty" db:"winner_user_id"`
	CreatedAt     time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at" db:"updated_at"`

	Participants []Participant `json:"participants,omitempty" db:"-"`
}

func (t *Tournament) IsActive() bool {
	return t != nil && t.Status == StatusActive
}
