package brackets

import (
	"context"
	"errors"
	"fmt"

	"github.com/Dosada05/duel-tournament/models"
)

var ErrNotEnoughParticipants = errors.New("not enough participants to pair (minimum 2)")

// Entrant is the pairing view of an active participant.
type Entrant struct {
	UserID int64
	Score  float64
	Seed   int
}

// Pairing is one match of a round; a nil Player2 is a bye for Player1.
type Pairing struct {
	Player1 int64
	Player2 *int64
}

func (p Pairing) IsBye() bool {
	return p.Player2 == nil
}

// History records which pairs already met. Keys are ordered so lookups are symmetric.
type History map[[2]int64]struct{}

func NewHistory() History {
	return make(History)
}

func pairKey(a, b int64) [2]int64 {
	if a > b {
		a, b = b, a
	}
	return [2]int64{a, b}
}

func (h History) Add(a, b int64) {
	h[pairKey(a, b)] = struct{}{}
}

func (h History) Played(a, b int64) bool {
	if h == nil {
		return false
	}
	_, ok := h[pairKey(a, b)]
	return ok
}

// HistoryFromMatches builds pairing history from every non-bye match of a tournament.
func HistoryFromMatches(matches []models.Match) History {
	h := NewHistory()
	for _, m := range matches {
		if m.Player2ID == nil {
			continue
		}
		h.Add(m.Player1ID, *m.Player2ID)
	}
	return h
}

// ByeRecipients returns the users that already received a bye.
func ByeRecipients(matches []models.Match) map[int64]bool {
	byes := make(map[int64]bool)
	for _, m := range matches {
		if m.Status == models.MatchStatusBye {
			byes[m.Player1ID] = true
		}
	}
	return byes
}

type PairingParams struct {
	Entrants []Entrant
	History  History
	HadBye   map[int64]bool
}

type PairingGenerator interface {
	GeneratePairings(ctx context.Context, params PairingParams) ([]Pairing, error)

	GetName() string
}

// ForFormat is the single place where a tournament format picks its pairing strategy.
func ForFormat(format models.TournamentFormat) (PairingGenerator, error) {
	switch format {
	case models.FormatSwiss, models.FormatArena:
		return NewSwissGenerator(), nil
	case models.FormatElimination:
		return NewSingleEliminationGenerator(), nil
	default:
		return nil, fmt.Errorf("unsupported tournament format '%s'", format)
	}
}

func int64Ptr(v int64) *int64 {
	return &v
}
