// Package scoring resolves duel outcomes, applies them to participant records and ranks the
// tournament table.
package scoring

import (
	"errors"
	"sort"
	"time"

	"github.com/Dosada05/duel-tournament/models"
)

var ErrNotEnoughResults = errors.New("outcome needs results for two participants")

// ParticipantResult is what the challenge runner reports for one side of a duel.
type ParticipantResult struct {
	UserID   int64      `json:"user_id"`
	SolvedAt *time.Time `json:"solved_at,omitempty"`
}

// Outcome of a single match. WinnerID and LoserID are zero for a draw; Players always names
// both sides.
type Outcome struct {
	WinnerID int64
	LoserID  int64
	IsDraw   bool
	Players  [2]int64
}

// Winner returns the winning user, or nil for a draw.
func (o Outcome) Winner() *int64 {
	if o.IsDraw || o.WinnerID == 0 {
		return nil
	}
	w := o.WinnerID
	return &w
}

// ForcedDecision reports whether a format must turn every tie into a win and a loss.
func ForcedDecision(format models.TournamentFormat) bool {
	return format == models.FormatElimination
}

// ResolveOutcome decides a duel from the participants' solve times.
// The earliest solve wins. When nobody solved, or both solved at the same instant, the duel is
// a draw unless forcedDecision is set, in which case the lower seed advances.
func ResolveOutcome(results []ParticipantResult, seeds map[int64]int, forcedDecision bool) (Outcome, error) {
	if len(results) < 2 {
		return Outcome{}, ErrNotEnoughResults
	}

	ranked := make([]ParticipantResult, len(results))
	copy(ranked, results)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i].SolvedAt, ranked[j].SolvedAt
		switch {
		case a != nil && b != nil:
			return a.Before(*b)
		case a != nil:
			return true
		default:
			return false
		}
	})

	first, second := ranked[0], ranked[1]
	if first.UserID == second.UserID {
		return Outcome{}, ErrNotEnoughResults
	}
	players := [2]int64{first.UserID, second.UserID}

	if first.SolvedAt != nil && (second.SolvedAt == nil || first.SolvedAt.Before(*second.SolvedAt)) {
		return Outcome{WinnerID: first.UserID, LoserID: second.UserID, Players: players}, nil
	}

	if !forcedDecision {
		return Outcome{IsDraw: true, Players: players}, nil
	}
	if seedOf(seeds, second.UserID) < seedOf(seeds, first.UserID) {
		first, second = second, first
	}
	return Outcome{WinnerID: first.UserID, LoserID: second.UserID, Players: players}, nil
}

func seedOf(seeds map[int64]int, userID int64) int {
	if s, ok := seeds[userID]; ok {
		return s
	}
	return int(^uint(0) >> 1)
}
