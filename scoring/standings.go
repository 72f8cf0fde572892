package scoring

import (
	"sort"

	"github.com/Dosada05/duel-tournament/models"
)

// CalculateStandings ranks every participant of a tournament.
//
// Tiebreak is the sum of the current scores of all opponents met in non-bye, non-cancelled
// matches, so it
// moves as opponents keep playing. Ordering: alive before eliminated (elimination only),
// score, tiebreak, wins, then seed so the order is total.
func CalculateStandings(format models.TournamentFormat, participants []models.Participant, matches []models.Match) []models.Standing {
	scoreByUser := make(map[int64]float64, len(participants))
	for _, p := range participants {
		scoreByUser[p.UserID] = p.Score
	}

	tiebreak := make(map[int64]float64, len(participants))
	played := make(map[int64]int, len(participants))
	for _, m := range matches {
		if m.IsBye() || m.Status == models.MatchStatusBye || m.Status == models.MatchStatusCancelled {
			continue
		}
		for _, player := range []int64{m.Player1ID, *m.Player2ID} {
			opponent, _ := m.Opponent(player)
			tiebreak[player] += scoreByUser[opponent]
			if m.Status == models.MatchStatusCompleted {
				played[player]++
			}
		}
	}

	standings := make([]models.Standing, 0, len(participants))
	for _, p := range participants {
		standings = append(standings, models.Standing{
			UserID:        p.UserID,
			Seed:          p.Seed,
			Score:         p.Score,
			Wins:          p.Wins,
			Losses:        p.Losses,
			Draws:         p.Draws,
			Tiebreak:      tiebreak[p.UserID],
			MatchesPlayed: played[p.UserID],
			Eliminated:    format == models.FormatElimination && p.Eliminated,
		})
	}

	sort.SliceStable(standings, func(i, j int) bool {
		a, b := standings[i], standings[j]
		if format == models.FormatElimination && a.Eliminated != b.Eliminated {
			return !a.Eliminated
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Tiebreak != b.Tiebreak {
			return a.Tiebreak > b.Tiebreak
		}
		if a.Wins != b.Wins {
			return a.Wins > b.Wins
		}
		return a.Seed < b.Seed
	})

	for i := range standings {
		standings[i].Rank = i + 1
	}
	return standings
}

// Winner picks the champion from ordered standings.
func Winner(format models.TournamentFormat, standings []models.Standing) *models.Standing {
	if len(standings) == 0 {
		return nil
	}
	if format == models.FormatElimination {
		for i := range standings {
			if !standings[i].Eliminated {
				return &standings[i]
			}
		}
	}
	return &standings[0]
}

// ActiveEntrants returns the participants still allowed to be paired.
func ActiveEntrants(format models.TournamentFormat, participants []models.Participant) []models.Participant {
	active := make([]models.Participant, 0, len(participants))
	for _, p := range participants {
		if format == models.FormatElimination && p.Eliminated {
			continue
		}
		active = append(active, p)
	}
	return active
}
