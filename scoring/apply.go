package scoring

import (
	"fmt"

	"github.com/Dosada05/duel-tournament/models"
)

const (
	WinPoints  = 1.0
	DrawPoints = 0.5
)

// ApplyOutcome is the only place where participant records change.
// It mutates the given participants in place and returns the ones it touched so the caller
// can persist them. A bye is applied as a win with no loser.
func ApplyOutcome(format models.TournamentFormat, participants map[int64]*models.Participant, outcome Outcome) ([]*models.Participant, error) {
	if outcome.IsDraw {
		return applyDraw(participants, outcome)
	}

	winner, ok := participants[outcome.WinnerID]
	if !ok {
		return nil, fmt.Errorf("winner %d is not a participant", outcome.WinnerID)
	}
	var loser *models.Participant
	if outcome.LoserID != 0 {
		loser, ok = participants[outcome.LoserID]
		if !ok {
			return nil, fmt.Errorf("loser %d is not a participant", outcome.LoserID)
		}
	}

	winner.Score += WinPoints
	winner.Wins++
	if loser == nil {
		return []*models.Participant{winner}, nil
	}

	loser.Losses++
	if format == models.FormatElimination {
		loser.Eliminated = true
	}
	return []*models.Participant{winner, loser}, nil
}

// ByeOutcome is the outcome credited to a participant sitting out a round.
func ByeOutcome(userID int64) Outcome {
	return Outcome{WinnerID: userID, Players: [2]int64{userID, 0}}
}

func applyDraw(participants map[int64]*models.Participant, outcome Outcome) ([]*models.Participant, error) {
	if outcome.Players[0] == 0 || outcome.Players[1] == 0 {
		return nil, fmt.Errorf("draw must name both participants")
	}
	touched := make([]*models.Participant, 0, 2)
	for _, id := range outcome.Players {
		p, ok := participants[id]
		if !ok {
			return nil, fmt.Errorf("drawing player %d is not a participant", id)
		}
		p.Score += DrawPoints
		p.Draws++
		touched = append(touched, p)
	}
	return touched, nil
}
