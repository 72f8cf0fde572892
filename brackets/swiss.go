package brackets

import (
	"context"
	"sort"
)

type SwissGenerator struct{}

func NewSwissGenerator() PairingGenerator {
	return &SwissGenerator{}
}

func (g *SwissGenerator) GetName() string {
	return "Swiss"
}

// GeneratePairings pairs entrants inside score groups, nearest first.
//
// Entrants are ordered by score (desc) then seed (asc). Each entrant is paired with the nearest
// unpaired entrant they have not met; when no such opponent is left the nearest unpaired entrant
// is taken anyway. With an odd count the bye goes to the lowest-ranked entrant without a
// previous bye whose removal still lets everyone else pair without a rematch. When no entrant
// qualifies, the lowest-ranked entrant without a bye gets it, or the lowest-ranked entrant
// when everybody already had one.
// The fallback is greedy and does not search for a globally rematch-minimal assignment.
func (g *SwissGenerator) GeneratePairings(ctx context.Context, params PairingParams) ([]Pairing, error) {
	if len(params.Entrants) < 2 {
		return nil, ErrNotEnoughParticipants
	}

	sorted := make([]Entrant, len(params.Entrants))
	copy(sorted, params.Entrants)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].Seed < sorted[j].Seed
	})

	if len(sorted)%2 == 0 {
		pairings, _ := pairGreedy(sorted, params.History)
		return pairings, nil
	}

	fallback := len(sorted) - 1
	fallbackSet := false
	for i := len(sorted) - 1; i >= 0; i-- {
		if params.HadBye[sorted[i].UserID] {
			continue
		}
		if !fallbackSet {
			fallback, fallbackSet = i, true
		}
		pairings, rematches := pairGreedy(without(sorted, i), params.History)
		if rematches == 0 {
			return append(pairings, Pairing{Player1: sorted[i].UserID}), nil
		}
	}

	pairings, _ := pairGreedy(without(sorted, fallback), params.History)
	return append(pairings, Pairing{Player1: sorted[fallback].UserID}), nil
}

func without(entrants []Entrant, idx int) []Entrant {
	out := make([]Entrant, 0, len(entrants)-1)
	out = append(out, entrants[:idx]...)
	return append(out, entrants[idx+1:]...)
}

// pairGreedy pairs an even, ordered list and reports how many pairings are rematches.
func pairGreedy(sorted []Entrant, history History) ([]Pairing, int) {
	paired := make([]bool, len(sorted))
	pairings := make([]Pairing, 0, len(sorted)/2+1)
	rematches := 0

	for i := range sorted {
		if paired[i] {
			continue
		}
		opp := -1
		for j := i + 1; j < len(sorted); j++ {
			if !paired[j] && !history.Played(sorted[i].UserID, sorted[j].UserID) {
				opp = j
				break
			}
		}
		if opp == -1 {
			for j := i + 1; j < len(sorted); j++ {
				if !paired[j] {
					opp = j
					rematches++
					break
				}
			}
		}
		if opp == -1 {
			continue
		}
		paired[i], paired[opp] = true, true
		pairings = append(pairings, Pairing{
			Player1: sorted[i].UserID,
			Player2: int64Ptr(sorted[opp].UserID),
		})
	}
	return pairings, rematches
}
