package brackets

import (
	"context"
	"math"
	"sort"
)

type SingleEliminationGenerator struct{}

func NewSingleEliminationGenerator() PairingGenerator {
	return &SingleEliminationGenerator{}
}

func (g *SingleEliminationGenerator) GetName() string {
	return "SingleElimination"
}

// GeneratePairings seeds one elimination round from the entrants still alive.
// Top seed meets bottom seed, second meets second-to-last and so on. With an odd field the
// top seed, who would otherwise draw the weakest opponent, sits the round out with a bye.
func (g *SingleEliminationGenerator) GeneratePairings(ctx context.Context, params PairingParams) ([]Pairing, error) {
	n := len(params.Entrants)
	if n < 2 {
		return nil, ErrNotEnoughParticipants
	}

	seeded := make([]Entrant, n)
	copy(seeded, params.Entrants)
	sort.SliceStable(seeded, func(i, j int) bool {
		return seeded[i].Seed < seeded[j].Seed
	})

	pairings := make([]Pairing, 0, n/2+1)
	var bye *Entrant
	if n%2 == 1 {
		bye = &seeded[0]
		seeded = seeded[1:]
	}

	for i, j := 0, len(seeded)-1; i < j; i, j = i+1, j-1 {
		pairings = append(pairings, Pairing{
			Player1: seeded[i].UserID,
			Player2: int64Ptr(seeded[j].UserID),
		})
	}
	if bye != nil {
		pairings = append(pairings, Pairing{Player1: bye.UserID})
	}
	return pairings, nil
}

// RoundsNeeded is the depth of a single elimination bracket for n entrants.
func RoundsNeeded(n int) int {
	if n < 2 {
		return 0
	}
	return int(math.Ceil(math.Log2(float64(n))))
}
