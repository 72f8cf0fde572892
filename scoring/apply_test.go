package scoring

import (
	"testing"

	"github.com/Dosada05/duel-tournament/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func participantsByUser(ps ...*models.Participant) map[int64]*models.Participant {
	out := make(map[int64]*models.Participant, len(ps))
	for _, p := range ps {
		out[p.UserID] = p
	}
	return out
}

func TestApplyOutcomeWin(t *testing.T) {
	a := &models.Participant{UserID: 1, Seed: 1}
	b := &models.Participant{UserID: 2, Seed: 2}

	touched, err := ApplyOutcome(models.FormatSwiss, participantsByUser(a, b), Outcome{WinnerID: 1, LoserID: 2, Players: [2]int64{1, 2}})
	require.NoError(t, err)
	assert.Len(t, touched, 2)

	assert.Equal(t, 1.0, a.Score)
	assert.Equal(t, 1, a.Wins)
	assert.Equal(t, 0.0, b.Score)
	assert.Equal(t, 1, b.Losses)
	assert.False(t, b.Eliminated)
}

func TestApplyOutcomeEliminationMarksLoser(t *testing.T) {
	a := &models.Participant{UserID: 1}
	b := &models.Participant{UserID: 2}

	_, err := ApplyOutcome(models.FormatElimination, participantsByUser(a, b), Outcome{WinnerID: 2, LoserID: 1, Players: [2]int64{2, 1}})
	require.NoError(t, err)
	assert.True(t, a.Eliminated)
	assert.False(t, b.Eliminated)
}

func TestApplyOutcomeDraw(t *testing.T) {
	a := &models.Participant{UserID: 1}
	b := &models.Participant{UserID: 2}

	touched, err := ApplyOutcome(models.FormatArena, participantsByUser(a, b), Outcome{IsDraw: true, Players: [2]int64{1, 2}})
	require.NoError(t, err)
	assert.Len(t, touched, 2)
	for _, p := range []*models.Participant{a, b} {
		assert.Equal(t, 0.5, p.Score)
		assert.Equal(t, 1, p.Draws)
		assert.Zero(t, p.Wins+p.Losses)
	}
}

func TestApplyOutcomeBye(t *testing.T) {
	a := &models.Participant{UserID: 5}

	touched, err := ApplyOutcome(models.FormatSwiss, participantsByUser(a), ByeOutcome(5))
	require.NoError(t, err)
	require.Len(t, touched, 1)
	assert.Equal(t, 1.0, a.Score)
	assert.Equal(t, 1, a.Wins)
	assert.Zero(t, a.Losses)
	assert.Zero(t, a.Draws)
}

func TestApplyOutcomeUnknownParticipant(t *testing.T) {
	a := &models.Participant{UserID: 1}
	_, err := ApplyOutcome(models.FormatSwiss, participantsByUser(a), Outcome{WinnerID: 1, LoserID: 9, Players: [2]int64{1, 9}})
	assert.Error(t, err)
	assert.Zero(t, a.Wins, "no partial update on error")
}
