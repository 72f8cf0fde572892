package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Dosada05/duel-tournament/models"
	"github.com/Dosada05/duel-tournament/scoring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEngine struct {
	store    *memStore
	problems *fakeProblems
	duels    *fakeDuels
	notifier *recordingNotifier
	archiver *fakeArchiver

	tournaments TournamentService
	rounds      RoundService
	matches     MatchService
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()
	e := &testEngine{
		store:    newMemStore(),
		problems: newFakeProblems(),
		duels:    &fakeDuels{},
		notifier: &recordingNotifier{},
		archiver: &fakeArchiver{},
	}
	deps := Deps{
		Repos:    e.store.repos(),
		Problems: e.problems,
		Duels:    e.duels,
		Locker:   NewKeyedMutex(),
		Notifier: e.notifier,
		Archiver: e.archiver,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	e.rounds = NewRoundService(deps)
	e.matches = NewMatchService(deps)
	e.tournaments = NewTournamentService(deps, e.rounds)
	return e
}

func userIDs(n int) []int64 {
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = int64(101 + i)
	}
	return ids
}

func boolPtr(v bool) *bool { return &v }

func (e *testEngine) create(t *testing.T, guild string, format models.TournamentFormat, roundCount, players int, start bool) *CreateTournamentResult {
	t.Helper()
	res, err := e.tournaments.CreateTournament(context.Background(), CreateTournamentInput{
		GuildID:          guild,
		ChannelID:        "general",
		HostID:           1,
		Format:           format,
		LengthMinutes:    30,
		RoundCount:       roundCount,
		RatingRanges:     []models.RatingRange{{Min: 800, Max: 1600}},
		ParticipantIDs:   userIDs(players),
		StartImmediately: boolPtr(start),
	})
	require.NoError(t, err)
	require.Empty(t, res.RoundError)
	return res
}

// ref returns the challenge reference of the pending match between a and b.
func (e *testEngine) ref(t *testing.T, tournamentID int, a, b int64) string {
	t.Helper()
	matches, err := e.store.repos().Matches.ListPending(context.Background(), nil, tournamentID)
	require.NoError(t, err)
	for _, m := range matches {
		if m.Player2ID == nil {
			continue
		}
		if (m.Player1ID == a && *m.Player2ID == b) || (m.Player1ID == b && *m.Player2ID == a) {
			return *m.ChallengeRef
		}
	}
	t.Fatalf("no pending match between %d and %d", a, b)
	return ""
}

func (e *testEngine) win(t *testing.T, ref string, winner, loser int64) *MatchCompletionResult {
	t.Helper()
	solved := time.Date(2024, 5, 1, 12, 10, 0, 0, time.UTC)
	res, err := e.matches.OnMatchCompleted(context.Background(), ref, []scoring.ParticipantResult{
		{UserID: winner, SolvedAt: &solved},
		{UserID: loser},
	})
	require.NoError(t, err)
	return res
}

func TestStartRound_SwissFivePlayersGivesOneBye(t *testing.T) {
	e := newTestEngine(t)
	res := e.create(t, "g1", models.FormatSwiss, 3, 5, true)

	require.NotNil(t, res.Round)
	assert.Equal(t, 1, res.Round.RoundNumber)
	require.Len(t, res.Round.Matches, 3)

	byes := 0
	for _, m := range res.Round.Matches {
		if m.IsBye() {
			byes++
			assert.Equal(t, models.MatchStatusBye, m.Status)
			require.NotNil(t, m.WinnerID)
			assert.Equal(t, m.Player1ID, *m.WinnerID)
			assert.Nil(t, m.ChallengeRef)
		} else {
			assert.Equal(t, models.MatchStatusPending, m.Status)
			assert.NotNil(t, m.ChallengeRef)
		}
	}
	assert.Equal(t, 1, byes)
	assert.Len(t, e.duels.created, 2)

	bye := e.store.participant(res.Tournament.ID, 105)
	assert.Equal(t, 1.0, bye.Score)
	assert.Equal(t, 1, bye.Wins)
	assert.Equal(t, 0, bye.Losses)
	assert.Equal(t, 0, bye.Draws)

	assert.Equal(t, 1, e.store.tournament(res.Tournament.ID).CurrentRound)
	assert.Equal(t, 1, e.notifier.count(models.EventRoundStarted))
}

func TestStartRound_DuelRequestsCarryRoundDetails(t *testing.T) {
	e := newTestEngine(t)
	res := e.create(t, "g1", models.FormatSwiss, 1, 2, true)

	require.Len(t, e.duels.created, 1)
	req := e.duels.created[0]
	assert.Equal(t, res.Tournament.ID, req.TournamentID)
	assert.Equal(t, 1, req.RoundNumber)
	assert.Equal(t, 30, req.LengthMinutes)
	assert.ElementsMatch(t, []int64{101, 102}, req.ParticipantIDs)
	assert.Equal(t, res.Round.Problem, req.Problem)

	require.Len(t, e.problems.queries, 1)
	assert.ElementsMatch(t, []int64{101, 102}, e.problems.queries[0].ParticipantIDs)
	assert.Equal(t, []models.RatingRange{{Min: 800, Max: 1600}}, e.problems.queries[0].RatingRanges)
}

func TestElimination_ThreePlayersScenario(t *testing.T) {
	e := newTestEngine(t)
	res := e.create(t, "g1", models.FormatElimination, 0, 3, true)
	id := res.Tournament.ID
	assert.Equal(t, 2, res.Tournament.RoundCount)

	require.Len(t, res.Round.Matches, 2)
	var bye *models.Match
	for i := range res.Round.Matches {
		if res.Round.Matches[i].IsBye() {
			bye = &res.Round.Matches[i]
		}
	}
	require.NotNil(t, bye)
	assert.Equal(t, int64(101), bye.Player1ID, "seed 1 gets the bye")

	done := e.win(t, e.ref(t, id, 102, 103), 103, 102)
	assert.False(t, done.Ignored)
	assert.True(t, done.RoundCompleted)
	assert.True(t, e.store.participant(id, 102).Eliminated)
	assert.False(t, e.store.participant(id, 103).Eliminated)
	assert.False(t, e.store.participant(id, 101).Eliminated)

	adv, err := e.rounds.AdvanceTournament(context.Background(), id)
	require.NoError(t, err)
	require.False(t, adv.Completed)
	require.NotNil(t, adv.Round)
	assert.Equal(t, 2, adv.Round.RoundNumber)
	require.Len(t, adv.Round.Matches, 1)

	e.win(t, e.ref(t, id, 101, 103), 101, 103)

	adv, err = e.rounds.AdvanceTournament(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, adv.Completed)
	require.NotNil(t, adv.Winner)
	assert.Equal(t, int64(101), adv.Winner.UserID)

	stored := e.store.tournament(id)
	assert.Equal(t, models.StatusCompleted, stored.Status)
	require.NotNil(t, stored.WinnerID)
	assert.Equal(t, int64(101), *stored.WinnerID)
	assert.Equal(t, 1, e.archiver.archived)
	assert.Equal(t, "https://results.example.com/tournaments/1.json", adv.ArchiveURL)
	assert.Equal(t, 1, e.notifier.count(models.EventTournamentCompleted))
}

func TestElimination_NoSolvesAdvancesLowerSeed(t *testing.T) {
	e := newTestEngine(t)
	res := e.create(t, "g1", models.FormatElimination, 0, 2, true)
	id := res.Tournament.ID

	out, err := e.matches.OnMatchCompleted(context.Background(), e.ref(t, id, 101, 102), []scoring.ParticipantResult{
		{UserID: 102}, {UserID: 101},
	})
	require.NoError(t, err)
	assert.False(t, out.IsDraw)
	require.NotNil(t, out.Match.WinnerID)
	assert.Equal(t, int64(101), *out.Match.WinnerID)
	assert.True(t, e.store.participant(id, 102).Eliminated)

	_, err = e.rounds.StartRound(context.Background(), id)
	var insufficient *InsufficientParticipantsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 1, insufficient.Active)
}

func TestSwiss_DrawGivesHalfPoints(t *testing.T) {
	e := newTestEngine(t)
	res := e.create(t, "g1", models.FormatSwiss, 1, 2, true)
	id := res.Tournament.ID

	out, err := e.matches.OnMatchCompleted(context.Background(), e.ref(t, id, 101, 102), []scoring.ParticipantResult{
		{UserID: 101}, {UserID: 102},
	})
	require.NoError(t, err)
	assert.True(t, out.IsDraw)
	assert.Nil(t, out.Match.WinnerID)

	for _, userID := range []int64{101, 102} {
		p := e.store.participant(id, userID)
		assert.Equal(t, 0.5, p.Score)
		assert.Equal(t, 1, p.Draws)
	}
}

func TestAdvance_RoundIncomplete(t *testing.T) {
	e := newTestEngine(t)
	res := e.create(t, "g1", models.FormatSwiss, 3, 4, true)
	id := res.Tournament.ID

	e.win(t, e.ref(t, id, 101, 102), 101, 102)
	e.win(t, e.ref(t, id, 103, 104), 103, 104)

	adv, err := e.rounds.AdvanceTournament(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, 2, adv.Round.RoundNumber)

	e.win(t, e.ref(t, id, 101, 103), 101, 103)

	_, err = e.rounds.AdvanceTournament(context.Background(), id)
	var incomplete *RoundIncompleteError
	require.ErrorAs(t, err, &incomplete)
	assert.Equal(t, 2, incomplete.RoundNumber)
	assert.Equal(t, 1, incomplete.Pending)
	assert.Equal(t, 2, e.store.roundCount(id), "no new round may be created")
	assert.Equal(t, 2, e.store.tournament(id).CurrentRound)
}

func TestStartRound_RefusesWhileRoundActive(t *testing.T) {
	e := newTestEngine(t)
	res := e.create(t, "g1", models.FormatSwiss, 3, 4, true)

	_, err := e.rounds.StartRound(context.Background(), res.Tournament.ID)
	var incomplete *RoundIncompleteError
	require.ErrorAs(t, err, &incomplete)
	assert.Equal(t, 1, incomplete.RoundNumber)
	assert.Equal(t, 2, incomplete.Pending)
}

func TestSwiss_CompletesAfterRoundCount(t *testing.T) {
	e := newTestEngine(t)
	res := e.create(t, "g1", models.FormatSwiss, 1, 2, true)
	id := res.Tournament.ID

	e.win(t, e.ref(t, id, 101, 102), 102, 101)

	_, err := e.rounds.StartRound(context.Background(), id)
	assert.ErrorIs(t, err, ErrRoundLimitReached)

	adv, err := e.rounds.AdvanceTournament(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, adv.Completed)
	require.NotNil(t, adv.Winner)
	assert.Equal(t, int64(102), adv.Winner.UserID)
	require.Len(t, adv.Standings, 2)
	assert.Equal(t, 1, adv.Standings[0].Rank)

	_, err = e.rounds.AdvanceTournament(context.Background(), id)
	assert.ErrorIs(t, err, ErrTournamentNotActive)
}

func TestSwiss_SecondRoundExcludesUsedProblemAndAvoidsRematch(t *testing.T) {
	e := newTestEngine(t)
	res := e.create(t, "g1", models.FormatSwiss, 2, 4, true)
	id := res.Tournament.ID
	first := res.Round.Problem.ID()

	e.win(t, e.ref(t, id, 101, 102), 101, 102)
	e.win(t, e.ref(t, id, 103, 104), 103, 104)

	adv, err := e.rounds.AdvanceTournament(context.Background(), id)
	require.NoError(t, err)
	assert.NotEqual(t, first, adv.Round.Problem.ID())
	require.Len(t, e.problems.queries, 2)
	assert.Contains(t, e.problems.queries[1].ExcludedProblemIDs, first)

	for _, m := range adv.Round.Matches {
		require.NotNil(t, m.Player2ID)
		pair := [2]int64{m.Player1ID, *m.Player2ID}
		assert.NotEqual(t, [2]int64{101, 102}, pair)
		assert.NotEqual(t, [2]int64{103, 104}, pair)
	}
}

func TestOnMatchCompleted_Idempotent(t *testing.T) {
	e := newTestEngine(t)
	res := e.create(t, "g1", models.FormatSwiss, 3, 4, true)
	id := res.Tournament.ID
	ref := e.ref(t, id, 101, 102)

	first := e.win(t, ref, 101, 102)
	assert.False(t, first.Ignored)
	winner := e.store.participant(id, 101)
	loser := e.store.participant(id, 102)

	second := e.win(t, ref, 102, 101)
	assert.True(t, second.Ignored)
	assert.Equal(t, IgnoredNotPending, second.Reason)
	assert.Equal(t, winner, e.store.participant(id, 101))
	assert.Equal(t, loser, e.store.participant(id, 102))
	assert.Equal(t, 1, e.notifier.count(models.EventMatchCompleted))
}

func TestOnMatchCompleted_UnknownChallengeIgnored(t *testing.T) {
	e := newTestEngine(t)
	out, err := e.matches.OnMatchCompleted(context.Background(), "nope", nil)
	require.NoError(t, err)
	assert.True(t, out.Ignored)
	assert.Equal(t, IgnoredUnknownChallenge, out.Reason)
}

func TestOnMatchCompleted_ConcurrentCompletionsCloseRoundOnce(t *testing.T) {
	e := newTestEngine(t)
	res := e.create(t, "g1", models.FormatSwiss, 3, 8, true)
	id := res.Tournament.ID

	pending := make([]models.Match, 0)
	for _, m := range res.Round.Matches {
		if !m.IsBye() {
			pending = append(pending, m)
		}
	}
	require.Len(t, pending, 4)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []*MatchCompletionResult
	)
	solved := time.Now()
	for _, m := range pending {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Every notification is delivered twice.
			for i := 0; i < 2; i++ {
				out, err := e.matches.OnMatchCompleted(context.Background(), *m.ChallengeRef, []scoring.ParticipantResult{
					{UserID: m.Player1ID, SolvedAt: &solved},
					{UserID: *m.Player2ID},
				})
				assert.NoError(t, err)
				mu.Lock()
				results = append(results, out)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	applied, closed := 0, 0
	for _, r := range results {
		if !r.Ignored {
			applied++
		}
		if r.RoundCompleted {
			closed++
		}
	}
	assert.Equal(t, 4, applied)
	assert.Equal(t, 1, closed)
	assert.Equal(t, 1, e.notifier.count(models.EventRoundCompleted))

	round, err := e.tournaments.GetCurrentRound(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.RoundStatusCompleted, round.Status)
}

func TestStartRound_DuelFailureLeavesNothingBehind(t *testing.T) {
	e := newTestEngine(t)
	res := e.create(t, "g1", models.FormatSwiss, 3, 6, false)
	id := res.Tournament.ID
	e.duels.failAfter = 1

	_, err := e.rounds.StartRound(context.Background(), id)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuelCreationFailed)

	assert.Equal(t, 0, e.store.roundCount(id))
	assert.Equal(t, 0, e.store.tournament(id).CurrentRound)
	assert.Equal(t, models.StatusActive, e.store.tournament(id).Status)
	assert.ElementsMatch(t, e.duels.refs, e.duels.cancelled, "created duels are cancelled again")
	assert.Zero(t, e.notifier.count(models.EventRoundStarted))

	e.duels.failAfter = 0
	round, err := e.rounds.StartRound(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 1, round.RoundNumber)
}

func TestStartRound_ProblemNotFound(t *testing.T) {
	e := newTestEngine(t)
	res := e.create(t, "g1", models.FormatSwiss, 3, 4, false)
	e.problems.err = ErrProblemNotFound

	_, err := e.rounds.StartRound(context.Background(), res.Tournament.ID)
	assert.ErrorIs(t, err, ErrProblemSelectionFailed)
	assert.ErrorIs(t, err, ErrProblemNotFound)
	assert.Empty(t, e.duels.created)
	assert.Equal(t, 0, e.store.roundCount(res.Tournament.ID))
}

func TestCreateTournament_ReportsFirstRoundFailure(t *testing.T) {
	e := newTestEngine(t)
	e.problems.err = ErrProblemNotFound

	res, err := e.tournaments.CreateTournament(context.Background(), CreateTournamentInput{
		GuildID: "g1", HostID: 1, Format: models.FormatArena, LengthMinutes: 20, RoundCount: 2,
		ParticipantIDs: userIDs(4),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.RoundError)
	assert.Nil(t, res.Round)
	assert.Equal(t, models.StatusActive, e.store.tournament(res.Tournament.ID).Status)
}

func TestAdvance_StartsFirstRoundWhenNoneExists(t *testing.T) {
	e := newTestEngine(t)
	res := e.create(t, "g1", models.FormatArena, 2, 4, false)

	adv, err := e.rounds.AdvanceTournament(context.Background(), res.Tournament.ID)
	require.NoError(t, err)
	assert.False(t, adv.Completed)
	require.NotNil(t, adv.Round)
	assert.Equal(t, 1, adv.Round.RoundNumber)
}

func TestCancelTournament(t *testing.T) {
	e := newTestEngine(t)
	res := e.create(t, "g1", models.FormatSwiss, 3, 4, true)
	id := res.Tournament.ID
	late := e.ref(t, id, 101, 102)

	out, err := e.tournaments.CancelTournament(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, out.NothingToCancel)
	assert.Equal(t, 2, out.CancelledDuels)
	assert.Len(t, e.duels.cancelled, 2)
	assert.Equal(t, models.StatusCancelled, e.store.tournament(id).Status)

	pending, err := e.store.repos().Matches.ListPending(context.Background(), nil, id)
	require.NoError(t, err)
	assert.Empty(t, pending)

	lateResult := e.win(t, late, 101, 102)
	assert.True(t, lateResult.Ignored)
	assert.Equal(t, IgnoredNotActive, lateResult.Reason)
	assert.Equal(t, 0.0, e.store.participant(id, 101).Score)

	again, err := e.tournaments.CancelTournament(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, again.NothingToCancel)
	assert.Equal(t, 1, e.notifier.count(models.EventTournamentCancelled))

	_, err = e.rounds.AdvanceTournament(context.Background(), id)
	assert.ErrorIs(t, err, ErrTournamentNotActive)
}

func TestCreateTournament_OneActivePerGuild(t *testing.T) {
	e := newTestEngine(t)
	res := e.create(t, "g1", models.FormatSwiss, 1, 2, false)

	_, err := e.tournaments.CreateTournament(context.Background(), CreateTournamentInput{
		GuildID: "g1", Format: models.FormatSwiss, LengthMinutes: 10, RoundCount: 1, ParticipantIDs: userIDs(2),
	})
	assert.ErrorIs(t, err, ErrActiveTournamentExists)

	e.create(t, "g2", models.FormatSwiss, 1, 2, false)

	_, err = e.tournaments.CancelTournament(context.Background(), res.Tournament.ID)
	require.NoError(t, err)
	e.create(t, "g1", models.FormatSwiss, 1, 2, false)
}

func TestCreateTournament_Validation(t *testing.T) {
	e := newTestEngine(t)
	valid := CreateTournamentInput{
		GuildID: "g1", Format: models.FormatSwiss, LengthMinutes: 10, RoundCount: 2, ParticipantIDs: userIDs(2),
	}

	tests := []struct {
		name   string
		mutate func(in *CreateTournamentInput)
		want   error
	}{
		{"missing guild", func(in *CreateTournamentInput) { in.GuildID = "  " }, ErrGuildRequired},
		{"unknown format", func(in *CreateTournamentInput) { in.Format = "ladder" }, ErrInvalidFormat},
		{"zero length", func(in *CreateTournamentInput) { in.LengthMinutes = 0 }, ErrInvalidLength},
		{"no rounds", func(in *CreateTournamentInput) { in.RoundCount = 0 }, ErrInvalidRoundCount},
		{"bad range", func(in *CreateTournamentInput) {
			in.RatingRanges = []models.RatingRange{{Min: 1600, Max: 800}}
		}, ErrInvalidRatingRange},
		{"one player", func(in *CreateTournamentInput) { in.ParticipantIDs = []int64{101} }, ErrTooFewParticipantsListed},
		{"duplicate player", func(in *CreateTournamentInput) { in.ParticipantIDs = []int64{101, 102, 101} }, ErrDuplicateParticipant},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := valid
			tt.mutate(&in)
			_, err := e.tournaments.CreateTournament(context.Background(), in)
			assert.ErrorIs(t, err, ErrValidationFailed)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCreateTournament_EliminationIgnoresRoundCount(t *testing.T) {
	e := newTestEngine(t)
	res, err := e.tournaments.CreateTournament(context.Background(), CreateTournamentInput{
		GuildID: "g1", Format: models.FormatElimination, LengthMinutes: 10, ParticipantIDs: userIDs(5),
		StartImmediately: boolPtr(false),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Tournament.RoundCount)
	require.Len(t, res.Tournament.Participants, 5)
	for i, p := range res.Tournament.Participants {
		assert.Equal(t, i+1, p.Seed)
	}
}

func TestQueries(t *testing.T) {
	e := newTestEngine(t)
	res := e.create(t, "g1", models.FormatSwiss, 2, 4, true)
	id := res.Tournament.ID
	e.win(t, e.ref(t, id, 101, 102), 102, 101)

	standings, err := e.tournaments.GetStandings(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, standings, 4)
	assert.Equal(t, int64(102), standings[0].UserID)
	assert.Equal(t, 1, standings[0].MatchesPlayed)

	round, err := e.tournaments.GetCurrentRound(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 1, round.RoundNumber)
	assert.Len(t, round.Matches, 2)

	active, err := e.tournaments.GetActiveTournament(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, id, active.ID)

	_, err = e.tournaments.GetActiveTournament(context.Background(), "elsewhere")
	assert.ErrorIs(t, err, ErrTournamentNotFound)

	one := 1
	matches, err := e.matches.ListMatches(context.Background(), id, &one)
	require.NoError(t, err)
	assert.Len(t, matches, 2)

	full, err := e.tournaments.GetTournament(context.Background(), id)
	require.NoError(t, err)
	assert.Len(t, full.Participants, 4)

	assert.NoError(t, e.tournaments.EnsureHost(context.Background(), id, 1))
	assert.ErrorIs(t, e.tournaments.EnsureHost(context.Background(), id, 2), ErrForbiddenOperation)

	_, err = e.tournaments.GetTournament(context.Background(), 999)
	assert.True(t, errors.Is(err, ErrTournamentNotFound))
}

func TestKeyedMutex(t *testing.T) {
	locker := NewKeyedMutex()
	ctx := context.Background()

	release, err := locker.Lock(ctx, "tournament:1")
	require.NoError(t, err)

	other, err := locker.Lock(ctx, "tournament:2")
	require.NoError(t, err)
	other()

	timeout, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(timeout, "tournament:1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	acquired := make(chan struct{})
	go func() {
		second, err := locker.Lock(ctx, "tournament:1")
		if err == nil {
			close(acquired)
			second()
		}
	}()
	release()
	release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("lock was not handed over after release")
	}
}
