package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Dosada05/duel-tournament/models"
	"github.com/Dosada05/duel-tournament/repositories"
)

// memStore is an in-memory stand-in for the PostgreSQL repositories. WithTx serializes
// transactions and restores a snapshot when fn fails.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	nextID       int
	tournaments  map[int]models.Tournament
	participants []models.Participant
	rounds       []models.Round
	matches      []models.Match
}

func newMemStore() *memStore {
	return &memStore{tournaments: make(map[int]models.Tournament)}
}

func (s *memStore) repos() Repositories {
	return Repositories{
		Tx:           s,
		Tournaments:  memTournaments{s},
		Participants: memParticipants{s},
		Rounds:       memRounds{s},
		Matches:      memMatches{s},
	}
}

func (s *memStore) id() int {
	s.nextID++
	return s.nextID
}

func (s *memStore) WithTx(ctx context.Context, fn func(exec repositories.SQLExecutor) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	tournaments := make(map[int]models.Tournament, len(s.tournaments))
	for k, v := range s.tournaments {
		tournaments[k] = v
	}
	participants := append([]models.Participant(nil), s.participants...)
	rounds := append([]models.Round(nil), s.rounds...)
	matches := append([]models.Match(nil), s.matches...)
	nextID := s.nextID
	s.mu.Unlock()

	if err := fn(nil); err != nil {
		s.mu.Lock()
		s.tournaments, s.participants, s.rounds, s.matches, s.nextID = tournaments, participants, rounds, matches, nextID
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *memStore) tournament(id int) models.Tournament {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tournaments[id]
}

func (s *memStore) participant(tournamentID int, userID int64) models.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.participants {
		if p.TournamentID == tournamentID && p.UserID == userID {
			return p
		}
	}
	return models.Participant{}
}

func (s *memStore) roundCount(tournamentID int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.rounds {
		if r.TournamentID == tournamentID {
			n++
		}
	}
	return n
}

type memTournaments struct{ s *memStore }

func (r memTournaments) Create(ctx context.Context, exec repositories.SQLExecutor, t *models.Tournament) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.tournaments {
		if existing.GuildID == t.GuildID && existing.Status == models.StatusActive && t.Status == models.StatusActive {
			return repositories.ErrActiveTournamentExists
		}
	}
	t.ID = r.s.id()
	t.CreatedAt = time.Now()
	t.UpdatedAt = t.CreatedAt
	stored := *t
	stored.Participants = nil
	r.s.tournaments[t.ID] = stored
	return nil
}

func (r memTournaments) GetByID(ctx context.Context, exec repositories.SQLExecutor, id int) (*models.Tournament, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tournaments[id]
	if !ok {
		return nil, repositories.ErrTournamentNotFound
	}
	return &t, nil
}

func (r memTournaments) GetByIDForUpdate(ctx context.Context, exec repositories.SQLExecutor, id int) (*models.Tournament, error) {
	return r.GetByID(ctx, exec, id)
}

func (r memTournaments) GetActiveByGuild(ctx context.Context, exec repositories.SQLExecutor, guildID string) (*models.Tournament, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, t := range r.s.tournaments {
		if t.GuildID == guildID && t.Status == models.StatusActive {
			return &t, nil
		}
	}
	return nil, repositories.ErrTournamentNotFound
}

func (r memTournaments) List(ctx context.Context, filter repositories.ListTournamentsFilter) ([]models.Tournament, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]models.Tournament, 0)
	for _, t := range r.s.tournaments {
		if filter.GuildID != nil && t.GuildID != *filter.GuildID {
			continue
		}
		if filter.Status != nil && t.Status != *filter.Status {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if filter.Offset >= len(out) {
		return []models.Tournament{}, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r memTournaments) SetCurrentRound(ctx context.Context, exec repositories.SQLExecutor, id int, round int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tournaments[id]
	if !ok || t.CurrentRound >= round {
		return repositories.ErrCurrentRoundRegression
	}
	t.CurrentRound = round
	r.s.tournaments[id] = t
	return nil
}

func (r memTournaments) Complete(ctx context.Context, exec repositories.SQLExecutor, id int, winnerID *int64) (bool, error) {
	return r.finish(id, models.StatusCompleted, winnerID)
}

func (r memTournaments) Cancel(ctx context.Context, exec repositories.SQLExecutor, id int) (bool, error) {
	return r.finish(id, models.StatusCancelled, nil)
}

func (r memTournaments) finish(id int, status models.TournamentStatus, winnerID *int64) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tournaments[id]
	if !ok || t.Status != models.StatusActive {
		return false, nil
	}
	t.Status = status
	t.WinnerID = winnerID
	r.s.tournaments[id] = t
	return true, nil
}

type memParticipants struct{ s *memStore }

func (r memParticipants) Create(ctx context.Context, exec repositories.SQLExecutor, p *models.Participant) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.participants {
		if existing.TournamentID == p.TournamentID && existing.UserID == p.UserID {
			return repositories.ErrParticipantConflict
		}
	}
	p.ID = r.s.id()
	p.CreatedAt = time.Now()
	r.s.participants = append(r.s.participants, *p)
	return nil
}

func (r memParticipants) ListByTournament(ctx context.Context, exec repositories.SQLExecutor, tournamentID int) ([]models.Participant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]models.Participant, 0)
	for _, p := range r.s.participants {
		if p.TournamentID == tournamentID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seed < out[j].Seed })
	return out, nil
}

func (r memParticipants) UpdateRecord(ctx context.Context, exec repositories.SQLExecutor, p *models.Participant) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range r.s.participants {
		if r.s.participants[i].ID == p.ID {
			r.s.participants[i] = *p
			return nil
		}
	}
	return repositories.ErrParticipantNotFound
}

type memRounds struct{ s *memStore }

func (r memRounds) Create(ctx context.Context, exec repositories.SQLExecutor, round *models.Round) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.rounds {
		if existing.TournamentID == round.TournamentID && existing.RoundNumber == round.RoundNumber {
			return repositories.ErrRoundConflict
		}
	}
	round.ID = r.s.id()
	round.CreatedAt = time.Now()
	stored := *round
	stored.Matches = nil
	r.s.rounds = append(r.s.rounds, stored)
	return nil
}

func (r memRounds) GetByNumber(ctx context.Context, exec repositories.SQLExecutor, tournamentID, roundNumber int) (*models.Round, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, round := range r.s.rounds {
		if round.TournamentID == tournamentID && round.RoundNumber == roundNumber {
			return &round, nil
		}
	}
	return nil, repositories.ErrRoundNotFound
}

func (r memRounds) ListByTournament(ctx context.Context, exec repositories.SQLExecutor, tournamentID int) ([]models.Round, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]models.Round, 0)
	for _, round := range r.s.rounds {
		if round.TournamentID == tournamentID {
			out = append(out, round)
		}
	}
	return out, nil
}

func (r memRounds) MarkCompleted(ctx context.Context, exec repositories.SQLExecutor, roundID int) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range r.s.rounds {
		if r.s.rounds[i].ID == roundID && r.s.rounds[i].Status == models.RoundStatusActive {
			now := time.Now()
			r.s.rounds[i].Status = models.RoundStatusCompleted
			r.s.rounds[i].CompletedAt = &now
			return true, nil
		}
	}
	return false, nil
}

func (r memRounds) UsedProblemIDs(ctx context.Context, exec repositories.SQLExecutor, tournamentID int) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ids := make([]string, 0)
	for _, round := range r.s.rounds {
		if round.TournamentID == tournamentID {
			ids = append(ids, round.Problem.ID())
		}
	}
	return ids, nil
}

type memMatches struct{ s *memStore }

func (r memMatches) Create(ctx context.Context, exec repositories.SQLExecutor, m *models.Match) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if m.ChallengeRef != nil {
		for _, existing := range r.s.matches {
			if existing.ChallengeRef != nil && *existing.ChallengeRef == *m.ChallengeRef {
				return repositories.ErrMatchConflict
			}
		}
	}
	m.ID = r.s.id()
	m.CreatedAt = time.Now()
	r.s.matches = append(r.s.matches, *m)
	return nil
}

func (r memMatches) GetByChallengeRef(ctx context.Context, exec repositories.SQLExecutor, challengeRef string) (*models.Match, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, m := range r.s.matches {
		if m.ChallengeRef != nil && *m.ChallengeRef == challengeRef {
			return &m, nil
		}
	}
	return nil, repositories.ErrMatchNotFound
}

func (r memMatches) GetByChallengeRefForUpdate(ctx context.Context, exec repositories.SQLExecutor, challengeRef string) (*models.Match, error) {
	return r.GetByChallengeRef(ctx, exec, challengeRef)
}

func (r memMatches) ListByTournament(ctx context.Context, exec repositories.SQLExecutor, tournamentID int, roundNumber *int) ([]models.Match, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]models.Match, 0)
	for _, m := range r.s.matches {
		if m.TournamentID != tournamentID {
			continue
		}
		if roundNumber != nil && m.RoundNumber != *roundNumber {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (r memMatches) ListPending(ctx context.Context, exec repositories.SQLExecutor, tournamentID int) ([]models.Match, error) {
	all, _ := r.ListByTournament(ctx, exec, tournamentID, nil)
	out := make([]models.Match, 0)
	for _, m := range all {
		if m.Status == models.MatchStatusPending {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r memMatches) MarkCompleted(ctx context.Context, exec repositories.SQLExecutor, matchID int, winnerID *int64) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range r.s.matches {
		if r.s.matches[i].ID == matchID && r.s.matches[i].Status == models.MatchStatusPending {
			now := time.Now()
			r.s.matches[i].Status = models.MatchStatusCompleted
			r.s.matches[i].WinnerID = winnerID
			r.s.matches[i].CompletedAt = &now
			return true, nil
		}
	}
	return false, nil
}

func (r memMatches) CancelPending(ctx context.Context, exec repositories.SQLExecutor, tournamentID int) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for i := range r.s.matches {
		if r.s.matches[i].TournamentID == tournamentID && r.s.matches[i].Status == models.MatchStatusPending {
			r.s.matches[i].Status = models.MatchStatusCancelled
			n++
		}
	}
	return n, nil
}

func (r memMatches) CountPendingInRound(ctx context.Context, exec repositories.SQLExecutor, roundID int) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, m := range r.s.matches {
		if m.RoundID == roundID && m.Status == models.MatchStatusPending {
			n++
		}
	}
	return n, nil
}

type fakeProblems struct {
	mu       sync.Mutex
	problems []models.Problem
	err      error
	queries  []ProblemQuery
}

func newFakeProblems() *fakeProblems {
	p := &fakeProblems{}
	for i := 0; i < 20; i++ {
		p.problems = append(p.problems, models.Problem{ContestID: 1000 + i, Index: "A", Name: fmt.Sprintf("Problem %d", i), Rating: 1200})
	}
	return p
}

func (f *fakeProblems) SelectProblem(ctx context.Context, query ProblemQuery) (*models.Problem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	if f.err != nil {
		return nil, f.err
	}
	excluded := make(map[string]bool, len(query.ExcludedProblemIDs))
	for _, id := range query.ExcludedProblemIDs {
		excluded[id] = true
	}
	for _, p := range f.problems {
		if !excluded[p.ID()] {
			problem := p
			return &problem, nil
		}
	}
	return nil, ErrProblemNotFound
}

type fakeDuels struct {
	mu        sync.Mutex
	next      int
	failAfter int // fail every call once this many duels exist; 0 disables
	created   []DuelRequest
	refs      []string
	cancelled []string
}

func (f *fakeDuels) CreateDuel(ctx context.Context, req DuelRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAfter > 0 && len(f.refs) >= f.failAfter {
		return "", fmt.Errorf("judge unavailable")
	}
	f.next++
	ref := fmt.Sprintf("duel-%d", f.next)
	f.created = append(f.created, req)
	f.refs = append(f.refs, ref)
	return ref, nil
}

func (f *fakeDuels) CancelDuel(ctx context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, ref)
	return nil
}

type publishedEvent struct {
	TournamentID int
	Type         string
	Payload      interface{}
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (n *recordingNotifier) Publish(tournamentID int, eventType string, payload interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, publishedEvent{TournamentID: tournamentID, Type: eventType, Payload: payload})
}

func (n *recordingNotifier) count(eventType string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, e := range n.events {
		if e.Type == eventType {
			c++
		}
	}
	return c
}

type fakeArchiver struct {
	archived int
}

func (a *fakeArchiver) ArchiveStandings(ctx context.Context, t *models.Tournament, standings []models.Standing) (string, error) {
	a.archived++
	return fmt.Sprintf("https://results.example.com/tournaments/%d.json", t.ID), nil
}
