// Package problems selects round problems from a Codeforces-compatible problemset API.
package problems

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"

	"github.com/Dosada05/duel-tournament/models"
	"github.com/Dosada05/duel-tournament/services"
	"golang.org/x/sync/errgroup"
)

const DefaultBaseURL = "https://codeforces.com/api"

var ErrAPIFailed = errors.New("problemset api returned a failure")

// solvedLookupConcurrency caps parallel user.status calls; the public API rate-limits clients.
const solvedLookupConcurrency = 4

// SolvedLookup reports the problems a user has already solved.
type SolvedLookup interface {
	SolvedProblemIDs(ctx context.Context, userID int64) ([]string, error)
}

type apiEnvelope struct {
	Status  string          `json:"status"`
	Comment string          `json:"comment,omitempty"`
	Result  json.RawMessage `json:"result"`
}

type apiProblem struct {
	ContestID int      `json:"contestId"`
	Index     string   `json:"index"`
	Name      string   `json:"name"`
	Type      string   `json:"type"`
	Rating    int      `json:"rating"`
	Tags      []string `json:"tags"`
}

func (p apiProblem) toModel() models.Problem {
	return models.Problem{ContestID: p.ContestID, Index: p.Index, Name: p.Name, Rating: p.Rating, Tags: p.Tags}
}

// Selector implements services.ProblemSelector.
type Selector struct {
	baseURL string
	client  *http.Client
	solved  SolvedLookup
	log     *slog.Logger
	pick    func(n int) int
}

// NewSelector builds a selector. solved may be nil, in which case only the tournament's own
// exclusion list applies.
func NewSelector(baseURL string, client *http.Client, solved SolvedLookup, logger *slog.Logger) *Selector {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		solved:  solved,
		log:     logger.With("component", "problem_selector"),
		pick:    rand.IntN,
	}
}

// solvedHistory loads every participant's solved problems concurrently. A failed lookup is
// logged and that participant's history is not excluded.
func (s *Selector) solvedHistory(ctx context.Context, userIDs []int64) [][]string {
	if s.solved == nil || len(userIDs) == 0 {
		return nil
	}
	history := make([][]string, len(userIDs))
	var g errgroup.Group
	g.SetLimit(solvedLookupConcurrency)
	for i, userID := range userIDs {
		g.Go(func() error {
			ids, err := s.solved.SolvedProblemIDs(ctx, userID)
			if err != nil {
				s.log.Warn("Failed to load solve history, not excluding it", "user_id", userID, "error", err)
				return nil
			}
			history[i] = ids
			return nil
		})
	}
	_ = g.Wait()
	return history
}

func (s *Selector) SelectProblem(ctx context.Context, query services.ProblemQuery) (*models.Problem, error) {
	all, err := s.fetchProblems(ctx, query.Tags)
	if err != nil {
		return nil, err
	}

	excluded := make(map[string]struct{}, len(query.ExcludedProblemIDs))
	for _, id := range query.ExcludedProblemIDs {
		excluded[id] = struct{}{}
	}
	for _, ids := range s.solvedHistory(ctx, query.ParticipantIDs) {
		for _, id := range ids {
			excluded[id] = struct{}{}
		}
	}

	candidates := make([]models.Problem, 0)
	for _, p := range all {
		problem := p.toModel()
		if _, skip := excluded[problem.ID()]; skip {
			continue
		}
		if !matchesRating(problem.Rating, query.RatingRanges) || !hasTags(problem.Tags, query.Tags) {
			continue
		}
		candidates = append(candidates, problem)
	}
	if len(candidates) == 0 {
		return nil, services.ErrProblemNotFound
	}

	chosen := candidates[s.pick(len(candidates))]
	s.log.Debug("Problem selected", "problem", chosen.ID(), "rating", chosen.Rating, "candidates", len(candidates))
	return &chosen, nil
}

func (s *Selector) fetchProblems(ctx context.Context, tags []string) ([]apiProblem, error) {
	endpoint := s.baseURL + "/problemset.problems"
	if len(tags) > 0 {
		endpoint += "?" + url.Values{"tags": {strings.Join(tags, ";")}}.Encode()
	}

	var result struct {
		Problems []apiProblem `json:"problems"`
	}
	if err := getJSON(ctx, s.client, endpoint, &result); err != nil {
		return nil, err
	}
	return result.Problems, nil
}

// matchesRating accepts any rated problem when no range is configured.
func matchesRating(rating int, ranges []models.RatingRange) bool {
	if rating <= 0 {
		return false
	}
	if len(ranges) == 0 {
		return true
	}
	for _, r := range ranges {
		if r.Contains(rating) {
			return true
		}
	}
	return false
}

func hasTags(problemTags, required []string) bool {
	if len(required) == 0 {
		return true
	}
	have := make(map[string]struct{}, len(problemTags))
	for _, t := range problemTags {
		have[t] = struct{}{}
	}
	for _, t := range required {
		if _, ok := have[t]; !ok {
			return false
		}
	}
	return true
}

func getJSON(ctx context.Context, client *http.Client, endpoint string, into interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return fmt.Errorf("failed to read response from %s: %w", endpoint, err)
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("unexpected response from %s (status %d): %w", endpoint, resp.StatusCode, err)
	}
	if envelope.Status != "OK" {
		return fmt.Errorf("%w: %s", ErrAPIFailed, envelope.Comment)
	}
	if err := json.Unmarshal(envelope.Result, into); err != nil {
		return fmt.Errorf("failed to decode result from %s: %w", endpoint, err)
	}
	return nil
}
