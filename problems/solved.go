package problems

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/Dosada05/duel-tournament/models"
)

// HandleResolver maps a platform user to their problemset handle.
type HandleResolver interface {
	Handle(ctx context.Context, userID int64) (string, bool)
}

// StaticHandles is a HandleResolver backed by a fixed map.
type StaticHandles map[int64]string

func (h StaticHandles) Handle(_ context.Context, userID int64) (string, bool) {
	handle, ok := h[userID]
	return handle, ok && handle != ""
}

// ParseHandles reads "userID=handle" pairs separated by commas.
func ParseHandles(raw string) (StaticHandles, error) {
	handles := make(StaticHandles)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		userPart, handle, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid handle mapping %q", pair)
		}
		userID, err := strconv.ParseInt(strings.TrimSpace(userPart), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user id in handle mapping %q: %w", pair, err)
		}
		handles[userID] = strings.TrimSpace(handle)
	}
	return handles, nil
}

// StatusLookup loads solved problems from the user.status endpoint.
type StatusLookup struct {
	baseURL  string
	client   *http.Client
	resolver HandleResolver
}

func NewStatusLookup(baseURL string, client *http.Client, resolver HandleResolver) *StatusLookup {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &StatusLookup{baseURL: strings.TrimRight(baseURL, "/"), client: client, resolver: resolver}
}

type apiSubmission struct {
	Problem apiProblem `json:"problem"`
	Verdict string     `json:"verdict"`
}

// SolvedProblemIDs returns nothing for users without a known handle.
func (l *StatusLookup) SolvedProblemIDs(ctx context.Context, userID int64) ([]string, error) {
	handle, ok := l.resolver.Handle(ctx, userID)
	if !ok {
		return nil, nil
	}
	endpoint := l.baseURL + "/user.status?" + url.Values{"handle": {handle}}.Encode()

	var submissions []apiSubmission
	if err := getJSON(ctx, l.client, endpoint, &submissions); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	ids := make([]string, 0)
	for _, sub := range submissions {
		if sub.Verdict != "OK" {
			continue
		}
		id := models.Problem{ContestID: sub.Problem.ContestID, Index: sub.Problem.Index}.ID()
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}
