// Package judge talks to the external duel service that runs timed head-to-head challenges.
package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Dosada05/duel-tournament/models"
	"github.com/Dosada05/duel-tournament/scoring"
	"github.com/Dosada05/duel-tournament/services"
	"github.com/google/uuid"
)

const IdempotencyKeyHeader = "Idempotency-Key"

var (
	ErrEmptyReference = errors.New("judge returned an empty duel reference")
	ErrUnexpectedCode = errors.New("judge returned an unexpected status")
)

type createDuelRequest struct {
	TournamentID   int            `json:"tournament_id"`
	RoundNumber    int            `json:"round_number"`
	MatchNumber    int            `json:"match_number"`
	Problem        models.Problem `json:"problem"`
	LengthMinutes  int            `json:"length_minutes"`
	ParticipantIDs []int64        `json:"participant_ids"`
}

type createDuelResponse struct {
	Ref string `json:"ref"`
}

// CompletionEvent is the body the duel service posts when a duel ends.
type CompletionEvent struct {
	Ref     string                      `json:"ref"`
	Results []scoring.ParticipantResult `json:"results"`
}

// Client implements services.ChallengeRunner over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	log     *slog.Logger
	newKey  func() string
}

var _ services.ChallengeRunner = (*Client)(nil)

func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     logger.With("component", "judge_client"),
		newKey:  func() string { return uuid.NewString() },
	}
}

func (c *Client) CreateDuel(ctx context.Context, req services.DuelRequest) (string, error) {
	body, err := json.Marshal(createDuelRequest{
		TournamentID:   req.TournamentID,
		RoundNumber:    req.RoundNumber,
		MatchNumber:    req.MatchNumber,
		Problem:        req.Problem,
		LengthMinutes:  req.LengthMinutes,
		ParticipantIDs: req.ParticipantIDs,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode duel request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/duels", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build duel request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(IdempotencyKeyHeader, c.newKey())

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("create duel request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", statusError(resp)
	}

	var out createDuelResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode duel response: %w", err)
	}
	if out.Ref == "" {
		return "", ErrEmptyReference
	}
	c.log.Debug("Duel created", "challenge_ref", out.Ref, "tournament_id", req.TournamentID, "round", req.RoundNumber)
	return out.Ref, nil
}

// CancelDuel treats an unknown duel as already cancelled.
func (c *Client) CancelDuel(ctx context.Context, challengeRef string) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/duels/"+url.PathEscape(challengeRef), nil)
	if err != nil {
		return fmt.Errorf("failed to build cancel request: %w", err)
	}
	httpReq.Header.Set(IdempotencyKeyHeader, c.newKey())

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("cancel duel request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted, http.StatusNoContent, http.StatusNotFound:
		return nil
	}
	return statusError(resp)
}

func statusError(resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("%w: %d %s", ErrUnexpectedCode, resp.StatusCode, strings.TrimSpace(string(snippet)))
}
