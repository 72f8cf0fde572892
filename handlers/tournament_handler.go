package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Dosada05/duel-tournament/middleware"
	"github.com/Dosada05/duel-tournament/models"
	"github.com/Dosada05/duel-tournament/repositories"
	"github.com/Dosada05/duel-tournament/services"
	"github.com/go-chi/chi/v5"
)

type TournamentHandler struct {
	tournamentService services.TournamentService
	roundService      services.RoundService
	matchService      services.MatchService
	responder
}

func NewTournamentHandler(ts services.TournamentService, rs services.RoundService, ms services.MatchService, logger *slog.Logger) *TournamentHandler {
	return &TournamentHandler{
		tournamentService: ts,
		roundService:      rs,
		matchService:      ms,
		responder:         newResponder(logger, "tournament_handler"),
	}
}

// CreateHandler handles POST /tournaments. The caller becomes the host.
func (h *TournamentHandler) CreateHandler(w http.ResponseWriter, r *http.Request) {
	currentUserID, err := middleware.GetUserIDFromContext(r.Context())
	if err != nil {
		h.unauthorizedResponse(w, r, "authentication required to create tournament")
		return
	}

	var input services.CreateTournamentInput
	if err := readJSON(w, r, &input); err != nil {
		h.badRequestResponse(w, r, err)
		return
	}
	input.HostID = currentUserID
	if input.GuildID == "" {
		input.GuildID = middleware.GetGuildIDFromContext(r.Context())
	}

	result, err := h.tournamentService.CreateTournament(r.Context(), input)
	if err != nil {
		h.mapServiceErrorToHTTP(w, r, err)
		return
	}
	h.writeOK(w, r, http.StatusCreated, result)
}

// GetByIDHandler handles GET /tournaments/{tournamentID}
func (h *TournamentHandler) GetByIDHandler(w http.ResponseWriter, r *http.Request) {
	id, err := getIDFromURL(r, "tournamentID")
	if err != nil {
		h.badRequestResponse(w, r, err)
		return
	}

	tournament, err := h.tournamentService.GetTournament(r.Context(), id)
	if err != nil {
		h.mapServiceErrorToHTTP(w, r, err)
		return
	}
	h.writeOK(w, r, http.StatusOK, jsonResponse{"tournament": tournament})
}

// ListHandler handles GET /tournaments
func (h *TournamentHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	var filter repositories.ListTournamentsFilter
	query := r.URL.Query()

	if guildID := query.Get("guild_id"); guildID != "" {
		filter.GuildID = &guildID
	}
	if statusStr := query.Get("status"); statusStr != "" {
		status := models.TournamentStatus(statusStr)
		switch status {
		case models.StatusActive, models.StatusCompleted, models.StatusCancelled:
			filter.Status = &status
		default:
			h.badRequestResponse(w, r, errors.New("invalid status query parameter"))
			return
		}
	}
	if limitStr := query.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit <= 0 {
			h.badRequestResponse(w, r, errors.New("invalid limit query parameter"))
			return
		}
		filter.Limit = limit
	}
	if offsetStr := query.Get("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			h.badRequestResponse(w, r, errors.New("invalid offset query parameter"))
			return
		}
		filter.Offset = offset
	}

	tournaments, err := h.tournamentService.ListTournaments(r.Context(), filter)
	if err != nil {
		h.mapServiceErrorToHTTP(w, r, err)
		return
	}
	if tournaments == nil {
		tournaments = []models.Tournament{}
	}
	h.writeOK(w, r, http.StatusOK, jsonResponse{"tournaments": tournaments})
}

// ActiveByGuildHandler handles GET /guilds/{guildID}/tournaments/active
func (h *TournamentHandler) ActiveByGuildHandler(w http.ResponseWriter, r *http.Request) {
	guildID := chi.URLParam(r, "guildID")
	if guildID == "" {
		h.badRequestResponse(w, r, errors.New("guild id is required"))
		return
	}
	tournament, err := h.tournamentService.GetActiveTournament(r.Context(), guildID)
	if err != nil {
		h.mapServiceErrorToHTTP(w, r, err)
		return
	}
	h.writeOK(w, r, http.StatusOK, jsonResponse{"tournament": tournament})
}

// hostTournamentID resolves the path id and checks the caller hosts that tournament.
// It writes the error response itself and reports false on failure.
func (h *TournamentHandler) hostTournamentID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := getIDFromURL(r, "tournamentID")
	if err != nil {
		h.badRequestResponse(w, r, err)
		return 0, false
	}
	currentUserID, err := middleware.GetUserIDFromContext(r.Context())
	if err != nil {
		h.unauthorizedResponse(w, r, "authentication required")
		return 0, false
	}
	if err := h.tournamentService.EnsureHost(r.Context(), id, currentUserID); err != nil {
		h.mapServiceErrorToHTTP(w, r, err)
		return 0, false
	}
	return id, true
}

// StartRoundHandler handles POST /tournaments/{tournamentID}/rounds
func (h *TournamentHandler) StartRoundHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.hostTournamentID(w, r)
	if !ok {
		return
	}
	round, err := h.roundService.StartRound(r.Context(), id)
	if err != nil {
		h.mapServiceErrorToHTTP(w, r, err)
		return
	}
	h.writeOK(w, r, http.StatusCreated, jsonResponse{"round": round})
}

// AdvanceHandler handles POST /tournaments/{tournamentID}/advance
func (h *TournamentHandler) AdvanceHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.hostTournamentID(w, r)
	if !ok {
		return
	}
	result, err := h.roundService.AdvanceTournament(r.Context(), id)
	if err != nil {
		h.mapServiceErrorToHTTP(w, r, err)
		return
	}
	h.writeOK(w, r, http.StatusOK, result)
}

// CancelHandler handles POST /tournaments/{tournamentID}/cancel
func (h *TournamentHandler) CancelHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.hostTournamentID(w, r)
	if !ok {
		return
	}
	result, err := h.tournamentService.CancelTournament(r.Context(), id)
	if err != nil {
		h.mapServiceErrorToHTTP(w, r, err)
		return
	}
	h.writeOK(w, r, http.StatusOK, result)
}

// StandingsHandler handles GET /tournaments/{tournamentID}/standings
func (h *TournamentHandler) StandingsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := getIDFromURL(r, "tournamentID")
	if err != nil {
		h.badRequestResponse(w, r, err)
		return
	}
	standings, err := h.tournamentService.GetStandings(r.Context(), id)
	if err != nil {
		h.mapServiceErrorToHTTP(w, r, err)
		return
	}
	if standings == nil {
		standings = []models.Standing{}
	}
	h.writeOK(w, r, http.StatusOK, jsonResponse{"standings": standings})
}

// CurrentRoundHandler handles GET /tournaments/{tournamentID}/rounds/current
func (h *TournamentHandler) CurrentRoundHandler(w http.ResponseWriter, r *http.Request) {
	id, err := getIDFromURL(r, "tournamentID")
	if err != nil {
		h.badRequestResponse(w, r, err)
		return
	}
	round, err := h.tournamentService.GetCurrentRound(r.Context(), id)
	if err != nil {
		h.mapServiceErrorToHTTP(w, r, err)
		return
	}
	h.writeOK(w, r, http.StatusOK, jsonResponse{"round": round})
}

// MatchesHandler handles GET /tournaments/{tournamentID}/matches?round=
func (h *TournamentHandler) MatchesHandler(w http.ResponseWriter, r *http.Request) {
	id, err := getIDFromURL(r, "tournamentID")
	if err != nil {
		h.badRequestResponse(w, r, err)
		return
	}
	var roundNumber *int
	if raw := r.URL.Query().Get("round"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.badRequestResponse(w, r, errors.New("invalid round query parameter"))
			return
		}
		roundNumber = &n
	}
	matches, err := h.matchService.ListMatches(r.Context(), id, roundNumber)
	if err != nil {
		h.mapServiceErrorToHTTP(w, r, err)
		return
	}
	if matches == nil {
		matches = []models.Match{}
	}
	h.writeOK(w, r, http.StatusOK, jsonResponse{"matches": matches})
}
