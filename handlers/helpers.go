package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/Dosada05/duel-tournament/services"
	"github.com/go-chi/chi/v5"
)

type jsonResponse map[string]interface{}

const maxBodyBytes = 1_048_576

func readJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBodyBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	err := dec.Decode(dst)
	if err != nil {
		var syntaxError *json.SyntaxError
		var unmarshalTypeError *json.UnmarshalTypeError
		var invalidUnmarshalError *json.InvalidUnmarshalError
		var maxBytesError *http.MaxBytesError

		switch {
		case errors.As(err, &syntaxError):
			return fmt.Errorf("body contains badly-formed JSON (at character %d)", syntaxError.Offset)
		case errors.Is(err, io.ErrUnexpectedEOF):
			return errors.New("body contains badly-formed JSON")
		case errors.As(err, &unmarshalTypeError):
			if unmarshalTypeError.Field != "" {
				return fmt.Errorf("body contains incorrect JSON type for field %q", unmarshalTypeError.Field)
			}
			return fmt.Errorf("body contains incorrect JSON type (at character %d)", unmarshalTypeError.Offset)
		case errors.Is(err, io.EOF):
			return errors.New("body must not be empty")
		case strings.HasPrefix(err.Error(), "json: unknown field "):
			fieldName := strings.TrimPrefix(err.Error(), "json: unknown field ")
			return fmt.Errorf("body contains unknown key %s", fieldName)
		case errors.As(err, &maxBytesError):
			return fmt.Errorf("body must not be larger than %d bytes", maxBodyBytes)
		case errors.As(err, &invalidUnmarshalError):
			panic(err)
		default:
			return err
		}
	}

	err = dec.Decode(&struct{}{})
	if !errors.Is(err, io.EOF) {
		return errors.New("body must only contain a single JSON value")
	}

	return nil
}

func writeJSON(w http.ResponseWriter, status int, data interface{}, headers http.Header) error {
	js, err := json.MarshalIndent(data, "", "\t")
	if err != nil {
		return err
	}
	js = append(js, '\n')

	for key, value := range headers {
		w.Header()[key] = value
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err = w.Write(js)
	return err
}

func getIDFromURL(r *http.Request, param string) (int, error) {
	raw := chi.URLParam(r, param)
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", param, raw)
	}
	return id, nil
}

// responder writes error envelopes and logs server-side failures.
type responder struct {
	log *slog.Logger
}

func newResponder(logger *slog.Logger, component string) responder {
	if logger == nil {
		logger = slog.Default()
	}
	return responder{log: logger.With("component", component)}
}

func (rs responder) errorResponse(w http.ResponseWriter, r *http.Request, status int, message interface{}) {
	if err := writeJSON(w, status, jsonResponse{"error": message}, nil); err != nil {
		rs.log.Error("Failed to write error response", "path", r.URL.Path, "error", err)
		w.WriteHeader(http.StatusInternalServerError)
	}
}

func (rs responder) serverErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	rs.log.Error("Internal server error", "method", r.Method, "path", r.URL.Path, "error", err)
	rs.errorResponse(w, r, http.StatusInternalServerError, "the server encountered a problem and could not process your request")
}

func (rs responder) badRequestResponse(w http.ResponseWriter, r *http.Request, err error) {
	rs.errorResponse(w, r, http.StatusBadRequest, err.Error())
}

func (rs responder) notFoundResponse(w http.ResponseWriter, r *http.Request) {
	rs.errorResponse(w, r, http.StatusNotFound, "the requested resource could not be found")
}

func (rs responder) unauthorizedResponse(w http.ResponseWriter, r *http.Request, message string) {
	rs.errorResponse(w, r, http.StatusUnauthorized, message)
}

func (rs responder) writeOK(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	if err := writeJSON(w, status, data, nil); err != nil {
		rs.serverErrorResponse(w, r, err)
	}
}

// mapServiceErrorToHTTP translates service errors into HTTP responses.
func (rs responder) mapServiceErrorToHTTP(w http.ResponseWriter, r *http.Request, err error) {
	var incomplete *services.RoundIncompleteError
	var insufficient *services.InsufficientParticipantsError

	switch {
	case errors.Is(err, services.ErrNotFound),
		errors.Is(err, services.ErrTournamentNotFound),
		errors.Is(err, services.ErrRoundNotFound):
		rs.notFoundResponse(w, r)

	case errors.Is(err, services.ErrValidationFailed):
		rs.badRequestResponse(w, r, err)

	case errors.As(err, &incomplete):
		rs.errorResponse(w, r, http.StatusConflict, jsonResponse{
			"message":      incomplete.Error(),
			"round_number": incomplete.RoundNumber,
			"pending":      incomplete.Pending,
		})
	case errors.As(err, &insufficient),
		errors.Is(err, services.ErrActiveTournamentExists),
		errors.Is(err, services.ErrTournamentNotActive),
		errors.Is(err, services.ErrRoundAlreadyActive),
		errors.Is(err, services.ErrRoundLimitReached):
		rs.errorResponse(w, r, http.StatusConflict, err.Error())

	case errors.Is(err, services.ErrForbiddenOperation):
		rs.errorResponse(w, r, http.StatusForbidden, err.Error())

	case errors.Is(err, services.ErrProblemSelectionFailed),
		errors.Is(err, services.ErrDuelCreationFailed):
		rs.log.Warn("Collaborator failure", "path", r.URL.Path, "error", err)
		rs.errorResponse(w, r, http.StatusBadGateway, err.Error())

	default:
		rs.serverErrorResponse(w, r, err)
	}
}
