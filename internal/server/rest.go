package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// The REST surface is plain CRUD over the record store: account management
// and archival game metadata. The live coordinator never reads it back.

type contextKey string

const callerKey contextKey = "caller"

// requireAuth validates the bearer token and stores the caller's player id
// on the request context.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found {
			writeError(w, http.StatusUnauthorized, "Missing bearer token")
			return
		}

		playerID, err := s.auth.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		next(w, r.WithContext(context.WithValue(r.Context(), callerKey, playerID)))
	}
}

func caller(r *http.Request) string {
	id, _ := r.Context().Value(callerKey).(string)
	return id
}

func (s *Server) signupHandler(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := ValidateUsername(req.Username); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := ValidatePassword(req.Password); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create account")
		return
	}

	rec, err := s.records.CreatePlayer(r.Context(), req.Username, hash)
	if errors.Is(err, ErrUsernameTaken) {
		writeError(w, http.StatusBadRequest, "Username already taken")
		return
	}
	if err != nil {
		log.Printf("Signup failed for %s: %v", req.Username, err)
		writeError(w, http.StatusInternalServerError, "Failed to create account")
		return
	}

	token, err := s.auth.IssueToken(rec.ID, rec.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to issue token")
		return
	}

	writeJSON(w, http.StatusCreated, AuthResponse{AuthToken: token, PlayerID: rec.ID})
}

func (s *Server) loginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	rec, err := s.records.PlayerByUsername(r.Context(), req.Username)
	if err != nil || !CheckPassword(rec.PasswordHash, req.Password) {
		// Same answer for unknown user and wrong password.
		writeError(w, http.StatusUnauthorized, "Wrong credentials")
		return
	}

	token, err := s.auth.IssueToken(rec.ID, rec.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to issue token")
		return
	}

	writeJSON(w, http.StatusOK, AuthResponse{AuthToken: token, PlayerID: rec.ID})
}

func (s *Server) getPlayerHandler(w http.ResponseWriter, r *http.Request) {
	rec, err := s.records.GetPlayer(r.Context(), r.PathValue("id"))
	if errors.Is(err, ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "Player not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load player")
		return
	}

	writeJSON(w, http.StatusOK, PlayerResponse{ID: rec.ID, Username: rec.Username})
}

func (s *Server) updatePlayerHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id != caller(r) {
		writeError(w, http.StatusForbidden, "Cannot modify another player")
		return
	}

	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	hash := ""
	if req.Password != "" {
		if err := ValidatePassword(req.Password); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		var err error
		if hash, err = HashPassword(req.Password); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to update player")
			return
		}
	}

	err := s.records.UpdatePlayer(r.Context(), id, req.Username, hash)
	if errors.Is(err, ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "Player not found")
		return
	}
	if errors.Is(err, ErrUsernameTaken) {
		writeError(w, http.StatusBadRequest, "Username already taken")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update player")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deletePlayerHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id != caller(r) {
		writeError(w, http.StatusForbidden, "Cannot delete another player")
		return
	}

	if err := s.records.DeletePlayer(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete player")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// createRecordHandler allocates the durable record whose id doubles as the
// sessionId used on the socket.
func (s *Server) createRecordHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := req.Config.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Players) == 0 {
		writeError(w, http.StatusBadRequest, "Please provide all required parameters")
		return
	}

	creator := req.Creator
	if creator == "" {
		creator = caller(r)
	}

	rec := GameRecord{
		ID:      uuid.New().String(),
		Status:  "created",
		Config:  req.Config,
		Players: req.Players,
		Creator: creator,
	}
	if err := s.records.CreateRecord(r.Context(), rec); err != nil {
		log.Printf("Failed to create game record: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to create game")
		return
	}

	writeJSON(w, http.StatusCreated, CreateRecordResponse{ID: rec.ID})
}

func (s *Server) getRecordHandler(w http.ResponseWriter, r *http.Request) {
	rec, err := s.records.GetRecord(r.Context(), r.PathValue("id"))
	if errors.Is(err, ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "Game not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load game")
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) recordsByPlayerHandler(w http.ResponseWriter, r *http.Request) {
	records, err := s.records.RecordsByPlayer(r.Context(), r.PathValue("playerId"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load games")
		return
	}

	writeJSON(w, http.StatusOK, map[string][]GameRecord{"games": records})
}

func (s *Server) updateRecordHandler(w http.ResponseWriter, r *http.Request) {
	var req UpdateRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	switch req.Status {
	case "created", "playing", "finished":
	default:
		writeError(w, http.StatusBadRequest, "Invalid status")
		return
	}

	err := s.records.UpdateRecord(r.Context(), r.PathValue("id"), req.Status, req.Winner)
	if errors.Is(err, ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "Game not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update game")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteRecordHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.records.DeleteRecord(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete game")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"errorMessage": msg})
}
