package friendship

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"capsules/internal/errs"
	"capsules/internal/middleware"
)

type Handler struct {
	Service *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{Service: s}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/api/friends", h.ListFriends)
	r.Get("/api/friend-requests", h.ListRequests)
	r.Post("/api/friend-requests", h.SendRequest)
	r.Post("/api/friend-requests/{requestID}", h.Respond)
}

func (h *Handler) ListFriends(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	friends, err := h.Service.Friends(r.Context(), userID)
	if err != nil {
		http.Error(w, err.Error(), errs.HTTPStatus(err))
		return
	}
	json.NewEncoder(w).Encode(friends)
}

func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	requests, err := h.Service.PendingRequests(r.Context(), userID)
	if err != nil {
		http.Error(w, err.Error(), errs.HTTPStatus(err))
		return
	}
	json.NewEncoder(w).Encode(requests)
}

func (h *Handler) SendRequest(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	var body struct {
		FriendID string `json:"friend_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	f, err := h.Service.SendRequest(r.Context(), userID, body.FriendID)
	if err != nil {
		http.Error(w, err.Error(), errs.HTTPStatus(err))
		return
	}
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(f)
}

func (h *Handler) Respond(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	if err := h.Service.Respond(r.Context(), userID, chi.URLParam(r, "requestID"), body.Status); err != nil {
		http.Error(w, err.Error(), errs.HTTPStatus(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
