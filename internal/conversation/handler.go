package conversation

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"capsules/internal/errs"
	"capsules/internal/logger"
	"capsules/internal/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all for now (Dev mode)
	},
}

type Handler struct {
	hub      *Hub
	service  *Service
	repo     *Repository
	resolver URLResolver
	broker   *Broker
	log      *logger.Logger
}

func NewHandler(hub *Hub, service *Service, repo *Repository, resolver URLResolver,
	broker *Broker, log *logger.Logger) *Handler {
	return &Handler{
		hub:      hub,
		service:  service,
		repo:     repo,
		resolver: resolver,
		broker:   broker,
		log:      log,
	}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/ws", h.ServeWs)
	r.Get("/api/starters", h.ListStarters)
	r.Route("/api/conversations/{friendshipID}", func(r chi.Router) {
		r.Post("/messages", h.SendMessage)
		r.Post("/capsules", h.CreateCapsule)
		r.Get("/capsules/{capsuleID}/messages", h.CapsuleMessages)
		r.Post("/starters/{starterID}", h.SelectStarter)
		r.Post("/moments", h.ShareMoment)
	})
}

// ServeWs attaches a viewer to a conversation: one session per socket,
// snapshot first, live frames after.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	friendshipID := r.URL.Query().Get("friendship_id")
	if friendshipID == "" {
		http.Error(w, "friendship_id is required", http.StatusBadRequest)
		return
	}

	userA, userB, err := h.repo.FriendshipParticipants(r.Context(), friendshipID)
	if err != nil {
		http.Error(w, "conversation not found", http.StatusNotFound)
		return
	}
	var friendID string
	switch userID {
	case userA:
		friendID = userB
	case userB:
		friendID = userA
	default:
		http.Error(w, "not a participant", http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "err", err)
		return
	}

	client := NewClient(h.hub, conn, nil, h.service, h.log, userID, friendshipID)
	session := NewSession(SessionConfig{
		Log:          h.log,
		Store:        h.repo,
		Resolver:     h.resolver,
		Sub:          h.broker,
		ViewerID:     userID,
		FriendID:     friendID,
		FriendshipID: friendshipID,
		Caps:         AllCapabilities(),
		Notify: func(ev Event) {
			client.Push(FrameFor(ev))
		},
	})
	client.session = session

	// The session outlives this request; it ends when the socket does.
	snapshot, err := session.Start(context.Background())
	if err != nil {
		h.log.Error("session start failed", "friendship_id", friendshipID, "err", err)
		conn.Close()
		return
	}

	client.Push(Frame{Type: FrameSnapshot, Snapshot: &snapshot})
	h.hub.register <- client

	go client.WritePump()
	go client.ReadPump()
}

func (h *Handler) ListStarters(w http.ResponseWriter, r *http.Request) {
	starters, err := h.service.ListStarters(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, starters)
}

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var in SendMessageInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		h.writeError(w, errs.InvalidArg("malformed request body"))
		return
	}
	in.SenderID = userID
	in.FriendshipID = chi.URLParam(r, "friendshipID")

	msg, err := h.service.SendMessage(r.Context(), in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, msg)
}

func (h *Handler) CreateCapsule(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var in CreateCapsuleInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		h.writeError(w, errs.InvalidArg("malformed request body"))
		return
	}
	in.CreatedBy = userID
	in.FriendshipID = chi.URLParam(r, "friendshipID")

	capsule, err := h.service.CreateCapsule(r.Context(), in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, capsule)
}

// CapsuleMessages serves the open-a-capsule flow over REST: the full list,
// newest first, with the viewer's unread ones flipped as a side effect.
func (h *Handler) CapsuleMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	msgs, err := h.repo.CapsuleMessages(r.Context(), chi.URLParam(r, "capsuleID"))
	if err != nil {
		h.writeError(w, errs.Wrap(errs.CodeInternal, "loading capsule messages failed", err))
		return
	}

	var unreadIDs []string
	for i := range msgs {
		if msgs[i].RecipientID == userID && !msgs[i].IsRead {
			unreadIDs = append(unreadIDs, msgs[i].ID)
			msgs[i].IsRead = true
		}
	}
	if len(unreadIDs) > 0 {
		if err := h.repo.MarkMessagesRead(r.Context(), unreadIDs); err != nil {
			h.log.Error("capsule mark read failed", "err", err)
		}
	}
	h.writeJSON(w, http.StatusOK, msgs)
}

func (h *Handler) SelectStarter(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	thread, msg, err := h.service.SelectStarter(r.Context(), SelectStarterInput{
		UserID:       userID,
		FriendshipID: chi.URLParam(r, "friendshipID"),
		StarterID:    chi.URLParam(r, "starterID"),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]any{
		"thread":  thread,
		"message": msg,
	})
}

const maxUploadBytes = 32 << 20

func (h *Handler) ShareMoment(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		h.writeError(w, errs.InvalidArg("malformed multipart body"))
		return
	}

	in := ShareMomentInput{
		UploaderID:   userID,
		FriendshipID: chi.URLParam(r, "friendshipID"),
		Title:        r.FormValue("title"),
		Reflection:   r.FormValue("reflection"),
	}
	for _, header := range r.MultipartForm.File["images"] {
		f, err := header.Open()
		if err != nil {
			h.writeError(w, errs.InvalidArg("unreadable image upload"))
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			h.writeError(w, errs.InvalidArg("unreadable image upload"))
			return
		}
		in.Images = append(in.Images, ImageUpload{
			Data:        data,
			ContentType: header.Header.Get("Content-Type"),
		})
	}

	moment, msg, err := h.service.ShareMoment(r.Context(), in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]any{
		"moment":  moment,
		"message": msg,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("writing response failed", "err", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := errs.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", "err", err)
	}
	ae, ok := err.(*errs.AppError)
	if !ok {
		ae = &errs.AppError{Code: errs.CodeInternal, Message: "internal error"}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ae)
}
