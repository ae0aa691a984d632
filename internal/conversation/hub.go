package conversation

import (
	"context"

	"capsules/internal/logger"
)

// Hub tracks the live viewers of each conversation. Registration and
// teardown flow through channels into the single Run goroutine, which is the
// only thing that touches the rooms map.
type Hub struct {
	log *logger.Logger

	rooms map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		log:        log,
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for _, room := range h.rooms {
				for client := range room {
					close(client.send)
				}
			}
			h.rooms = make(map[string]map[*Client]bool)
			return

		case client := <-h.register:
			room := h.rooms[client.friendshipID]
			if room == nil {
				room = make(map[*Client]bool)
				h.rooms[client.friendshipID] = room
			}
			room[client] = true

		case client := <-h.unregister:
			if room, ok := h.rooms[client.friendshipID]; ok {
				if _, ok := room[client]; ok {
					delete(room, client)
					close(client.send)
					if len(room) == 0 {
						delete(h.rooms, client.friendshipID)
					}
				}
			}
		}
	}
}
