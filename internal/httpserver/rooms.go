package httpserver

import (
	"net/http"
	"sort"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-media-gateway/internal/room"
)

type roomSummary struct {
	ID        string        `json:"id"`
	WorkerID  string        `json:"workerId"`
	RouterID  string        `json:"routerId"`
	CreatedAt time.Time     `json:"createdAt"`
	Peers     []peerSummary `json:"peers"`
}

type peerSummary struct {
	ID         string `json:"id"`
	UserID     string `json:"userId,omitempty"`
	Transports int    `json:"transports"`
	Producers  int    `json:"producers"`
	Consumers  int    `json:"consumers"`
	Pending    int    `json:"pendingMessages"`
	Dropped    uint64 `json:"droppedMessages"`
}

// RoomsHandler serves a JSON snapshot of every live room and its peers.
func RoomsHandler(reg *room.Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rooms := reg.Rooms()
		out := make([]roomSummary, 0, len(rooms))
		for _, rm := range rooms {
			summary := roomSummary{
				ID:        rm.ID(),
				WorkerID:  rm.WorkerID(),
				RouterID:  rm.RouterID(),
				CreatedAt: rm.CreatedAt(),
				Peers:     []peerSummary{},
			}
			for _, p := range rm.Peers() {
				transports, producers, consumers := p.Counts()
				summary.Peers = append(summary.Peers, peerSummary{
					ID:         p.ID(),
					UserID:     p.UserID(),
					Transports: transports,
					Producers:  producers,
					Consumers:  consumers,
					Pending:    p.Pending(),
					Dropped:    p.Dropped(),
				})
			}
			sort.Slice(summary.Peers, func(i, j int) bool { return summary.Peers[i].ID < summary.Peers[j].ID })
			out = append(out, summary)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		WriteJSON(w, http.StatusOK, map[string]any{"rooms": out})
	})
}
