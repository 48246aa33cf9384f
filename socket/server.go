package socket

import (
	"log"

	socketio "github.com/googollee/go-socket.io"

	"partyup_server/services"
)

// NewSocketServer initializes and returns a new Socket.IO server. Clients
// join a room per watched party and a room for their own user id; the engine
// broadcasts into those rooms.
func NewSocketServer() *socketio.Server {
	server := socketio.NewServer(nil)

	server.OnConnect("/", func(s socketio.Conn) error {
		log.Println("Socket connected:", s.ID())
		return nil
	})

	server.OnEvent("/", "joinParty", func(s socketio.Conn, partyID string) {
		if partyID == "" {
			log.Println("Invalid partyId in joinParty request")
			return
		}
		s.Join("party:" + partyID)
	})

	server.OnEvent("/", "leaveParty", func(s socketio.Conn, partyID string) {
		if partyID != "" {
			s.Leave("party:" + partyID)
		}
	})

	server.OnEvent("/", "joinUser", func(s socketio.Conn, userID string) {
		if userID == "" {
			log.Println("Invalid userId in joinUser request")
			return
		}
		s.Join("user:" + userID)
	})

	server.OnDisconnect("/", func(s socketio.Conn, reason string) {
		log.Println("Socket disconnected:", s.ID(), reason)
	})

	return server
}

// Dispatcher broadcasts crediting and payout events to connected clients. It
// implements services.Dispatcher; the engine itself never touches delivery.
type Dispatcher struct {
	Server *socketio.Server
}

func (d *Dispatcher) Dispatch(n services.Notification) {
	payload := map[string]interface{}{
		"event":   n.Event,
		"userId":  n.UserID,
		"partyId": n.PartyID,
	}
	for k, v := range n.Data {
		payload[k] = v
	}

	if n.UserID != "" {
		d.Server.BroadcastToRoom("/", "user:"+n.UserID, n.Event, payload)
	}
	if n.PartyID != "" {
		d.Server.BroadcastToRoom("/", "party:"+n.PartyID, n.Event, payload)
	}
}

// ForwardTransitions relays status transitions from a synchronization manager
// to the affected party room and the user's own room.
func ForwardTransitions(server *socketio.Server, userID string, events <-chan services.StatusTransition) {
	for t := range events {
		payload := map[string]interface{}{
			"partyId":   t.PartyID,
			"userId":    userID,
			"oldStatus": t.Old,
			"newStatus": t.New,
			"haptic":    t.Haptic,
		}
		server.BroadcastToRoom("/", "party:"+t.PartyID, "statusTransition", payload)
		server.BroadcastToRoom("/", "user:"+userID, "statusTransition", payload)
	}
}
