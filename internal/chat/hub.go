package chat

import (
	"context"
	"log/slog"

	"go-counsel/internal/metrics"
	"go-counsel/internal/protocol"
)

// UserRoom is the personal channel every connection of a user joins on connect.
func UserRoom(userID string) string { return "user:" + userID }

// ConsultationRoom is joined explicitly while a consultation screen is open.
func ConsultationRoom(consultationID string) string { return "consultation:" + consultationID }

type joinRequest struct {
	client         *Client
	consultationID string
}

type unicast struct {
	client  *Client
	payload []byte
}

// Hub maps logical audiences onto connections.
// Run is the only goroutine that touches the client and room maps; everything
// else talks to it through channels.
type Hub struct {
	clients map[*Client]bool
	rooms   map[string]map[*Client]bool
	roomOf  map[*Client]string // current consultation room per connection

	Register   chan *Client
	Unregister chan *Client
	join       chan joinRequest
	direct     chan unicast
	deliver    chan Delivery
	done       chan struct{}

	broker  Broker
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewHub(broker Broker, logger *slog.Logger, m *metrics.Metrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		rooms:      make(map[string]map[*Client]bool),
		roomOf:     make(map[*Client]string),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		join:       make(chan joinRequest),
		direct:     make(chan unicast, 256),
		deliver:    make(chan Delivery, 256),
		done:       make(chan struct{}),
		broker:     broker,
		logger:     logger.With("component", "hub"),
		metrics:    m,
	}
}

// Run owns the routing state until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	go func() {
		err := h.broker.Subscribe(ctx, func(d Delivery) {
			select {
			case h.deliver <- d:
			case <-ctx.Done():
			}
		})
		if err != nil && ctx.Err() == nil {
			h.logger.Error("broker subscription ended",
				"operation", "hub_subscribe",
				"outcome", "failure",
				"error", err.Error(),
			)
		}
	}()

	for {
		select {
		case client := <-h.Register:
			h.clients[client] = true
			h.addToRoom(UserRoom(client.UserID), client)

		case client := <-h.Unregister:
			if _, ok := h.clients[client]; ok {
				h.drop(client)
			}

		case req := <-h.join:
			if _, ok := h.clients[req.client]; !ok {
				continue
			}
			if prev, ok := h.roomOf[req.client]; ok {
				h.removeFromRoom(prev, req.client)
			}
			room := ConsultationRoom(req.consultationID)
			h.addToRoom(room, req.client)
			h.roomOf[req.client] = room

		case u := <-h.direct:
			if _, ok := h.clients[u.client]; ok {
				h.send(u.client, u.payload)
			}

		case d := <-h.deliver:
			h.fanOut(d)

		case <-ctx.Done():
			for client := range h.clients {
				h.drop(client)
			}
			return
		}
	}
}

func (h *Hub) fanOut(d Delivery) {
	if d.All {
		for client := range h.clients {
			if client.ID != d.ExceptConn {
				h.send(client, d.Payload)
			}
		}
		return
	}

	seen := make(map[*Client]bool)
	for _, room := range d.Rooms {
		for client := range h.rooms[room] {
			if seen[client] || client.ID == d.ExceptConn {
				continue
			}
			seen[client] = true
			h.send(client, d.Payload)
		}
	}
}

// send never blocks the hub. A client whose buffer is full is dropped; its read
// pump notices the closed connection and finishes the disconnect.
func (h *Hub) send(client *Client, payload []byte) {
	select {
	case client.Send <- payload:
	default:
		h.logger.Warn("dropping slow connection",
			"operation", "hub_send",
			"outcome", "failure",
			"conn_id", client.ID,
			"user_id", client.UserID,
		)
		h.metrics.DeliveryDropped()
		h.drop(client)
	}
}

func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	h.removeFromRoom(UserRoom(client.UserID), client)
	if room, ok := h.roomOf[client]; ok {
		h.removeFromRoom(room, client)
		delete(h.roomOf, client)
	}
	close(client.Send)
}

func (h *Hub) addToRoom(room string, client *Client) {
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]bool)
		h.rooms[room] = members
	}
	members[client] = true
}

func (h *Hub) removeFromRoom(room string, client *Client) {
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, client)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// Join moves the connection into a consultation room, leaving any previous one.
// Callers must have verified the user is a participant.
func (h *Hub) Join(client *Client, consultationID string) {
	select {
	case h.join <- joinRequest{client: client, consultationID: consultationID}:
	case <-h.done:
	}
}

// SendTo delivers an event to one local connection.
func (h *Hub) SendTo(client *Client, ev protocol.Outbound) {
	payload, err := protocol.Encode(ev)
	if err != nil {
		h.logger.Error("encode failed", "operation", "hub_send_to", "event", ev.Event(), "error", err.Error())
		return
	}
	select {
	case h.direct <- unicast{client: client, payload: payload}:
	case <-h.done:
	}
}

// EmitToUsers reaches every connection of the given users through their personal channels.
func (h *Hub) EmitToUsers(ctx context.Context, ev protocol.Outbound, userIDs ...string) {
	rooms := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		rooms = append(rooms, UserRoom(id))
	}
	h.publish(ctx, ev, Delivery{Rooms: rooms})
}

// EmitToConsultation reaches the consultation channel and the personal channels of
// the participants, so a participant who has not joined the room still gets the event.
func (h *Hub) EmitToConsultation(ctx context.Context, consultationID string, ev protocol.Outbound, participantIDs ...string) {
	rooms := []string{ConsultationRoom(consultationID)}
	for _, id := range participantIDs {
		rooms = append(rooms, UserRoom(id))
	}
	h.publish(ctx, ev, Delivery{Rooms: rooms})
}

// EmitToRoom reaches only the consultation channel, skipping one connection.
func (h *Hub) EmitToRoom(ctx context.Context, consultationID, exceptConn string, ev protocol.Outbound) {
	h.publish(ctx, ev, Delivery{Rooms: []string{ConsultationRoom(consultationID)}, ExceptConn: exceptConn})
}

// EmitToAll reaches every connection.
func (h *Hub) EmitToAll(ctx context.Context, ev protocol.Outbound) {
	h.publish(ctx, ev, Delivery{All: true})
}

// publish is best-effort: a transport failure is logged, never returned.
func (h *Hub) publish(ctx context.Context, ev protocol.Outbound, d Delivery) {
	payload, err := protocol.Encode(ev)
	if err != nil {
		h.logger.ErrorContext(ctx, "encode failed", "operation", "hub_publish", "event", ev.Event(), "error", err.Error())
		return
	}
	d.Payload = payload
	if err := h.broker.Publish(context.WithoutCancel(ctx), d); err != nil {
		h.logger.WarnContext(ctx, "publish failed",
			"operation", "hub_publish",
			"outcome", "failure",
			"event", ev.Event(),
			"error", err.Error(),
		)
	}
}
