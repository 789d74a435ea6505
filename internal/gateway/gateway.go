package gateway

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"cmelive/internal/config"
	"cmelive/internal/room"
	"cmelive/pkg/interfaces"
	"cmelive/pkg/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Browser clients connect from arbitrary LAN origins; tighten per
		// deployment.
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// Gateway accepts real-time connections, verifies identity before any event
// is processed, and dispatches inbound events to handlers that consult the
// access resolver and mutate the room registry.
type Gateway struct {
	verifier interfaces.IdentityVerifier
	access   interfaces.AccessResolver
	courses  interfaces.CourseStore
	registry *room.Registry
	wsConfig *config.WebSocketConfig

	mu      sync.RWMutex
	clients map[string]sender // connection id -> connection
}

// NewGateway creates a gateway over the given collaborators. The registry is
// exclusively owned by the returned gateway; nothing else may mutate it.
func NewGateway(
	verifier interfaces.IdentityVerifier,
	access interfaces.AccessResolver,
	courses interfaces.CourseStore,
	registry *room.Registry,
	wsConfig *config.WebSocketConfig,
) *Gateway {
	return &Gateway{
		verifier: verifier,
		access:   access,
		courses:  courses,
		registry: registry,
		wsConfig: wsConfig,
		clients:  make(map[string]sender),
	}
}

// HandleWebSocket upgrades a connection after verifying the bearer
// credential. Verification happens before the upgrade, so an unauthenticated
// attempt is rejected with a plain HTTP status and no event is ever
// processed for it.
func (g *Gateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	user, err := g.verifier.Verify(r.Context(), bearerToken(r))
	if err != nil {
		log.Printf("WebSocket authentication failed: %v", err)
		http.Error(w, toGatewayError(err).Message, http.StatusUnauthorized)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	conn := newConnection(ws, user, g.wsConfig.BufferSize, g.wsConfig.WriteTimeout)
	g.addClient(conn)
	log.Printf("User connected: %s (%s) conn=%s", user.FullName, user.Email, conn.ID())

	go g.handleConnection(conn, ws)
}

// bearerToken pulls the credential from the Authorization header or, for
// browser WebSocket clients that cannot set headers, the token query
// parameter.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// handleConnection runs the read pump with transport-level liveness probing.
// Events from one connection are applied strictly in the order received.
func (g *Gateway) handleConnection(conn *Connection, ws *websocket.Conn) {
	defer g.disconnect(conn, "connection closed")

	if err := ws.SetReadDeadline(time.Now().Add(g.wsConfig.ReadTimeout)); err != nil {
		return
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(g.wsConfig.ReadTimeout))
	})

	ticker := time.NewTicker(g.wsConfig.PingInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				deadline := time.Now().Add(g.wsConfig.WriteTimeout)
				if err := ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					return
				}
			case <-conn.ctx.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket read error for %s: %v", conn.User().Email, err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		g.dispatch(context.Background(), conn, data)
	}
}

// dispatch decodes the envelope and runs the matching handler. Every handler
// error is converted into a structured error reply to the originating
// connection; nothing propagates far enough to terminate the connection.
func (g *Gateway) dispatch(ctx context.Context, c sender, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		g.sendError(c, types.NewGatewayError(types.KindValidation, "malformed event payload"))
		return
	}

	var err error
	switch env.Event {
	case EventJoinCourseRoom:
		var req courseRequest
		if err = decode(env.Data, &req); err == nil {
			err = g.handleJoinRoom(ctx, c, req)
		}
	case EventStartLiveSession:
		var req courseRequest
		if err = decode(env.Data, &req); err == nil {
			err = g.handleLiveSession(ctx, c, req, true)
		}
	case EventEndLiveSession:
		var req courseRequest
		if err = decode(env.Data, &req); err == nil {
			err = g.handleLiveSession(ctx, c, req, false)
		}
	case EventSendChatMessage:
		var req chatRequest
		if err = decode(env.Data, &req); err == nil {
			err = g.handleChatMessage(c, req)
		}
	case EventToggleVideo:
		var req toggleRequest
		if err = decode(env.Data, &req); err == nil {
			err = g.handleToggle(c, req, g.registry.SetVideo, EventParticipantVideoToggled)
		}
	case EventToggleAudio:
		var req toggleRequest
		if err = decode(env.Data, &req); err == nil {
			err = g.handleToggle(c, req, g.registry.SetAudio, EventParticipantAudioToggled)
		}
	case EventToggleScreenShare:
		var req toggleRequest
		if err = decode(env.Data, &req); err == nil {
			err = g.handleToggle(c, req, g.registry.SetScreenShare, EventParticipantScreenShareToggled)
		}
	case EventWebRTCOffer, EventWebRTCAnswer, EventWebRTCICECandidate:
		var req signalRequest
		if err = decode(env.Data, &req); err == nil {
			err = g.handleSignal(c, env.Event, req)
		}
	default:
		err = types.NewGatewayError(types.KindValidation, "unknown event: "+env.Event)
	}

	if err != nil {
		gw := toGatewayError(err)
		if gw.Kind == types.KindInternal {
			log.Printf("Handler error for event %s from %s: %v", env.Event, c.User().Email, err)
		}
		g.sendError(c, gw)
	}
}

func decode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return types.NewGatewayError(types.KindValidation, "missing event payload")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return types.NewGatewayError(types.KindValidation, "malformed event payload")
	}
	return nil
}

// disconnect removes the connection from every room it joined and notifies
// the remaining occupants. Cleanup of in-memory state proceeds regardless of
// persistence failures.
func (g *Gateway) disconnect(c sender, reason string) {
	g.removeClient(c.ID())
	_ = c.Close()

	departures := g.registry.RemoveConnection(c.ID())
	for _, d := range departures {
		if d.LiveEnded {
			g.broadcast(d.Remaining, EventLiveSessionEnded, liveEndedPayload{
				Reason:  "instructor disconnected",
				EndedAt: d.EndedAt,
			})

			// Persistence errors must not block room cleanup.
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := g.courses.SetCourseLiveState(ctx, d.CourseID, false, d.EndedAt); err != nil {
				log.Printf("Failed to persist live end for course %s on disconnect: %v", d.CourseID, err)
			}
			cancel()
		}

		g.broadcast(d.Remaining, EventParticipantLeft, participantLeftPayload{
			ParticipantID: c.ID(),
			Participant:   d.Participant,
			Reason:        reason,
		})

		if d.RoomDeleted {
			log.Printf("Empty room cleaned up: %s", d.RoomID)
		}
	}

	log.Printf("User disconnected: %s conn=%s (%s)", c.User().FullName, c.ID(), reason)
}

func (g *Gateway) addClient(c sender) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.clients[c.ID()] = c
}

func (g *Gateway) removeClient(connID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.clients, connID)
}

func (g *Gateway) client(connID string) (sender, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.clients[connID]
	return c, ok
}

// ClientCount reports the number of live connections.
func (g *Gateway) ClientCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.clients)
}

// broadcast fans an event out to the named connections. Delivery failures
// are logged and skipped; one slow or dead connection never blocks the rest.
func (g *Gateway) broadcast(connIDs []string, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("Failed to marshal %s broadcast: %v", event, err)
		return
	}
	env := Envelope{Event: event, Data: data}

	for _, id := range connIDs {
		if c, ok := g.client(id); ok {
			if err := c.WriteJSON(env); err != nil {
				log.Printf("Failed to deliver %s to %s: %v", event, id, err)
			}
		}
	}
}

func (g *Gateway) send(c sender, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("Failed to marshal %s reply: %v", event, err)
		return
	}
	if err := c.WriteJSON(Envelope{Event: event, Data: data}); err != nil {
		log.Printf("Failed to send %s to %s: %v", event, c.ID(), err)
	}
}

func (g *Gateway) sendError(c sender, gw *types.GatewayError) {
	g.send(c, EventError, gw)
}
