// Package ws tracks live WebSocket connections, who has joined on them, and
// routes client messages to the chat pipeline.
package ws

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"persona-chat/backend/internal/chat"
	"persona-chat/backend/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
)

const defaultWelcome = "Connected to the persona chat server."

var (
	ErrUnknownConnection = errors.New("unknown connection")
	ErrRegistryClosed    = errors.New("registry is shut down")
)

// Conn is one live connection. Send must not block; implementations queue
// the frame or fail.
type Conn interface {
	ID() string
	Send(msg []byte) error
	Close()
}

// TurnHandler runs chat turns for the registry.
type TurnHandler interface {
	HandleText(ctx context.Context, req chat.TurnRequest) chat.TurnResponse
	HandleVoice(ctx context.Context, audio []byte, req chat.TurnRequest) chat.TurnResponse
}

// LiveSession describes one registered connection.
type LiveSession struct {
	ConnectionID string    `json:"connectionId"`
	UserID       uint      `json:"userId,omitempty"`
	ConnectedAt  time.Time `json:"connectedAt"`
}

type entry struct {
	conn        Conn
	connectedAt time.Time
}

// Options configures a Registry.
type Options struct {
	Welcome string
	Turns   TurnHandler
	Now     func() time.Time
}

// Registry owns every live connection and the user bindings on them.
//
// A user is online iff some live connection is bound to it. users and bound
// are only mutated together under bindMu, and a connection is removed from
// conns before its binding is dropped, so Join can never bind a connection
// that Disconnect has already cleaned up.
type Registry struct {
	log     *logger.Logger
	turns   TurnHandler
	welcome string
	now     func() time.Time

	mu     sync.RWMutex
	conns  map[string]entry
	closed bool

	bindMu sync.Mutex
	users  map[uint]string
	bound  map[string]uint
}

// NewRegistry creates an empty registry.
func NewRegistry(log *logger.Logger, opts Options) *Registry {
	if opts.Welcome == "" {
		opts.Welcome = defaultWelcome
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{
		log:     log.WithComponent("ws-registry"),
		turns:   opts.Turns,
		welcome: opts.Welcome,
		now:     opts.Now,
		conns:   make(map[string]entry),
		users:   make(map[uint]string),
		bound:   make(map[string]uint),
	}
}

// Connect registers c, welcomes it and broadcasts the online count.
func (r *Registry) Connect(c Conn) (LiveSession, error) {
	id := c.ID()
	now := r.now()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return LiveSession{}, ErrRegistryClosed
	}
	r.conns[id] = entry{conn: c, connectedAt: now}
	r.mu.Unlock()

	r.log.Info("WebSocket connected", "connection_id", id)

	r.send(c, Envelope{Type: TypeSystem, Message: r.welcome, SessionID: id})
	r.broadcastOnlineCount()

	return LiveSession{ConnectionID: id, ConnectedAt: now}, nil
}

// Join binds userID to connID. A user already bound elsewhere moves to
// connID, and a connection already bound to another user releases it.
func (r *Registry) Join(connID string, userID uint) error {
	if userID == 0 {
		return errors.New("userId is required")
	}

	r.bindMu.Lock()
	if !r.has(connID) {
		r.bindMu.Unlock()
		return ErrUnknownConnection
	}
	if prev, ok := r.users[userID]; ok && prev != connID {
		delete(r.bound, prev)
	}
	if prevUser, ok := r.bound[connID]; ok && prevUser != userID && r.users[prevUser] == connID {
		delete(r.users, prevUser)
	}
	r.users[userID] = connID
	r.bound[connID] = userID
	count := len(r.users)
	r.bindMu.Unlock()

	r.log.Info("User joined", "connection_id", connID, "user_id", userID, "online", count)

	r.SendTo(connID, Envelope{
		Type:        TypeJoinSuccess,
		UserID:      userID,
		Message:     "Joined the chat.",
		OnlineCount: intPtr(count),
	})
	r.Broadcast(Envelope{
		Type:        TypeUserJoined,
		UserID:      userID,
		Message:     fmt.Sprintf("User %d joined the chat.", userID),
		OnlineCount: intPtr(count),
	}, connID)
	return nil
}

// Leave unbinds userID if it is bound to connID. A leave from any other
// connection is ignored.
func (r *Registry) Leave(connID string, userID uint) {
	r.bindMu.Lock()
	if r.users[userID] != connID || connID == "" {
		r.bindMu.Unlock()
		return
	}
	delete(r.users, userID)
	delete(r.bound, connID)
	count := len(r.users)
	r.bindMu.Unlock()

	r.log.Info("User left", "connection_id", connID, "user_id", userID, "online", count)
	r.announceLeft(userID, count, "")
}

// Disconnect removes connID and any binding on it. It is safe to call more
// than once and for connections that never joined.
func (r *Registry) Disconnect(connID string) {
	r.mu.Lock()
	e, ok := r.conns[connID]
	delete(r.conns, connID)
	r.mu.Unlock()

	r.bindMu.Lock()
	userID, wasBound := r.bound[connID]
	if wasBound {
		delete(r.bound, connID)
		if r.users[userID] == connID {
			delete(r.users, userID)
		}
	}
	count := len(r.users)
	r.bindMu.Unlock()

	if !ok && !wasBound {
		return
	}
	if ok {
		e.conn.Close()
	}

	r.log.Info("WebSocket disconnected", "connection_id", connID, "user_id", userID)

	if wasBound {
		r.announceLeft(userID, count, connID)
	}
	r.broadcastOnlineCount()
}

func (r *Registry) announceLeft(userID uint, count int, exclude string) {
	r.Broadcast(Envelope{
		Type:        TypeUserLeft,
		UserID:      userID,
		Message:     fmt.Sprintf("User %d left the chat.", userID),
		OnlineCount: intPtr(count),
	}, exclude)
}

func (r *Registry) broadcastOnlineCount() {
	r.Broadcast(Envelope{Type: TypeOnlineCount, Count: intPtr(r.OnlineCount())}, "")
}

// SendTo delivers env to one connection; unknown connections are ignored.
func (r *Registry) SendTo(connID string, env Envelope) bool {
	r.mu.RLock()
	e, ok := r.conns[connID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return r.send(e.conn, env)
}

// SendToUser delivers env to the connection userID is bound to. It reports
// false, without error, when the user is offline.
func (r *Registry) SendToUser(userID uint, env Envelope) bool {
	r.bindMu.Lock()
	connID, ok := r.users[userID]
	r.bindMu.Unlock()
	if !ok {
		return false
	}
	return r.SendTo(connID, env)
}

// Broadcast delivers env to every connection except exclude and returns how
// many sends succeeded. Each send is independent: a failing connection is
// logged and skipped.
func (r *Registry) Broadcast(env Envelope, exclude string) int {
	if env.Timestamp.IsZero() {
		env.Timestamp = r.now().UTC()
	}
	msg, err := env.Encode()
	if err != nil {
		r.log.LogError(err, "Failed to encode broadcast", "type", env.Type)
		return 0
	}

	r.mu.RLock()
	targets := make([]Conn, 0, len(r.conns))
	for id, e := range r.conns {
		if id != exclude {
			targets = append(targets, e.conn)
		}
	}
	r.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if r.deliver(c, msg) {
			delivered++
		}
	}
	return delivered
}

// SystemNotification broadcasts a system message to everyone.
func (r *Registry) SystemNotification(message string) int {
	return r.Broadcast(Envelope{Type: TypeSystem, Message: message}, "")
}

func (r *Registry) send(c Conn, env Envelope) bool {
	if env.Timestamp.IsZero() {
		env.Timestamp = r.now().UTC()
	}
	msg, err := env.Encode()
	if err != nil {
		r.log.LogError(err, "Failed to encode message", "type", env.Type)
		return false
	}
	return r.deliver(c, msg)
}

func (r *Registry) deliver(c Conn, msg []byte) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("Send panicked", "connection_id", c.ID(), "panic", fmt.Sprint(rec))
			ok = false
		}
	}()
	if err := c.Send(msg); err != nil {
		r.log.Warn("Failed to send to connection", "connection_id", c.ID(), "error", err.Error())
		return false
	}
	return true
}

func (r *Registry) has(connID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[connID]
	return ok
}

// BoundUser returns the user joined on connID.
func (r *Registry) BoundUser(connID string) (uint, bool) {
	r.bindMu.Lock()
	defer r.bindMu.Unlock()
	u, ok := r.bound[connID]
	return u, ok
}

// IsUserOnline reports whether userID is bound to a live connection.
func (r *Registry) IsUserOnline(userID uint) bool {
	r.bindMu.Lock()
	defer r.bindMu.Unlock()
	_, ok := r.users[userID]
	return ok
}

// OnlineCount is the number of joined users.
func (r *Registry) OnlineCount() int {
	r.bindMu.Lock()
	defer r.bindMu.Unlock()
	return len(r.users)
}

// OnlineUsers lists joined users in ascending order.
func (r *Registry) OnlineUsers() []uint {
	r.bindMu.Lock()
	users := make([]uint, 0, len(r.users))
	for u := range r.users {
		users = append(users, u)
	}
	r.bindMu.Unlock()

	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users
}

// ConnectionCount is the number of live connections, joined or not.
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Session describes connID.
func (r *Registry) Session(connID string) (LiveSession, bool) {
	r.mu.RLock()
	e, ok := r.conns[connID]
	r.mu.RUnlock()
	if !ok {
		return LiveSession{}, false
	}
	s := LiveSession{ConnectionID: connID, ConnectedAt: e.connectedAt}
	s.UserID, _ = r.BoundUser(connID)
	return s, true
}

// Shutdown closes every connection and refuses new ones.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	r.closed = true
	conns := make([]Conn, 0, len(r.conns))
	for _, e := range r.conns {
		conns = append(conns, e.conn)
	}
	r.conns = make(map[string]entry)
	r.mu.Unlock()

	r.bindMu.Lock()
	r.users = make(map[uint]string)
	r.bound = make(map[string]uint)
	r.bindMu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	r.log.Info("WebSocket registry shut down", "closed_connections", len(conns))
}

// Collectors exposes connection and online-user gauges.
func (r *Registry) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "ws_connections",
			Help: "Live WebSocket connections",
		}, func() float64 { return float64(r.ConnectionCount()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "ws_online_users",
			Help: "Users joined on a live WebSocket connection",
		}, func() float64 { return float64(r.OnlineCount()) }),
	}
}
