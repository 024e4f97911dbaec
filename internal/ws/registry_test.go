package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"persona-chat/backend/internal/chat"
	"persona-chat/backend/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id     string
	mu     sync.Mutex
	frames []Envelope
	fail   bool
	panics bool
	closed int
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(msg []byte) error {
	if c.panics {
		panic("socket exploded")
	}
	if c.fail {
		return errors.New("broken pipe")
	}
	var env Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return err
	}
	c.mu.Lock()
	c.frames = append(c.frames, env)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed++
	c.mu.Unlock()
}

func (c *fakeConn) ofType(typ string) []Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Envelope
	for _, f := range c.frames {
		if f.Type == typ {
			out = append(out, f)
		}
	}
	return out
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}

func newTestRegistry(opts Options) *Registry {
	return NewRegistry(logger.Nop(), opts)
}

func connect(t *testing.T, r *Registry, ids ...string) []*fakeConn {
	t.Helper()
	conns := make([]*fakeConn, len(ids))
	for i, id := range ids {
		conns[i] = newFakeConn(id)
		_, err := r.Connect(conns[i])
		require.NoError(t, err)
	}
	return conns
}

func TestConnectWelcomesAndBroadcastsCount(t *testing.T) {
	r := newTestRegistry(Options{Welcome: "hi"})
	a := connect(t, r, "a")[0]
	b := connect(t, r, "b")[0]

	welcome := a.ofType(TypeSystem)
	require.Len(t, welcome, 1)
	assert.Equal(t, "hi", welcome[0].Message)
	assert.Equal(t, "a", welcome[0].SessionID)

	counts := a.ofType(TypeOnlineCount)
	require.Len(t, counts, 2)
	assert.Equal(t, 0, *counts[1].Count)
	assert.Len(t, b.ofType(TypeOnlineCount), 1)
	assert.Equal(t, 2, r.ConnectionCount())
	assert.Equal(t, 0, r.OnlineCount())
}

func TestJoinAcknowledgesAndAnnounces(t *testing.T) {
	r := newTestRegistry(Options{})
	conns := connect(t, r, "a", "b")
	a, b := conns[0], conns[1]

	require.NoError(t, r.Join("a", 1))

	ack := a.ofType(TypeJoinSuccess)
	require.Len(t, ack, 1)
	assert.Equal(t, 1, *ack[0].OnlineCount)
	assert.Empty(t, a.ofType(TypeUserJoined))

	joined := b.ofType(TypeUserJoined)
	require.Len(t, joined, 1)
	assert.Equal(t, uint(1), joined[0].UserID)
	assert.True(t, r.IsUserOnline(1))
}

func TestJoinUnknownConnection(t *testing.T) {
	r := newTestRegistry(Options{})

	assert.ErrorIs(t, r.Join("ghost", 1), ErrUnknownConnection)
	assert.Equal(t, 0, r.OnlineCount())
}

func TestLastJoinWins(t *testing.T) {
	r := newTestRegistry(Options{})
	connect(t, r, "a", "b")

	require.NoError(t, r.Join("a", 1))
	require.NoError(t, r.Join("b", 1))

	assert.Equal(t, 1, r.OnlineCount())
	_, bound := r.BoundUser("a")
	assert.False(t, bound)

	// The replaced connection no longer owns the user.
	r.Leave("a", 1)
	assert.True(t, r.IsUserOnline(1))

	r.Disconnect("a")
	assert.True(t, r.IsUserOnline(1))

	r.Leave("b", 1)
	assert.False(t, r.IsUserOnline(1))
}

func TestRejoinAsAnotherUserReleasesFirst(t *testing.T) {
	r := newTestRegistry(Options{})
	connect(t, r, "a")

	require.NoError(t, r.Join("a", 1))
	require.NoError(t, r.Join("a", 2))

	assert.Equal(t, []uint{2}, r.OnlineUsers())
}

func TestLeaveAnnounces(t *testing.T) {
	r := newTestRegistry(Options{})
	conns := connect(t, r, "a", "b")
	require.NoError(t, r.Join("a", 1))

	r.Leave("a", 1)

	left := conns[1].ofType(TypeUserLeft)
	require.Len(t, left, 1)
	assert.Equal(t, 0, *left[0].OnlineCount)
	assert.Equal(t, 0, r.OnlineCount())
}

func TestDisconnectWithoutLeave(t *testing.T) {
	r := newTestRegistry(Options{})
	conns := connect(t, r, "a", "b")
	a, b := conns[0], conns[1]
	require.NoError(t, r.Join("a", 1))
	a.reset()
	b.reset()

	r.Disconnect("a")

	assert.Equal(t, 0, r.OnlineCount())
	assert.Equal(t, 1, a.closed)
	assert.Len(t, b.ofType(TypeUserLeft), 1)
	counts := b.ofType(TypeOnlineCount)
	require.Len(t, counts, 1)
	assert.Equal(t, 0, *counts[0].Count)

	assert.False(t, r.SendToUser(1, Envelope{Type: TypeSystem, Message: "x"}))
	assert.Empty(t, a.ofType(TypeSystem))
}

func TestDisconnectIsIdempotent(t *testing.T) {
	r := newTestRegistry(Options{})
	conns := connect(t, r, "a", "b")
	require.NoError(t, r.Join("a", 1))

	r.Disconnect("a")
	conns[1].reset()
	r.Disconnect("a")
	r.Disconnect("never-connected")

	assert.Empty(t, conns[1].frames)
	assert.Equal(t, 1, conns[0].closed)
	assert.Equal(t, 1, r.ConnectionCount())
}

func TestBroadcastIsolatesFailingConnections(t *testing.T) {
	r := newTestRegistry(Options{})
	conns := connect(t, r, "a", "b", "c", "d")
	conns[1].fail = true
	conns[2].panics = true

	delivered := r.Broadcast(Envelope{Type: TypeSystem, Message: "news"}, "")

	assert.Equal(t, 2, delivered)
	assert.Len(t, conns[0].ofType(TypeSystem), 2)
	assert.Len(t, conns[3].ofType(TypeSystem), 2)
	assert.Equal(t, 4, r.ConnectionCount())
}

func TestBroadcastExcludes(t *testing.T) {
	r := newTestRegistry(Options{})
	conns := connect(t, r, "a", "b")
	conns[0].reset()
	conns[1].reset()

	r.SystemNotification("ignored by nobody")
	r.Broadcast(Envelope{Type: TypeTypingIndicator}, "a")

	assert.Empty(t, conns[0].ofType(TypeTypingIndicator))
	assert.Len(t, conns[1].ofType(TypeTypingIndicator), 1)
	assert.Len(t, conns[0].ofType(TypeSystem), 1)
}

func TestOnlineInvariantUnderConcurrency(t *testing.T) {
	r := newTestRegistry(Options{})
	const n = 20
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("c%d", i)
	}
	connect(t, r, ids...)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rnd := rand.New(rand.NewSource(seed))
			for i := 0; i < 200; i++ {
				conn := ids[rnd.Intn(n)]
				user := uint(rnd.Intn(5) + 1)
				switch rnd.Intn(3) {
				case 0:
					_ = r.Join(conn, user)
				case 1:
					r.Leave(conn, user)
				case 2:
					r.Disconnect(conn)
				}
			}
		}(int64(w))
	}
	wg.Wait()

	r.bindMu.Lock()
	defer r.bindMu.Unlock()
	for user, conn := range r.users {
		assert.Equal(t, user, r.bound[conn])
		assert.True(t, r.has(conn), "user %d bound to dead connection %s", user, conn)
	}
	for conn, user := range r.bound {
		assert.Equal(t, conn, r.users[user])
	}
}

func TestShutdownClosesEverything(t *testing.T) {
	r := newTestRegistry(Options{})
	conns := connect(t, r, "a", "b")
	require.NoError(t, r.Join("a", 1))

	r.Shutdown()

	assert.Equal(t, 0, r.ConnectionCount())
	assert.Equal(t, 0, r.OnlineCount())
	assert.Equal(t, 1, conns[0].closed)
	_, err := r.Connect(newFakeConn("c"))
	assert.ErrorIs(t, err, ErrRegistryClosed)
}

type stubTurns struct {
	mu    sync.Mutex
	texts []chat.TurnRequest
	voice [][]byte
}

func (s *stubTurns) HandleText(ctx context.Context, req chat.TurnRequest) chat.TurnResponse {
	s.mu.Lock()
	s.texts = append(s.texts, req)
	s.mu.Unlock()
	return chat.TurnResponse{Status: chat.StatusSuccess, Message: "reply to " + req.Message, SessionID: req.SessionID}
}

func (s *stubTurns) HandleVoice(ctx context.Context, audio []byte, req chat.TurnRequest) chat.TurnResponse {
	s.mu.Lock()
	s.voice = append(s.voice, audio)
	s.mu.Unlock()
	return chat.TurnResponse{Status: chat.StatusSuccess, Transcript: "heard", SessionID: req.SessionID}
}

func TestRouteChatDefaultsFromConnection(t *testing.T) {
	turns := &stubTurns{}
	r := newTestRegistry(Options{Turns: turns})
	a := connect(t, r, "a")[0]
	require.NoError(t, r.Join("a", 7))

	r.Route(context.Background(), "a", []byte(`{"type":"chat","personaId":2,"message":"hello"}`))

	require.Len(t, turns.texts, 1)
	assert.Equal(t, uint(7), turns.texts[0].UserID)
	assert.Equal(t, "a", turns.texts[0].SessionID)

	replies := a.ofType(TypeChatResponse)
	require.Len(t, replies, 2)
	assert.Equal(t, chat.StatusProcessing, replies[0].Response.Status)
	assert.Equal(t, chat.StatusSuccess, replies[1].Response.Status)
	assert.Equal(t, "reply to hello", replies[1].Response.Message)
}

func TestRouteVoiceChat(t *testing.T) {
	turns := &stubTurns{}
	r := newTestRegistry(Options{Turns: turns})
	a := connect(t, r, "a")[0]

	r.Route(context.Background(), "a", []byte(`{"type":"chat","userId":1,"personaId":2,"sessionId":"s","messageType":"voice","audio":"d2VibQ=="}`))

	require.Len(t, turns.voice, 1)
	assert.Equal(t, []byte("webm"), turns.voice[0])
	replies := a.ofType(TypeChatResponse)
	require.Len(t, replies, 2)
	assert.Equal(t, "heard", replies[1].Response.Transcript)
}

func TestRouteControlMessages(t *testing.T) {
	r := newTestRegistry(Options{})
	conns := connect(t, r, "a", "b")
	a, b := conns[0], conns[1]

	r.Route(context.Background(), "a", []byte(`{"type":"join","userId":3}`))
	r.Route(context.Background(), "a", []byte(`{"type":"typing","isTyping":true}`))
	r.Route(context.Background(), "a", []byte(`{"type":"heartbeat"}`))
	r.Route(context.Background(), "a", []byte(`{"type":"leave"}`))

	assert.Len(t, a.ofType(TypeJoinSuccess), 1)
	typing := b.ofType(TypeTypingIndicator)
	require.Len(t, typing, 1)
	assert.Equal(t, uint(3), typing[0].UserID)
	assert.True(t, *typing[0].IsTyping)
	assert.Empty(t, a.ofType(TypeTypingIndicator))
	assert.Len(t, a.ofType(TypeHeartbeatResponse), 1)
	assert.Len(t, b.ofType(TypeUserLeft), 1)
	assert.False(t, r.IsUserOnline(3))
}

func TestRouteTypingRequiresUser(t *testing.T) {
	r := newTestRegistry(Options{})
	conns := connect(t, r, "a", "b")
	a, b := conns[0], conns[1]

	r.Route(context.Background(), "a", []byte(`{"type":"typing","isTyping":true}`))

	assert.Empty(t, b.ofType(TypeTypingIndicator))
	errs := a.ofType(TypeError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "join")
}

func TestRouteBadInput(t *testing.T) {
	r := newTestRegistry(Options{})
	a := connect(t, r, "a")[0]
	a.reset()

	r.Route(context.Background(), "a", []byte(`{"type":"dance"}`))
	assert.Empty(t, a.frames)

	r.Route(context.Background(), "a", []byte(`not json`))
	r.Route(context.Background(), "a", []byte(`{"type":"join"}`))
	assert.Len(t, a.ofType(TypeError), 2)
}
