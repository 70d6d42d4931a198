package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Errors returned by the socket transport.
var (
	ErrClosed       = errors.New("transport closed")
	ErrLoginFailed  = errors.New("login failed")
	ErrLoginTimeout = errors.New("login timed out")
)

const (
	typeSessionLogin   = "session:login"
	typeSessionSuccess = "session:success"
	typeSessionInvalid = "session:invalid"

	loginTimeout = 10 * time.Second
	eventBuffer  = 64
)

// Socket is the websocket implementation of Transport. A single read loop
// splits inbound frames into correlated responses (matched by rid) and
// service events (everything else).
type Socket struct {
	conn *websocket.Conn
	log  *zerolog.Logger

	events  chan RawEvent
	session Session

	mu      sync.Mutex
	pending map[string]chan Response
	closed  bool

	cancel context.CancelFunc
}

type loginBody struct {
	Token string `json:"token"`
}

type sessionBody struct {
	ID   string `json:"id"`
	User struct {
		ID          string `json:"user_id"`
		Name        string `json:"name"`
		DisplayName string `json:"display_name"`
	} `json:"user"`
}

// Dial connects to the service socket, performs the login handshake and
// starts the read loop. The token is the service JWT; its claims are decoded
// (unverified, the server is the authority) to pre-fill the session identity
// in case the success frame omits it.
func Dial(ctx context.Context, url, token string, logger *zerolog.Logger) (*Socket, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	s := &Socket{
		conn:    conn,
		log:     logger,
		events:  make(chan RawEvent, eventBuffer),
		pending: make(map[string]chan Response),
	}

	if err := s.login(ctx, token); err != nil {
		_ = conn.Close(websocket.StatusPolicyViolation, "login failed")
		return nil, err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.readLoop(loopCtx)

	return s, nil
}

func (s *Socket) login(ctx context.Context, token string) error {
	ctx, cancel := context.WithTimeout(ctx, loginTimeout)
	defer cancel()

	req := Request{Type: typeSessionLogin, RID: uuid.NewString(), Body: loginBody{Token: token}}
	if err := wsjson.Write(ctx, s.conn, req); err != nil {
		return fmt.Errorf("send login: %w", err)
	}

	var frame RawEvent
	if err := wsjson.Read(ctx, s.conn, &frame); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrLoginTimeout
		}
		return fmt.Errorf("read login response: %w", err)
	}

	switch frame.Type {
	case typeSessionSuccess:
		var body sessionBody
		if err := json.Unmarshal(frame.Body, &body); err != nil {
			return fmt.Errorf("decode session: %w", err)
		}
		s.session = Session{
			SessionID:   body.ID,
			UserID:      body.User.ID,
			UserName:    body.User.Name,
			DisplayName: body.User.DisplayName,
		}
		fillFromToken(&s.session, token)
		s.log.Info().Str("session_id", s.session.SessionID).Str("user", s.session.UserName).Msg("logged in")
		return nil
	case typeSessionInvalid:
		return ErrLoginFailed
	default:
		return fmt.Errorf("%w: unexpected frame %q", ErrLoginFailed, frame.Type)
	}
}

// fillFromToken backfills identity fields from the JWT claims. The token is
// not verified here; the service already accepted it during login.
func fillFromToken(sess *Session, token string) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return
	}
	if sess.UserName == "" {
		if sub, err := claims.GetSubject(); err == nil {
			sess.UserName = sub
		}
	}
	if sess.DisplayName == "" {
		if name, ok := claims["name"].(string); ok {
			sess.DisplayName = name
		}
	}
}

func (s *Socket) readLoop(ctx context.Context) {
	defer close(s.events)
	for {
		var frame RawEvent
		if err := wsjson.Read(ctx, s.conn, &frame); err != nil {
			if !errors.Is(err, context.Canceled) {
				s.log.Warn().Err(err).Msg("socket read loop ended")
			}
			s.failPending()
			return
		}

		if frame.RID != "" && s.resolve(frame) {
			continue
		}

		select {
		case s.events <- frame:
		case <-ctx.Done():
			s.failPending()
			return
		}
	}
}

// resolve delivers a frame to the waiter registered for its rid. Returns
// false when nobody is waiting, in which case the frame is treated as an
// ordinary event.
func (s *Socket) resolve(frame RawEvent) bool {
	s.mu.Lock()
	ch, ok := s.pending[frame.RID]
	if ok {
		delete(s.pending, frame.RID)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	ch <- Response{Type: frame.Type, RID: frame.RID, Body: frame.Body}
	return true
}

func (s *Socket) failPending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for rid, ch := range s.pending {
		close(ch)
		delete(s.pending, rid)
	}
}

// Events implements Transport.
func (s *Socket) Events() <-chan RawEvent { return s.events }

// Session implements Transport.
func (s *Socket) Session() Session { return s.session }

// Notify implements Transport.
func (s *Socket) Notify(ctx context.Context, req Request) error {
	if req.RID == "" {
		req.RID = uuid.NewString()
	}
	return wsjson.Write(ctx, s.conn, req)
}

// Request implements Transport.
func (s *Socket) Request(ctx context.Context, req Request) (json.RawMessage, error) {
	if req.RID == "" {
		req.RID = uuid.NewString()
	}

	ch := make(chan Response, 1)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.pending[req.RID] = ch
	s.mu.Unlock()

	if err := wsjson.Write(ctx, s.conn, req); err != nil {
		s.mu.Lock()
		delete(s.pending, req.RID)
		s.mu.Unlock()
		return nil, fmt.Errorf("send request: %w", err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrClosed
		}
		return resp.Body, nil
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.pending, req.RID)
		s.mu.Unlock()
		return nil, ctx.Err()
	}
}

// Close implements Transport.
func (s *Socket) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	return s.conn.Close(websocket.StatusNormalClosure, "closing")
}

var _ Transport = (*Socket)(nil)
