// fakeserver is a development stand-in for the Waveline service: just enough
// REST and websocket surface to exercise waveline-cli against localhost.
// Not a reference implementation of the service.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/wavelinehq/waveline-go/internal/log"
	"github.com/wavelinehq/waveline-go/transport"
)

var jwtSecret = []byte("dev-secret-change-me")

// devPasswordHash is bcrypt("waveline"), the only accepted dev password.
var devPasswordHash = []byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy")

type server struct {
	mu       sync.Mutex
	sessions map[string]*session // keyed by user name
	convs    map[string]map[string]any
}

type session struct {
	user string
	conn *websocket.Conn
	ctx  context.Context
}

func main() {
	addr := flag.String("addr", ":8090", "listen address")
	flag.Parse()

	logger := log.New("debug")
	gin.SetMode(gin.ReleaseMode)

	s := &server{
		sessions: make(map[string]*session),
		convs:    make(map[string]map[string]any),
	}

	r := gin.New()
	r.POST("/login", s.handleLogin)
	r.POST("/conversations", s.handleCreateConversation)
	r.GET("/conversations/:id", s.handleGetConversation)
	r.POST("/knocking", s.handleKnock)
	r.DELETE("/knocking/:id", s.handleKnockDelete)
	r.GET("/ws", gin.WrapF(s.handleWS))

	srv := &http.Server{Addr: *addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", *addr).Msg("fakeserver listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("fakeserver exited")
		os.Exit(1)
	}
}

func (s *server) handleLogin(c *gin.Context) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.BindJSON(&body); err != nil || body.Username == "" {
		c.JSON(http.StatusBadRequest, gin.H{"type": "error:validation", "description": "username and password required"})
		return
	}
	if err := bcrypt.CompareHashAndPassword(devPasswordHash, []byte(body.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"type": "error:credentials", "description": "bad password"})
		return
	}

	claims := jwt.MapClaims{
		"sub":  body.Username,
		"name": body.Username,
		"exp":  time.Now().Add(24 * time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(jwtSecret)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"type": "error:internal", "description": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (s *server) handleCreateConversation(c *gin.Context) {
	var body struct {
		DisplayName string `json:"display_name"`
	}
	_ = c.BindJSON(&body)

	id := "CON-" + uuid.NewString()
	conv := map[string]any{
		"id":              id,
		"display_name":    body.DisplayName,
		"sequence_number": 0,
		"members":         []any{},
	}
	s.mu.Lock()
	s.convs[id] = conv
	s.mu.Unlock()
	c.JSON(http.StatusOK, conv)
}

func (s *server) handleGetConversation(c *gin.Context) {
	s.mu.Lock()
	conv, ok := s.convs[c.Param("id")]
	s.mu.Unlock()
	if !ok {
		c.Header("X-Trace-Id", uuid.NewString())
		c.JSON(http.StatusNotFound, gin.H{"type": "conversation:error:not-found", "description": "conversation not found"})
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (s *server) handleKnock(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"id": "KNO-" + uuid.NewString()})
}

func (s *server) handleKnockDelete(c *gin.Context) {
	id := c.Param("id")
	s.broadcast(transport.RawEvent{
		Type:      "knocking:delete:success",
		CID:       id,
		Timestamp: time.Now(),
	})
	c.JSON(http.StatusOK, gin.H{"id": id})
}

func (s *server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return
	}
	ctx := r.Context()

	var login transport.Request
	if err := wsjson.Read(ctx, conn, &login); err != nil || login.Type != "session:login" {
		conn.Close(websocket.StatusPolicyViolation, "expected session:login")
		return
	}

	user := userFromLogin(login)
	if user == "" {
		_ = wsjson.Write(ctx, conn, map[string]any{"type": "session:invalid", "rid": login.RID})
		conn.Close(websocket.StatusPolicyViolation, "bad token")
		return
	}

	_ = wsjson.Write(ctx, conn, map[string]any{
		"type": "session:success",
		"rid":  login.RID,
		"body": map[string]any{
			"id":   uuid.NewString(),
			"user": map[string]any{"user_id": "USR-" + user, "name": user},
		},
	})

	s.mu.Lock()
	s.sessions[user] = &session{user: user, conn: conn, ctx: ctx}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.sessions, user)
		s.mu.Unlock()
	}()

	// Echo requests with an empty ok body so correlated Request calls
	// resolve during manual testing.
	for {
		var req transport.Request
		if err := wsjson.Read(ctx, conn, &req); err != nil {
			return
		}
		if req.RID != "" {
			_ = wsjson.Write(ctx, conn, map[string]any{"type": req.Type + ":success", "rid": req.RID, "body": map[string]any{}})
		}
	}
}

func userFromLogin(login transport.Request) string {
	body, ok := login.Body.(map[string]any)
	if !ok {
		return ""
	}
	raw, _ := body["token"].(string)
	claims := jwt.MapClaims{}
	token, err := jwt.NewParser().ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) { return jwtSecret, nil })
	if err != nil || !token.Valid {
		return ""
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return ""
	}
	return sub
}

func (s *server) broadcast(ev transport.RawEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if err := wsjson.Write(sess.ctx, sess.conn, ev); err != nil {
			fmt.Fprintf(os.Stderr, "broadcast to %s: %v\n", sess.user, err)
		}
	}
}
