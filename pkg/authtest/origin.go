// Package authtest provides an in-process auth origin for tests and
// demos. It speaks the same endpoint surface a real origin does
// (session, CSRF, providers, sign-in, sign-out) plus a WebSocket event
// feed, and is scriptable: tests flip the signed-in user, rotate the
// CSRF token, or inject fetch failures and watch clients react.
package authtest

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
)

// Origin is a fake auth origin backed by an httptest server. Safe for
// concurrent use.
type Origin struct {
	logger *slog.Logger
	server *httptest.Server

	fetches atomic.Int64

	mu        sync.Mutex
	session   json.RawMessage
	csrfToken string
	failLeft  int

	listenMu  sync.Mutex
	listeners map[int]*websocket.Conn
	nextID    int

	upgrader websocket.Upgrader

	// Clock; overrideable for tests.
	now func() time.Time
}

// New starts a fake origin. Callers own its lifetime: Close when done.
func New(logger *slog.Logger) *Origin {
	if logger == nil {
		logger = slog.Default()
	}

	o := &Origin{
		logger:    logger.With("component", "authtest"),
		csrfToken: ulid.Make().String(),
		listeners: make(map[int]*websocket.Conn),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		now: time.Now,
	}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Get("/session", o.handleSession)
	r.Get("/csrf", o.handleCSRF)
	r.Get("/providers", o.handleProviders)
	r.Post("/signin/{provider}", o.handleSignIn)
	r.Post("/signout", o.handleSignOut)
	r.Get("/events", o.handleEvents)

	o.server = httptest.NewServer(r)
	return o
}

// URL returns the origin's base URL.
func (o *Origin) URL() string {
	return o.server.URL
}

// Close shuts the server down and disconnects event listeners.
func (o *Origin) Close() {
	o.listenMu.Lock()
	for _, conn := range o.listeners {
		conn.Close()
	}
	o.listeners = make(map[int]*websocket.Conn)
	o.listenMu.Unlock()

	o.server.Close()
}

// Fetches returns how many session fetches the origin has served.
func (o *Origin) Fetches() int64 {
	return o.fetches.Load()
}

// CSRFToken returns the token sign-in and sign-out posts must carry.
func (o *Origin) CSRFToken() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.csrfToken
}

// RotateCSRF invalidates the current CSRF token. Clients holding the
// old token get one 403 and are expected to refetch.
func (o *Origin) RotateCSRF() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.csrfToken = ulid.Make().String()
}

// SignIn signs name in server-side, as if another device had done it,
// and announces the change on the event feed.
func (o *Origin) SignIn(name string) {
	o.setSession(o.mintSession(name))
	o.emit("session")
}

// SignOutAll clears the server-side session and announces it.
func (o *Origin) SignOutAll() {
	o.setSession(nil)
	o.emit("signOut")
}

// SetSession replaces the session document verbatim. nil means
// signed out.
func (o *Origin) SetSession(doc json.RawMessage) {
	o.setSession(doc)
}

// FailNext makes the next n session fetches answer 502.
func (o *Origin) FailNext(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failLeft = n
}

func (o *Origin) setSession(doc json.RawMessage) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.session = doc
}

// mintSession builds a session document for name, expiring in thirty
// days.
func (o *Origin) mintSession(name string) json.RawMessage {
	doc, err := json.Marshal(map[string]any{
		"user": map[string]any{
			"name":  name,
			"email": name + "@example.com",
		},
		"expires": o.now().Add(30 * 24 * time.Hour).UTC().Format(time.RFC3339),
	})
	if err != nil {
		panic(err)
	}
	return doc
}

func (o *Origin) handleSession(w http.ResponseWriter, r *http.Request) {
	o.fetches.Add(1)

	o.mu.Lock()
	if o.failLeft > 0 {
		o.failLeft--
		o.mu.Unlock()
		http.Error(w, "injected failure", http.StatusBadGateway)
		return
	}
	session := o.session
	o.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if session == nil {
		w.Write([]byte("null"))
		return
	}
	w.Write(session)
}

func (o *Origin) handleCSRF(w http.ResponseWriter, r *http.Request) {
	o.mu.Lock()
	token := o.csrfToken
	o.mu.Unlock()

	writeJSON(w, map[string]string{"csrfToken": token})
}

func (o *Origin) handleProviders(w http.ResponseWriter, r *http.Request) {
	base := o.server.URL
	writeJSON(w, map[string]map[string]string{
		"credentials": {
			"id":          "credentials",
			"name":        "Credentials",
			"type":        "credentials",
			"signinUrl":   base + "/signin/credentials",
			"callbackUrl": base + "/callback/credentials",
		},
	})
}

func (o *Origin) handleSignIn(w http.ResponseWriter, r *http.Request) {
	if !o.checkCSRF(w, r) {
		return
	}

	name := r.PostFormValue("username")
	if name == "" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{
			"url": o.server.URL + "/error?error=CredentialsSignin",
		})
		return
	}

	provider := chi.URLParam(r, "provider")
	o.logger.Debug("sign-in accepted", "provider", provider, "user", name)

	o.setSession(o.mintSession(name))
	o.emit("session")
	writeJSON(w, map[string]string{"url": o.server.URL + "/app"})
}

func (o *Origin) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if !o.checkCSRF(w, r) {
		return
	}

	o.setSession(nil)
	o.emit("signOut")
	writeJSON(w, map[string]string{"url": o.server.URL})
}

// checkCSRF rejects posts that do not carry the current token.
func (o *Origin) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	o.mu.Lock()
	token := o.csrfToken
	o.mu.Unlock()

	if r.PostFormValue("csrfToken") != token {
		http.Error(w, "csrf token mismatch", http.StatusForbidden)
		return false
	}
	return true
}

// handleEvents upgrades to WebSocket and streams session events until
// the peer goes away.
func (o *Origin) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := o.upgrader.Upgrade(w, r, nil)
	if err != nil {
		o.logger.Warn("event feed upgrade failed", "error", err)
		return
	}

	o.listenMu.Lock()
	id := o.nextID
	o.nextID++
	o.listeners[id] = conn
	o.listenMu.Unlock()

	// Reader pump: the feed is write-only, reading just detects close.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
		o.listenMu.Lock()
		delete(o.listeners, id)
		o.listenMu.Unlock()
		conn.Close()
	}()
}

// emit pushes an event to every connected listener. listenMu is held
// across the writes: a WebSocket connection allows one writer at a
// time.
func (o *Origin) emit(eventType string) {
	event := map[string]any{
		"type": eventType,
		"ts":   o.now().Unix(),
	}

	o.listenMu.Lock()
	defer o.listenMu.Unlock()
	for id, conn := range o.listeners {
		if err := conn.WriteJSON(event); err != nil {
			o.logger.Debug("event write failed, dropping listener", "error", err)
			conn.Close()
			delete(o.listeners, id)
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
