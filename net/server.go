// Original code derived from https://github.com/ortuman/jackal

package net

import (
	"context"
	"errors"
	gonet "net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Server is an interface which allows a network listening mechanism to pass accepted connections to
//  an actual server, like the packet processor
type Server interface {
	HandleConnect(Transport)
}

// NetworkServer is a base class which accepts websocket connections on Path and
// serves any extra routes registered with Handle.
type NetworkServer struct {
	Handler Server

	Path           string
	AllowedOrigins []string
	KeepAlive      time.Duration
	WriteTimeout   time.Duration

	mux       *http.ServeMux
	srv       *http.Server
	ln        gonet.Listener
	listening uint32
}

func (s *NetworkServer) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
}

func (s *NetworkServer) checkOrigin(r *http.Request) bool {
	if len(s.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Native clients send no Origin header.
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range s.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) || strings.EqualFold(allowed, u.Host) {
			return true
		}
	}
	return false
}

// Handle registers an extra HTTP route next to the websocket endpoint.
func (s *NetworkServer) Handle(pattern string, handler http.Handler) {
	if s.mux == nil {
		s.mux = http.NewServeMux()
	}
	s.mux.Handle(pattern, handler)
}

// ServeHTTP upgrades the request and passes the transport to the Handler.
func (s *NetworkServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error.
		return
	}
	s.Handler.HandleConnect(NewSocketTransport(conn, s.KeepAlive, s.WriteTimeout))
}

// Start listens on bindAddr. The outcome of binding is reported on errChan,
// after which Start serves until Shutdown is called.
func (s *NetworkServer) Start(bindAddr string, errChan chan error) {
	ln, err := gonet.Listen("tcp", bindAddr)
	if err != nil {
		errChan <- err
		return
	}

	path := s.Path
	if path == "" {
		path = "/"
	}
	s.Handle(path, s)

	s.ln = ln
	s.srv = &http.Server{Handler: s.mux, ReadHeaderTimeout: 10 * time.Second}
	atomic.StoreUint32(&s.listening, 1)
	errChan <- nil

	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		atomic.StoreUint32(&s.listening, 0)
	}
}

func (s *NetworkServer) Shutdown() error {
	if atomic.CompareAndSwapUint32(&s.listening, 1, 0) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(ctx)
	}
	return nil
}

// Addr returns the bound address, useful when listening on port 0.
func (s *NetworkServer) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *NetworkServer) Listening() uint32 {
	return atomic.LoadUint32(&s.listening)
}
