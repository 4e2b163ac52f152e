// Package remote exposes an instance registry over HTTP, with evaluate calls
// streamed over a WebSocket so a connection can carry a whole session of
// request/response exchanges. There is no caller authentication; deploy it
// only on trusted interfaces.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/lilobooter/imp/instance"
)

// Server serves a registry. Construct with NewServer.
type Server struct {
	log        *zap.SugaredLogger
	registry   *instance.Registry
	listenAddr string

	httpServer *http.Server
}

// ServerOption configures a Server.
type ServerOption func(*Server)

func WithServerLogger(l *zap.Logger) ServerOption {
	return func(s *Server) { s.log = l.Sugar() }
}

// WithListenAddr sets the address the HTTP server listens on.
func WithListenAddr(addr string) ServerOption {
	return func(s *Server) { s.listenAddr = addr }
}

// NewServer builds a server around the given registry.
func NewServer(registry *instance.Registry, opts ...ServerOption) (*Server, error) {
	s := &Server{
		registry:   registry,
		listenAddr: "127.0.0.1:8264",
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		logger, err := zap.NewProduction()
		if err != nil {
			return nil, fmt.Errorf("building logger: %w", err)
		}
		s.log = logger.Sugar()
	}
	s.log = s.log.Named("remote_server")
	return s, nil
}

func (s *Server) router() *httprouter.Router {
	router := httprouter.New()
	router.POST("/instances", s.create)
	router.GET("/instances", s.list)
	router.DELETE("/instances/:name", s.destroy)
	router.GET("/instances/:name", s.describe)
	router.GET("/instances/:name/config", s.configGet)
	router.POST("/instances/:name/config", s.configSet)
	router.GET("/instances/:name/eval", s.evalWS)
	return router
}

// Run listens and serves until Shutdown.
func (s *Server) Run() error {
	listener, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.listenAddr, err)
	}
	s.httpServer = &http.Server{Handler: s.router()}
	s.log.Infow("serving", "Addr", listener.Addr().String())
	err = s.httpServer.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the HTTP server. Instances stay alive; they belong to the
// registry, not the transport.
func (s *Server) Shutdown() error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Close()
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, instance.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, instance.ErrDuplicateName):
		return http.StatusConflict
	case errors.Is(err, instance.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, instance.ErrLockUnavailable):
		return http.StatusConflict
	case errors.Is(err, instance.ErrInvalidName),
		errors.Is(err, instance.ErrWrongKind),
		errors.Is(err, instance.ErrInvalidEchoTemplate),
		errors.Is(err, instance.ErrUnknownConfigOption):
		return http.StatusBadRequest
	case errors.Is(err, instance.ErrDependencyMissing):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.log.Debugf("request failed: %s", err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(err))
	json.NewEncoder(w).Encode(errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func info(inst instance.Instance) InstanceInfo {
	return InstanceInfo{
		Name:          inst.Name(),
		Kind:          inst.Kind(),
		Command:       inst.Command(),
		Running:       inst.Running(),
		LockAvailable: inst.LockAvailable(),
	}
}

func (s *Server) create(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("decoding request: %s", err), http.StatusBadRequest)
		return
	}

	cfg := instance.DefaultConfig()
	available := s.registry.LockAvailable()
	for k, v := range req.Config {
		if err := cfg.Set(k, v, available); err != nil {
			s.writeError(w, err)
			return
		}
	}

	inst, err := s.registry.Create(r.Context(), req.Name, cfg, req.Command)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, info(inst))
}

func (s *Server) list(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	names := s.registry.List(r.URL.Query().Get("kind"))
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, names)
}

func (s *Server) describe(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	inst, err := s.registry.Resolve(params.ByName("name"), r.URL.Query().Get("kind"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info(inst))
}

func (s *Server) destroy(w http.ResponseWriter, _ *http.Request, params httprouter.Params) {
	if err := s.registry.Destroy(params.ByName("name")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) configGet(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	inst, err := s.registry.Resolve(params.ByName("name"), "")
	if err != nil {
		s.writeError(w, err)
		return
	}
	if key := r.URL.Query().Get("key"); key != "" {
		value, err := inst.ConfigValue(key)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{key: value})
		return
	}
	dump := map[string]string{}
	for _, setting := range inst.Config().Dump() {
		dump[setting.Key] = setting.Value
	}
	writeJSON(w, http.StatusOK, dump)
}

func (s *Server) configSet(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	inst, err := s.registry.Resolve(params.ByName("name"), "")
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req ConfigSetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("decoding request: %s", err), http.StatusBadRequest)
		return
	}
	if err := inst.Configure(req.Key, req.Value); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// evalWS carries evaluate calls over one WebSocket connection: each request
// message is one call, answered by one response message.
func (s *Server) evalWS(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	inst, err := s.registry.Resolve(params.ByName("name"), "")
	if err != nil {
		s.writeError(w, err)
		return
	}

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		s.log.Debugf("error accepting WebSocket conn: %s", err)
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	defer wsConn.Close(websocket.StatusInternalError, "server closing")

	// Evaluate calls have no intrinsic deadline; reads and writes on the
	// socket itself get a generous one.
	ctx := r.Context()
	for {
		var req evalRequestMessage
		err := wsjson.Read(ctx, wsConn, &req)
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			wsConn.Close(websocket.StatusNormalClosure, "")
			return
		}
		if err != nil {
			s.log.Debugf("eval conn read ended: %s", err)
			return
		}

		lines, err := inst.Evaluate(ctx, req.Lines)
		resp := evalResponseMessage{Lines: lines}
		if err != nil {
			resp.Err = err.Error()
		}
		if resp.Lines == nil {
			resp.Lines = []string{}
		}
		writeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err = wsjson.Write(writeCtx, wsConn, resp)
		cancel()
		if err != nil {
			s.log.Debugf("eval conn write failed: %s", err)
			return
		}
	}
}
