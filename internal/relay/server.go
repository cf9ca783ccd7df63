package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/decred/slog"
	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/errgroup"

	"wabridge/internal/domain"
)

const (
	DefaultRefTTL           = 2 * time.Minute
	DefaultHandshakeTimeout = 20 * time.Second
	DefaultWriteTimeout     = 10 * time.Second
	DefaultDedupWindow      = 1024
)

var (
	ErrUnknownRef    = errors.New("unknown or expired pairing ref")
	ErrJIDTaken      = errors.New("jid already paired")
	ErrUnknownDevice = errors.New("unknown device")
)

// Config tunes a Server.
type Config struct {
	RefTTL           time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	DedupWindow      int
	Log              slog.Logger
}

func (cfg *Config) setDefaults() {
	if cfg.RefTTL <= 0 {
		cfg.RefTTL = DefaultRefTTL
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = DefaultDedupWindow
	}
	if cfg.Log == nil {
		cfg.Log = slog.Disabled
	}
}

// Server is the development relay.
type Server struct {
	cfg      Config
	log      slog.Logger
	upgrader websocket.Upgrader
	mux      *http.ServeMux

	// refs maps a pairing ref to the socket waiting on it.
	refs *xsync.MapOf[string, *pendingPair]

	// devices by server token and by jid.
	devices *xsync.MapOf[string, *device]
	byJID   *xsync.MapOf[domain.JID, *device]

	// pairMtx serialises jid allocation.
	pairMtx sync.Mutex
}

// New returns a relay with no devices.
func New(cfg Config) *Server {
	cfg.setDefaults()
	s := &Server{
		cfg: cfg,
		log: cfg.Log,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: cfg.HandshakeTimeout,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
			CheckOrigin:      func(*http.Request) bool { return true },
		},
		mux:     http.NewServeMux(),
		refs:    xsync.NewMapOf[string, *pendingPair](),
		devices: xsync.NewMapOf[string, *device](),
		byJID:   xsync.NewMapOf[domain.JID, *device](),
	}
	s.mux.HandleFunc("/ws", s.handleWS)
	s.mux.HandleFunc("/scan", s.handleScan)
	s.mux.HandleFunc("/devices", s.handleDevices)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Run serves on lis until ctx is canceled.
func (s *Server) Run(ctx context.Context, lis net.Listener) error {
	srv := &http.Server{Handler: s}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Infof("Serving relay on %s", lis.Addr())
		err := srv.Serve(lis)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		err := srv.Shutdown(shutCtx)
		s.closeAll()
		if err != nil {
			s.log.Errorf("Ungraceful shutdown: %v", err)
		}
		return nil
	})
	return g.Wait()
}

func (s *Server) closeAll() {
	s.devices.Range(func(_ string, d *device) bool {
		d.kick()
		return true
	})
	s.refs.Range(func(_ string, p *pendingPair) bool {
		p.c.close()
		return true
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debugf("Upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}
	c := newConn(s, ws)
	s.log.Debugf("Device socket from %s", r.RemoteAddr)
	c.serve()
}

type scanRequest struct {
	Payload string     `json:"payload"`
	JID     domain.JID `json:"jid,omitempty"`
}

type scanReply struct {
	JID domain.JID `json:"jid"`
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()
	var req scanRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	jid, err := s.Scan(req.Payload, req.JID)
	switch {
	case errors.Is(err, ErrUnknownRef):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case errors.Is(err, ErrJIDTaken):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(scanReply{JID: jid})
}

// DeviceInfo describes one paired device.
type DeviceInfo struct {
	JID    domain.JID `json:"jid"`
	Online bool       `json:"online"`
	Queued int        `json:"queued"`
	Since  time.Time  `json:"paired_at"`
}

// Devices lists the paired devices.
func (s *Server) Devices() []DeviceInfo {
	var out []DeviceInfo
	s.byJID.Range(func(_ domain.JID, d *device) bool {
		out = append(out, d.info())
		return true
	})
	return out
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.Devices())
}

// Kick drops the socket of the device at jid, if online.
func (s *Server) Kick(jid domain.JID) bool {
	d, ok := s.byJID.Load(jid)
	if !ok {
		return false
	}
	return d.kick()
}

// Revoke forgets the device at jid so its next restore fails.
func (s *Server) Revoke(jid domain.JID) error {
	d, ok := s.byJID.LoadAndDelete(jid)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, jid)
	}
	s.devices.Delete(d.serverToken)
	d.kick()
	s.log.Infof("Revoked %s", jid)
	return nil
}

// Inject queues a message for to as if it was sent by from. It is used to
// exercise redelivery.
func (s *Server) Inject(to, from domain.JID, id domain.MessageID, seq uint64, text string) error {
	d, ok := s.byJID.Load(to)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, to)
	}
	d.enqueue(queued{id: id, from: from, seq: seq, t: time.Now().Unix(), text: text})
	return nil
}
