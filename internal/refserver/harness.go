package refserver

import (
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/quic-go/quic-go/http3"
	"google.golang.org/grpc"

	"github.com/bleepstore/objstore/internal/logging"
	"github.com/bleepstore/objstore/pkg/config"
)

// HarnessOptions configures NewTestHarness.
type HarnessOptions struct {
	HTTP HTTPOptions
	// AuthToken is applied to both fronts.
	AuthToken string
	// HTTP3 additionally serves the API over HTTP/3 on the TLS port.
	HTTP3 bool
	// Store defaults to a fresh MemoryStore.
	Store Store
}

// HarnessOption customizes a harness.
type HarnessOption func(*HarnessOptions)

// WithHarnessAuth requires token on every front.
func WithHarnessAuth(token string) HarnessOption {
	return func(o *HarnessOptions) { o.AuthToken = token }
}

// WithHTTP3 serves HTTP/3 alongside the TLS server.
func WithHTTP3() HarnessOption {
	return func(o *HarnessOptions) { o.HTTP3 = true }
}

// WithoutHead answers HEAD on objects with 405.
func WithoutHead() HarnessOption {
	return func(o *HarnessOptions) { o.HTTP.DisableHead = true }
}

// WithStore serves from store instead of a fresh MemoryStore.
func WithStore(store Store) HarnessOption {
	return func(o *HarnessOptions) { o.Store = store }
}

// Harness runs every front of the reference service over one store on
// loopback ports for the lifetime of a test.
type Harness struct {
	Service *Service
	// HTTP serves plain HTTP/1.1.
	HTTP *httptest.Server
	// TLS serves HTTP/1.1 and HTTP/2 over TLS.
	TLS *httptest.Server
	// GRPCAddr is host:port of the gRPC server.
	GRPCAddr string
	GRPC     *GRPCServer

	grpcServer *grpc.Server
	h3         *http3.Server

	httpConns atomic.Int64
	tlsConns  atomic.Int64
	grpcConns atomic.Int64
	inFlight  atomic.Int64
	h3Hits    atomic.Int64
}

// NewTestHarness starts the service and registers its shutdown with t.
func NewTestHarness(t testing.TB, opts ...HarnessOption) *Harness {
	t.Helper()

	o := HarnessOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Store == nil {
		o.Store = NewMemoryStore()
	}
	if o.AuthToken != "" {
		o.HTTP.AuthToken = o.AuthToken
	}
	log := logging.Discard()
	o.HTTP.Logger = log

	h := &Harness{Service: NewService(o.Store, log)}
	api := NewHandler(h.Service, o.HTTP)
	counted := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.inFlight.Add(1)
		defer h.inFlight.Add(-1)
		if r.ProtoMajor == 3 {
			h.h3Hits.Add(1)
		}
		api.ServeHTTP(w, r)
	})

	h.HTTP = httptest.NewUnstartedServer(counted)
	h.HTTP.Config.ConnState = connCounter(&h.httpConns)
	h.HTTP.Start()
	t.Cleanup(h.HTTP.Close)

	tcp, udp := listenPair(t)
	h.TLS = httptest.NewUnstartedServer(counted)
	h.TLS.Listener.Close()
	h.TLS.Listener = tcp
	h.TLS.EnableHTTP2 = true
	h.TLS.Config.ConnState = connCounter(&h.tlsConns)
	h.TLS.StartTLS()
	t.Cleanup(h.TLS.Close)

	if o.HTTP3 {
		h.h3 = &http3.Server{
			Handler:   counted,
			TLSConfig: http3.ConfigureTLSConfig(&tls.Config{Certificates: h.TLS.TLS.Certificates}),
		}
		go func() { _ = h.h3.Serve(udp) }()
		t.Cleanup(func() { _ = h.h3.Close() })
	} else {
		udp.Close()
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("refserver: listen grpc: %v", err)
	}
	h.grpcServer, h.GRPC = NewGRPCServer(h.Service, GRPCOptions{AuthToken: o.AuthToken, Logger: log})
	go func() {
		if err := h.grpcServer.Serve(&countingListener{Listener: ln, open: &h.grpcConns}); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Error("grpc serve", "error", err)
		}
	}()
	h.GRPCAddr = ln.Addr().String()
	t.Cleanup(h.grpcServer.Stop)

	return h
}

// listenPair binds a TCP and a UDP socket on the same loopback port so the
// HTTP/3 and HTTP/2 fronts share one https:// URL.
func listenPair(t testing.TB) (net.Listener, net.PacketConn) {
	t.Helper()
	var lastErr error
	for range 20 {
		udp, err := net.ListenPacket("udp", "127.0.0.1:0")
		if err != nil {
			lastErr = err
			continue
		}
		port := udp.LocalAddr().(*net.UDPAddr).Port
		tcp, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
		if err != nil {
			udp.Close()
			lastErr = err
			continue
		}
		return tcp, udp
	}
	t.Fatalf("refserver: no free tcp/udp port pair: %v", lastErr)
	return nil, nil
}

func connCounter(n *atomic.Int64) func(net.Conn, http.ConnState) {
	return func(_ net.Conn, st http.ConnState) {
		switch st {
		case http.StateNew:
			n.Add(1)
		case http.StateClosed, http.StateHijacked:
			n.Add(-1)
		}
	}
}

// countingListener tracks open gRPC connections.
type countingListener struct {
	net.Listener
	open *atomic.Int64
}

func (l *countingListener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	l.open.Add(1)
	return &countedConn{Conn: c, open: l.open}, nil
}

type countedConn struct {
	net.Conn
	open   *atomic.Int64
	closed atomic.Bool
}

func (c *countedConn) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		c.open.Add(-1)
	}
	return c.Conn.Close()
}

// OpenConns reports open client connections on the plain HTTP, TLS and
// gRPC fronts respectively.
func (h *Harness) OpenConns() (plain, secure, rpc int64) {
	return h.httpConns.Load(), h.tlsConns.Load(), h.grpcConns.Load()
}

// InFlight reports HTTP requests currently inside the handler.
func (h *Harness) InFlight() int64 { return h.inFlight.Load() }

// HTTP3Requests reports requests served over HTTP/3.
func (h *Harness) HTTP3Requests() int64 { return h.h3Hits.Load() }

// RESTConfig returns a client configuration for the plain HTTP front.
func (h *Harness) RESTConfig() config.Config {
	cfg := config.ForProtocol(config.ProtocolREST, h.HTTP.URL)
	cfg.Timeout = 10 * time.Second
	return cfg
}

// GRPCConfig returns a client configuration for the gRPC front.
func (h *Harness) GRPCConfig() config.Config {
	cfg := config.ForProtocol(config.ProtocolGRPC, h.GRPCAddr)
	cfg.Timeout = 10 * time.Second
	return cfg
}

// QUICConfig returns a client configuration for the TLS front. The handshake
// timeout is short so that, without WithHTTP3, the HTTP/2 fallback engages
// quickly.
func (h *Harness) QUICConfig() config.Config {
	cfg := config.ForProtocol(config.ProtocolQUIC, h.TLS.URL)
	cfg.Timeout = 10 * time.Second
	cfg.QUIC.HandshakeTimeout = 250 * time.Millisecond
	return cfg
}

// Configs returns one configuration per protocol keyed by protocol name.
func (h *Harness) Configs() map[string]config.Config {
	return map[string]config.Config{
		string(config.ProtocolREST): h.RESTConfig(),
		string(config.ProtocolGRPC): h.GRPCConfig(),
		string(config.ProtocolQUIC): h.QUICConfig(),
	}
}
