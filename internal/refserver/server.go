package refserver

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/quic-go/quic-go/http3"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

// Server runs every configured front of the reference service.
type Server struct {
	cfg *Config
	svc *Service
	log *slog.Logger

	httpServer *http.Server
	tlsServer  *http.Server
	h3Server   *http3.Server
	grpcServer *grpc.Server

	httpLn net.Listener
	tlsLn  net.Listener
	udp    net.PacketConn
	grpcLn net.Listener
}

// NewServer binds the listeners named by cfg. Nothing is served until
// Serve is called.
func NewServer(cfg *Config, svc *Service, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{cfg: cfg, svc: svc, log: log}

	handler := NewHandler(svc, HTTPOptions{
		APIVersion:    cfg.Server.APIVersion,
		AuthToken:     cfg.Auth.Token,
		DisableHead:   cfg.Server.DisableHead,
		MaxObjectSize: cfg.Server.MaxObjectSize,
		Logger:        log,
	})
	s.grpcServer, _ = NewGRPCServer(svc, GRPCOptions{AuthToken: cfg.Auth.Token, Logger: log})
	s.httpServer = &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	var err error
	if s.httpLn, err = net.Listen("tcp", s.addr(cfg.Server.HTTPPort)); err != nil {
		return nil, fmt.Errorf("listen http: %w", err)
	}
	if s.grpcLn, err = net.Listen("tcp", s.addr(cfg.Server.GRPCPort)); err != nil {
		s.closeListeners()
		return nil, fmt.Errorf("listen grpc: %w", err)
	}

	if cfg.Server.TLSPort >= 0 {
		tlsCfg, err := loadTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		if err != nil {
			s.closeListeners()
			return nil, err
		}
		tlsCfg.NextProtos = []string{"h2", "http/1.1"}
		s.tlsServer = &http.Server{Handler: handler, TLSConfig: tlsCfg, ReadHeaderTimeout: 10 * time.Second}
		if s.tlsLn, err = net.Listen("tcp", s.addr(cfg.Server.TLSPort)); err != nil {
			s.closeListeners()
			return nil, fmt.Errorf("listen tls: %w", err)
		}
		if cfg.Server.HTTP3 {
			port := s.tlsLn.Addr().(*net.TCPAddr).Port
			if s.udp, err = net.ListenPacket("udp", s.addr(port)); err != nil {
				s.closeListeners()
				return nil, fmt.Errorf("listen http3: %w", err)
			}
			s.h3Server = &http3.Server{
				Handler:   handler,
				TLSConfig: http3.ConfigureTLSConfig(tlsCfg.Clone()),
			}
		}
	}
	return s, nil
}

func (s *Server) addr(port int) string {
	return net.JoinHostPort(s.cfg.Server.Host, strconv.Itoa(port))
}

// Addrs reports the bound addresses keyed by front name.
func (s *Server) Addrs() map[string]string {
	out := map[string]string{
		"http": s.httpLn.Addr().String(),
		"grpc": s.grpcLn.Addr().String(),
	}
	if s.tlsLn != nil {
		out["tls"] = s.tlsLn.Addr().String()
	}
	if s.udp != nil {
		out["http3"] = s.udp.LocalAddr().String()
	}
	return out
}

// Serve blocks until every front stops. It returns the first serve error
// other than the expected one from a graceful shutdown.
func (s *Server) Serve() error {
	var g errgroup.Group
	g.Go(func() error {
		s.log.Info("HTTP front listening", "addr", s.httpLn.Addr().String())
		return ignoreClosed(s.httpServer.Serve(s.httpLn))
	})
	g.Go(func() error {
		s.log.Info("gRPC front listening", "addr", s.grpcLn.Addr().String())
		return ignoreClosed(s.grpcServer.Serve(s.grpcLn))
	})
	if s.tlsServer != nil {
		g.Go(func() error {
			s.log.Info("TLS front listening", "addr", s.tlsLn.Addr().String(), "http3", s.h3Server != nil)
			return ignoreClosed(s.tlsServer.ServeTLS(s.tlsLn, "", ""))
		})
	}
	if s.h3Server != nil {
		g.Go(func() error {
			return ignoreClosed(s.h3Server.Serve(s.udp))
		})
	}
	return g.Wait()
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx expires, after which remaining connections are closed.
func (s *Server) Shutdown(ctx context.Context) error {
	var g errgroup.Group
	g.Go(func() error { return s.httpServer.Shutdown(ctx) })
	if s.tlsServer != nil {
		g.Go(func() error { return s.tlsServer.Shutdown(ctx) })
	}
	if s.h3Server != nil {
		g.Go(func() error { return s.h3Server.Shutdown(ctx) })
	}
	g.Go(func() error {
		done := make(chan struct{})
		go func() {
			s.grpcServer.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			s.grpcServer.Stop()
		}
		return nil
	})
	err := g.Wait()
	if s.udp != nil {
		s.udp.Close()
	}
	return err
}

func (s *Server) closeListeners() {
	for _, ln := range []net.Listener{s.httpLn, s.grpcLn, s.tlsLn} {
		if ln != nil {
			ln.Close()
		}
	}
	if s.udp != nil {
		s.udp.Close()
	}
}

func ignoreClosed(err error) error {
	if err == nil || errors.Is(err, http.ErrServerClosed) || errors.Is(err, grpc.ErrServerStopped) || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// loadTLS loads the PEM pair, or generates a self-signed certificate for
// localhost when both paths are empty.
func loadTLS(certFile, keyFile string) (*tls.Config, error) {
	if certFile != "" || keyFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("loading tls key pair: %w", err)
		}
		return &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}, nil
	}
	cert, err := selfSigned()
	if err != nil {
		return nil, fmt.Errorf("generating self-signed certificate: %w", err)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}, nil
}

func selfSigned() (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, err
	}
	now := time.Now()
	template := x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{Organization: []string{"objstore reference server"}},
		NotBefore:    now.Add(-time.Minute),
		NotAfter:     now.Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}, nil
}
