package submitter

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/safetycheck/safetycheck/client/internal/config"
)

// SubmitCheckMethod is the full gRPC method name of the check service.
const SubmitCheckMethod = "/safetycheck.v1.CheckService/SubmitCheck"

const (
	backoffInitial    = 1 * time.Second
	backoffMax        = 30 * time.Second
	backoffMultiplier = 2.0
)

// dialFunc opens a connection to endpoint. Tests swap it for a loopback dialer.
type dialFunc func(endpoint string, cfg config.ClientConfig) (*grpc.ClientConn, error)

// Submitter delivers checks to one server.
type Submitter struct {
	cfg    config.ClientConfig
	dialFn dialFunc
	sleep  func(ctx context.Context, d time.Duration) error // injectable for tests
}

// New creates a Submitter for cfg.
func New(cfg config.ClientConfig) *Submitter {
	return &Submitter{cfg: cfg, dialFn: defaultDial, sleep: sleepCtx}
}

// Submit sends req and returns the server's response. Transient failures are
// retried with backoff until the attempt budget or ctx runs out.
func (s *Submitter) Submit(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	conn, err := s.dialFn(s.cfg.GRPCEndpoint, s.cfg)
	if err != nil {
		return nil, fmt.Errorf("submitter: dial %s: %w", s.cfg.GRPCEndpoint, err)
	}
	defer conn.Close()

	attempts := s.cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	bo := newBackoff()

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := s.call(ctx, conn, req)
		if err == nil {
			if attempt > 1 {
				slog.Info("submitter: delivered after retry", "attempt", attempt)
			}
			return resp, nil
		}
		lastErr = err

		if isPermanentError(err) {
			return nil, fmt.Errorf("submitter: rejected: %w", err)
		}
		if attempt == attempts {
			break
		}

		wait := bo.next()
		slog.Warn("submitter: send failed, will retry",
			"endpoint", s.cfg.GRPCEndpoint,
			"attempt", attempt,
			"err", err,
			"retry_in", wait,
		)
		if err := s.sleep(ctx, wait); err != nil {
			return nil, fmt.Errorf("submitter: %w (last error: %v)", err, lastErr)
		}
	}
	return nil, fmt.Errorf("submitter: giving up after %d attempts: %w", attempts, lastErr)
}

func (s *Submitter) call(ctx context.Context, conn grpc.ClientConnInterface, req *structpb.Struct) (*structpb.Struct, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	if s.cfg.Auth.Mode == "apikey" {
		callCtx = metadata.AppendToOutgoingContext(callCtx, s.cfg.Auth.Header, s.cfg.Auth.Key())
	}

	out := &structpb.Struct{}
	if err := conn.Invoke(callCtx, SubmitCheckMethod, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// isPermanentError reports whether err means the check will never be
// accepted as sent.
func isPermanentError(err error) bool {
	switch status.Code(err) {
	case codes.InvalidArgument, codes.FailedPrecondition, codes.NotFound,
		codes.Unauthenticated, codes.PermissionDenied, codes.Unimplemented:
		return true
	}
	return false
}

func defaultDial(endpoint string, cfg config.ClientConfig) (*grpc.ClientConn, error) {
	opts, err := dialOptions(cfg)
	if err != nil {
		return nil, err
	}
	return grpc.NewClient(endpoint, opts...)
}

func dialOptions(cfg config.ClientConfig) ([]grpc.DialOption, error) {
	if cfg.Auth.Mode == "mtls" {
		creds, err := buildMTLSCreds(cfg.Auth)
		if err != nil {
			return nil, fmt.Errorf("submitter: build mtls creds: %w", err)
		}
		return []grpc.DialOption{grpc.WithTransportCredentials(creds)}, nil
	}
	return []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, nil
}

func buildMTLSCreds(auth config.AuthConfig) (credentials.TransportCredentials, error) {
	cert, err := tls.LoadX509KeyPair(auth.CertFile, auth.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load client cert: %w", err)
	}
	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	if auth.CAFile != "" {
		caPEM, err := os.ReadFile(auth.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("no valid certs in ca file %q", auth.CAFile)
		}
		tlsCfg.RootCAs = pool
	}
	return credentials.NewTLS(tlsCfg), nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	current time.Duration
}

func newBackoff() *backoff {
	return &backoff{current: backoffInitial}
}

// next returns the current wait with ±25% jitter and advances the state.
func (b *backoff) next() time.Duration {
	d := b.current + time.Duration(float64(b.current)*0.25*(rand.Float64()*2-1)) //nolint:gosec // not crypto
	if d < 0 {
		d = 0
	}
	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > backoffMax {
		b.current = backoffMax
	}
	return d
}
