package streamproxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/anatolykoptev/go_music/internal/engine"
)

// ChunkSize is the relay buffer; each chunk is flushed to the client.
const ChunkSize = 64 << 10

// Options configures a Server.
type Options struct {
	RateLimit  int           // stream requests per IP per window (0 = unlimited)
	RateWindow time.Duration // default 1m
}

// Server relays resolved segments to clients.
type Server struct {
	resolver Resolver
	client   *http.Client
	opts     Options
	started  time.Time
}

// NewServer builds a proxy over resolver. client fetches segments; it
// must not set a total timeout, streams can be long.
func NewServer(resolver Resolver, client *http.Client, opts Options) *Server {
	if client == nil {
		client = &http.Client{}
	}
	if opts.RateWindow <= 0 {
		opts.RateWindow = time.Minute
	}
	return &Server{resolver: resolver, client: client, opts: opts, started: time.Now()}
}

// Handler returns the router: GET / (liveness), GET /metrics, GET /stream/{token}.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleRoot)
	r.Handle("/metrics", promhttp.Handler())

	stream := r.With()
	if s.opts.RateLimit > 0 {
		stream = r.With(httprate.LimitByIP(s.opts.RateLimit, s.opts.RateWindow))
	}
	stream.Get("/stream/{token}", s.handleStream)
	return r
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"message": "stream proxy is running",
		"uptime":  time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tok, err := DecodeToken(chi.URLParam(r, "token"))
	if err != nil {
		streamRequests.WithLabelValues("bad_token").Inc()
		http.Error(w, "invalid or malformed token", http.StatusBadRequest)
		return
	}

	segs, err := s.resolver.Resolve(ctx, tok.Locator)
	if err != nil {
		streamRequests.WithLabelValues("resolve_failed").Inc()
		slog.Warn("proxy: resolve failed", slog.String("ext", tok.Ext), slog.Any("error", err))
		http.Error(w, "upstream resolution failed", http.StatusBadGateway)
		return
	}

	activeStreams.Inc()
	defer activeStreams.Dec()

	written, err := s.relay(ctx, w, tok.Ext, segs)
	switch {
	case err == nil:
		streamRequests.WithLabelValues("ok").Inc()
	case ctx.Err() != nil:
		streamRequests.WithLabelValues("client_gone").Inc()
		slog.Debug("proxy: client disconnected", slog.Int64("bytes", written))
	case written == 0:
		streamRequests.WithLabelValues("upstream_failed").Inc()
		slog.Warn("proxy: upstream failed", slog.Any("error", err))
		http.Error(w, "upstream fetch failed", http.StatusBadGateway)
	default:
		streamRequests.WithLabelValues("upstream_aborted").Inc()
		slog.Warn("proxy: stream aborted", slog.Int64("bytes", written), slog.Any("error", err))
		// The status line is gone; reset the connection so the client
		// cannot mistake a truncated body for a complete one.
		panic(http.ErrAbortHandler)
	}
}

// relay streams every segment in order. Headers are sent with the first
// byte so an upstream that fails up front still yields a 502.
func (s *Server) relay(ctx context.Context, w http.ResponseWriter, ext string, segs []string) (int64, error) {
	rc := http.NewResponseController(w)
	buf := make([]byte, ChunkSize)
	var written int64

	for i, seg := range segs {
		body, err := s.open(ctx, seg)
		if err != nil {
			return written, fmt.Errorf("segment %d: %w", i, err)
		}
		for {
			n, rerr := body.Read(buf)
			if n > 0 {
				if written == 0 {
					w.Header().Set("Content-Type", ContentType(ext))
					w.WriteHeader(http.StatusOK)
				}
				if _, werr := w.Write(buf[:n]); werr != nil {
					body.Close()
					return written, werr
				}
				written += int64(n)
				streamBytes.Add(float64(n))
				if ferr := rc.Flush(); ferr != nil && !errors.Is(ferr, http.ErrNotSupported) {
					body.Close()
					return written, ferr
				}
			}
			if errors.Is(rerr, io.EOF) {
				break
			}
			if rerr != nil {
				body.Close()
				return written, fmt.Errorf("segment %d read: %w", i, rerr)
			}
		}
		body.Close()
	}
	if written == 0 {
		w.Header().Set("Content-Type", ContentType(ext))
		w.WriteHeader(http.StatusOK)
	}
	return written, nil
}

// open starts a segment fetch bound to the client's request context.
func (s *Server) open(ctx context.Context, seg string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, seg, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", engine.UserAgentChrome)
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("status %d: %w", resp.StatusCode, engine.ErrProviderUnavailable)
	}
	return resp.Body, nil
}
