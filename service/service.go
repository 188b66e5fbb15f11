// Package service exposes the sync protocol over HTTPS: peer-facing routes
// for index/fetch/store exchanges, a websocket publish feed, and an admin
// surface the CLI drives exchanges through.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"github.com/SyndicLabs/syndic/collector"
	"github.com/SyndicLabs/syndic/config"
	"github.com/SyndicLabs/syndic/protocol"
	"github.com/SyndicLabs/syndic/store"
)

const (
	authCacheTTL    = 5 * time.Minute
	limiterCacheTTL = 1 * time.Minute
)

type Config struct {
	Logger    *slog.Logger
	NodeCfg   *config.Node
	Store     store.Store
	Collector *collector.Collector
	Engine    *protocol.Engine
}

// authedPeer is the resolved identity behind a presented API key.
type authedPeer struct {
	Name     string
	Org      string
	Internal bool
}

type Service struct {
	logger    *slog.Logger
	cfg       *config.Node
	store     store.Store
	collector *collector.Collector
	engine    *protocol.Engine
	feed      *FeedHub

	mux        *http.ServeMux
	httpServer *http.Server

	// Verified keys are cached so every request doesn't pay a bcrypt
	// comparison per configured peer.
	authCache *ttlcache.Cache[string, authedPeer]
	limiters  *ttlcache.Cache[string, *rate.Limiter]

	wsUpgrader websocket.Upgrader
}

func New(sc Config) *Service {
	logger := sc.Logger.WithGroup("service")

	authCache := ttlcache.New[string, authedPeer](
		ttlcache.WithTTL[string, authedPeer](authCacheTTL),
	)
	go authCache.Start()

	limiters := ttlcache.New[string, *rate.Limiter](
		ttlcache.WithTTL[string, *rate.Limiter](limiterCacheTTL),
	)
	go limiters.Start()

	s := &Service{
		logger:    logger,
		cfg:       sc.NodeCfg,
		store:     sc.Store,
		collector: sc.Collector,
		engine:    sc.Engine,
		feed:      NewFeedHub(logger, sc.NodeCfg.Feed),
		mux:       http.NewServeMux(),
		authCache: authCache,
		limiters:  limiters,
		wsUpgrader: websocket.Upgrader{
			ReadBufferSize:  sc.NodeCfg.Feed.WebSocketReadBufferSize,
			WriteBufferSize: sc.NodeCfg.Feed.WebSocketWriteBufferSize,
		},
	}
	s.routes()
	return s
}

// Handler returns the full route tree; tests mount it on httptest servers.
func (s *Service) Handler() http.Handler {
	return s.mux
}

// Feed returns the publish feed hub so local publish paths can announce.
func (s *Service) Feed() *FeedHub {
	return s.feed
}

func (s *Service) routes() {
	peer := func(h func(http.ResponseWriter, *http.Request, authedPeer)) http.Handler {
		return s.rateLimit("sync", s.peerAuth(h))
	}

	s.mux.Handle("GET /sync/v1/ping", peer(s.pingHandler))
	s.mux.Handle("GET /sync/v1/index", peer(s.indexHandler))
	s.mux.Handle("GET /sync/v1/event/{uuid}", peer(s.eventHandler))
	s.mux.Handle("GET /sync/v1/extras/{uuid}", peer(s.extrasHandler))
	s.mux.Handle("GET /sync/v1/galaxies", peer(s.galaxiesHandler))
	s.mux.Handle("POST /sync/v1/store", peer(s.storeHandler))
	s.mux.Handle("POST /sync/v1/galaxy", peer(s.storeGalaxyHandler))
	s.mux.Handle("GET /sync/v1/feed", s.rateLimit("feed", s.peerAuth(s.feedHandler)))

	admin := func(h http.HandlerFunc) http.Handler {
		return s.rateLimit("default", s.adminAuth(h))
	}

	s.mux.Handle("POST /admin/v1/event", admin(s.createEventHandler))
	s.mux.Handle("POST /admin/v1/push/{link}", admin(s.pushAllHandler))
	s.mux.Handle("POST /admin/v1/push/{link}/{uuid}", admin(s.pushEventHandler))
	s.mux.Handle("POST /admin/v1/pull/{link}", admin(s.pullAllHandler))
	s.mux.Handle("POST /admin/v1/pull/{link}/{uuid}", admin(s.pullEventHandler))
	s.mux.Handle("POST /admin/v1/publish/{uuid}", admin(s.publishHandler))
}

// Run serves until ctx is cancelled. TLS is used when configured; the
// daemon refuses plain HTTP except for loopback development setups.
func (s *Service) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    s.cfg.HttpBinding,
		Handler: s.mux,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.cfg.TLS.Cert != "" {
			s.logger.Info("listening with TLS", "binding", s.cfg.HttpBinding)
			err = s.httpServer.ListenAndServeTLS(s.cfg.TLS.Cert, s.cfg.TLS.Key)
		} else {
			s.logger.Warn("listening WITHOUT TLS - development only", "binding", s.cfg.HttpBinding)
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.feed.Close()
		s.authCache.Stop()
		s.limiters.Stop()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

// -------------------------- middleware

func (s *Service) resolvePeer(key string) (authedPeer, bool) {
	if key == "" {
		return authedPeer{}, false
	}
	if item := s.authCache.Get(key); item != nil {
		return item.Value(), true
	}
	for name, peer := range s.cfg.Peers {
		if bcrypt.CompareHashAndPassword([]byte(peer.KeyHash), []byte(key)) == nil {
			ap := authedPeer{Name: name, Org: peer.Org, Internal: peer.Internal}
			s.authCache.Set(key, ap, ttlcache.DefaultTTL)
			return ap, true
		}
	}
	return authedPeer{}, false
}

func (s *Service) peerAuth(next func(http.ResponseWriter, *http.Request, authedPeer)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ap, ok := s.resolvePeer(r.Header.Get("Authorization"))
		if !ok {
			s.logger.Warn("unauthorized sync request", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		next(w, r, ap)
	})
}

func (s *Service) adminAuth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("Authorization")
		if key == "" || bcrypt.CompareHashAndPassword([]byte(s.cfg.AdminKeyHash), []byte(key)) != nil {
			s.logger.Warn("unauthorized admin request", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		next(w, r)
	})
}

func (s *Service) limiterConfig(category string) config.RateLimiterConfig {
	switch category {
	case "sync":
		return s.cfg.RateLimiters.Sync
	case "feed":
		return s.cfg.RateLimiters.Feed
	default:
		return s.cfg.RateLimiters.Default
	}
}

func (s *Service) getRateLimiter(category string, r *http.Request) *rate.Limiter {
	key := category + "|" + r.Header.Get("Authorization")
	item := s.limiters.Get(key)
	if item == nil {
		rl := s.limiterConfig(category)
		item = s.limiters.Set(key, rate.NewLimiter(rate.Limit(rl.Limit), rl.Burst), ttlcache.DefaultTTL)
	}
	return item.Value()
}

func (s *Service) rateLimit(category string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limiter := s.getRateLimiter(category, r)
		res := limiter.Reserve()
		if delay := res.Delay(); delay > 0 {
			res.Cancel()
			s.logger.Warn("rate limit exceeded", "category", category, "path", r.URL.Path)
			w.Header().Set("Retry-After", fmt.Sprintf("%.0f", math.Ceil(delay.Seconds())))
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
