package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/victornm/eplay/internal/api"
	"github.com/victornm/eplay/internal/catalog"
	"github.com/victornm/eplay/internal/channel"
	"github.com/victornm/eplay/internal/domain"
	"github.com/victornm/eplay/internal/event"
	"github.com/victornm/eplay/internal/session"
	"github.com/victornm/eplay/internal/shell"
	"github.com/victornm/eplay/internal/submit"
	"github.com/victornm/eplay/internal/telemetry"
)

const (
	catalogModePostgres = "postgres"
	catalogModeHTTP     = "http"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	Redis struct {
		Session struct {
			Addrs  []string
			Pass   string
			Prefix string
		}
	}

	Postgres struct {
		Catalog struct {
			Addr string
			User string
			Pass string
			Name string
		}
	}

	Catalog struct {
		// Mode selects where descriptors come from: "postgres" for the
		// portal's own catalog, "http" for a remote content service.
		Mode    string
		BaseURL string
	}

	Runtime struct {
		OverlayMillis         int
		CompleteTimeoutMillis int
		RevealMillis          int
		CompleteDelayMillis   int
		AllowedOrigins        []string
	}
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis struct {
			session redis.UniversalClient
		}

		postgres struct {
			catalog *pgxpool.Pool
		}
	}

	service struct {
		store     *session.Store
		submitter *submit.Client
		catalog   catalog.Source
		registry  *shell.Registry
	}

	http *http.Server
}

// validate catches wiring mistakes before any infra is dialed: an unknown
// catalog mode would otherwise leave the service without a working source.
func (c Config) validate() error {
	switch c.Catalog.Mode {
	case catalogModePostgres:
	case catalogModeHTTP:
		if c.Catalog.BaseURL == "" {
			return fmt.Errorf("catalog: base URL required in %q mode", catalogModeHTTP)
		}
	default:
		return fmt.Errorf("catalog: unknown mode %q, want %q or %q",
			c.Catalog.Mode, catalogModePostgres, catalogModeHTTP)
	}

	return nil
}

func Init(c Config) (*Server, error) {
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("server: config: %w", err)
	}

	s := &Server{c: c}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	s.initService()
	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if s.c.Catalog.Mode == catalogModePostgres {
		if err := s.initPostgres(); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}

	return nil
}

func (s *Server) initRedis() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    s.c.Redis.Session.Addrs,
		Password: s.c.Redis.Session.Pass,
	})

	if err := telemetry.MonitorRedis(r); err != nil {
		return err
	}

	if err := r.Ping(ctx).Err(); err != nil {
		return err
	}

	s.infra.redis.session = r
	return nil
}

func (s *Server) initPostgres() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c := s.c.Postgres.Catalog
	cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s", c.User, c.Pass, c.Addr, c.Name))
	if err != nil {
		return err
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return err
	}

	if err := db.Ping(ctx); err != nil {
		return err
	}

	s.infra.postgres.catalog = db
	return nil
}

func (s *Server) initService() {
	s.service.store = session.NewStore(session.Config{
		Redis:  s.infra.redis.session,
		Prefix: s.c.Redis.Session.Prefix,
	})

	s.service.submitter = submit.NewClient(submit.Config{})

	switch s.c.Catalog.Mode {
	case catalogModeHTTP:
		s.service.catalog = catalog.NewHTTPSource(s.c.Catalog.BaseURL, nil)
	case catalogModePostgres:
		s.service.catalog = catalog.NewRepository(catalog.Config{
			DB: s.infra.postgres.catalog,
		})
	}

	s.service.registry = shell.NewRegistry()
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	api.New(api.Config{
		Router:          e,
		EventBus:        s.eb,
		Catalog:         s.service.catalog,
		Store:           s.service.store,
		Submitter:       s.service.submitter,
		Registry:        s.service.registry,
		Origins:         channel.NewOriginPolicy(s.c.Runtime.AllowedOrigins),
		OverlayDuration: time.Duration(s.c.Runtime.OverlayMillis) * time.Millisecond,
		CompleteTimeout: time.Duration(s.c.Runtime.CompleteTimeoutMillis) * time.Millisecond,
		RevealInterval:  time.Duration(s.c.Runtime.RevealMillis) * time.Millisecond,
		CompleteDelay:   time.Duration(s.c.Runtime.CompleteDelayMillis) * time.Millisecond,
	})

	s.eb.Subscribe(domain.EventNameAttemptSubmitted, func(ctx context.Context, e event.Event) error {
		sub := e.(domain.EventAttemptSubmitted)
		slog.InfoContext(ctx, "server: attempt submitted",
			"attempt", sub.AttemptID,
			"activity", sub.ActivityID,
			"user", sub.UserID,
		)
		return nil
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) Start() {
	ctx := context.TODO()

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	err := eg.Wait()
	if err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.eb.Stop()

	slog.InfoContext(ctx, "server: shutdown completed")
}
