package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/OllieMilton/pulsefeed/internal/feed"
	"github.com/OllieMilton/pulsefeed/internal/hub"
	"github.com/OllieMilton/pulsefeed/internal/platform/config"
	"github.com/OllieMilton/pulsefeed/internal/snapshot"
)

// Triggerable is the driver surface trigger endpoints invoke.
type Triggerable interface {
	TriggerNow() bool
}

// Deps carries everything the HTTP surface serves: the hubs to stream
// from, the status cache for the REST endpoint, and the drivers that manual
// triggers reach.
type Deps struct {
	TimeHub     *hub.Hub
	StatusHub   *hub.Hub
	StatusCache *snapshot.Cache
	Triggers    map[string]Triggerable
	// Redis enables cross-instance trigger propagation when non-nil.
	Redis *redis.Client
	Clock clockwork.Clock
}

type Server struct {
	echo   *echo.Echo
	config *config.Config
	clock  clockwork.Clock

	timeHub     *hub.Hub
	statusHub   *hub.Hub
	statusCache *snapshot.Cache
	timeSource  *feed.TimeSource

	triggers map[string]Triggerable
	redis    *redis.Client

	guard          *StreamGuard
	triggerLimiter *rate.Limiter

	startTime time.Time
}

func NewServer(cfg *config.Config, deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	srv := &Server{
		echo:           e,
		config:         cfg,
		clock:          clock,
		timeHub:        deps.TimeHub,
		statusHub:      deps.StatusHub,
		statusCache:    deps.StatusCache,
		timeSource:     feed.NewTimeSource(clock),
		triggers:       deps.Triggers,
		redis:          deps.Redis,
		guard:          NewStreamGuard(DefaultStreamGuardConfig()),
		triggerLimiter: rate.NewLimiter(rate.Limit(cfg.TriggerRatePerSecond), cfg.TriggerBurst),
		startTime:      clock.Now(),
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	return s.echo.Start(fmt.Sprintf(":%s", s.config.Port))
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
