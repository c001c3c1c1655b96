package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Handler registers its routes on the echo instance.
type Handler interface {
	Register(e *echo.Echo)
}

// Options configure the HTTP server.
type Options struct {
	Addr           string
	AllowedOrigins []string
	RateLimit      RateLimit
	// TrustedProxies lists the CIDRs whose X-Forwarded-For is honored. With
	// none, the client address is the socket peer.
	TrustedProxies []string
}

type Server struct {
	echo   *echo.Echo
	addr   string
	logger *slog.Logger
}

// NewServer builds the echo instance with the shared middleware stack and
// registers every handler.
func NewServer(log *slog.Logger, opts Options, handlers ...Handler) *Server {
	if log == nil {
		log = slog.Default()
	}
	addr := opts.Addr
	if addr == "" {
		addr = ":8080"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = NewValidator()
	e.IPExtractor = ipExtractor(log, opts.TrustedProxies)
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus: true,
		LogURI:    true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Info("request",
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("remote_ip", c.RealIP()),
			)
			return nil
		},
	}))
	e.Use(middleware.CORSWithConfig(corsConfig(opts.AllowedOrigins)))
	if limiter := NewRateLimiter(opts.RateLimit); limiter != nil {
		e.Use(limiter.Middleware(isLimitedRoute))
	}

	for _, h := range handlers {
		if h != nil {
			h.Register(e)
		}
	}
	return &Server{echo: e, addr: addr, logger: log.With(slog.String("component", "server"))}
}

// Echo exposes the underlying router, mainly for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) Addr() string {
	return s.addr
}

func (s *Server) Start() error {
	s.logger.Info("http server listening", slog.String("addr", s.addr))
	return s.echo.Start(s.addr)
}

func (s *Server) Stop(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func ipExtractor(log *slog.Logger, proxies []string) echo.IPExtractor {
	trust := []echo.TrustOption{
		echo.TrustLoopback(false),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(false),
	}
	ranges := 0
	for _, cidr := range proxies {
		cidr = strings.TrimSpace(cidr)
		if cidr == "" {
			continue
		}
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			log.Warn("ignoring invalid trusted proxy", slog.String("cidr", cidr), slog.Any("error", err))
			continue
		}
		trust = append(trust, echo.TrustIPRange(network))
		ranges++
	}
	if ranges == 0 {
		return echo.ExtractIPDirect()
	}
	return echo.ExtractIPFromXFFHeader(trust...)
}

func corsConfig(origins []string) middleware.CORSConfig {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return middleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodHead, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}
}

// isLimitedRoute selects the endpoints that trigger outbound calls.
func isLimitedRoute(c echo.Context) bool {
	if c.Request().Method != http.MethodPost {
		return false
	}
	switch c.Request().URL.Path {
	case "/api/chat", "/api/persist-message", "/api/shopify-sync":
		return true
	default:
		return false
	}
}

// Validator adapts go-playground/validator to echo.
type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	return &Validator{validate: validator.New(validator.WithRequiredStructEnabled())}
}

func (v *Validator) Validate(i any) error {
	if err := v.validate.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error()).SetInternal(err)
	}
	return nil
}
