package common

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/samber/do/v2"
)

const (
	ActorHeader   = "X-Actor-ID"
	VersionHeader = "If-Match"

	// EscrowPrefix names accounts that pool funds on the platform's behalf.
	EscrowPrefix = "escrow/"
)

type EchoService struct {
	echo *echo.Echo
	port int
}

func NewEchoService(i do.Injector) (*EchoService, error) {
	port := do.MustInvokeNamed[int](i, "port")
	logger := do.MustInvoke[*slog.Logger](i)
	metricsService := do.MustInvoke[*MetricsService](i)

	e := NewEcho(logger, metricsService)

	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "${id} ${remote_ip} ${status} ${method} ${path} ${error} ${latency_human} ${bytes_in} ${bytes_out}\n",
	}))

	e.GET("/metrics", echo.WrapHandler(metricsService.Handler()))

	return &EchoService{
		echo: e,
		port: port,
	}, nil
}

// NewEcho builds the bare router with the error mapping installed; tests use
// it directly with httptest.
func NewEcho(logger *slog.Logger, metricsService *MetricsService) *echo.Echo {
	e := echo.New()

	e.HideBanner = true
	e.HidePort = false

	e.Use(middleware.Recover())

	e.HTTPErrorHandler = func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, body := errorBody(err)

		if metricsService != nil && body.Kind != "" {
			metricsService.Rejected(Kind(body.Kind))
		}

		if status >= http.StatusInternalServerError {
			logger.Error("request failed",
				slog.String("path", c.Path()),
				slog.Any("error", err),
			)
		}

		_ = c.JSON(status, body)
	}

	return e
}

type ErrorResponse struct {
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

func errorBody(err error) (int, ErrorResponse) {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return HTTPStatus(domainErr.Kind), ErrorResponse{
			Kind:    string(domainErr.Kind),
			Message: domainErr.Message,
		}
	}

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Code, ErrorResponse{Message: fmt.Sprint(httpErr.Message)}
	}

	return http.StatusInternalServerError, ErrorResponse{Message: "internal error"}
}

func (s *EchoService) Register(c func(e *echo.Echo)) {
	c(s.echo)
}

func (s *EchoService) Start() error {
	err := s.echo.Start(fmt.Sprintf(":%d", s.port))
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start echo server: %w", err)
	}

	return nil
}

func (s *EchoService) Shutdown(ctx context.Context) error {
	err := s.echo.Shutdown(ctx)
	if err != nil {
		return fmt.Errorf("failed to shutdown echo server: %w", err)
	}

	return nil
}

// Actor returns the calling participant. Authentication happens upstream;
// the gateway forwards the verified identity in ActorHeader.
func Actor(c echo.Context) (string, error) {
	actor := strings.TrimSpace(c.Request().Header.Get(ActorHeader))
	if actor == "" {
		return "", Errorf(KindInvalidActor, "missing %s header", ActorHeader)
	}

	if strings.HasPrefix(actor, EscrowPrefix) {
		return "", Errorf(KindInvalidActor, "%s is a platform account", actor)
	}

	return actor, nil
}

// PlatformAccount reports whether id is the treasury or an escrow account.
// Such accounts never act, and nobody withdraws from them.
func PlatformAccount(id, treasury string) bool {
	return strings.HasPrefix(id, EscrowPrefix) || (treasury != "" && id == treasury)
}

// ExpectedVersion reads an optional If-Match version. Zero means unchecked.
func ExpectedVersion(c echo.Context) (int64, error) {
	raw := strings.Trim(strings.TrimSpace(c.Request().Header.Get(VersionHeader)), `"`)
	if raw == "" {
		return 0, nil
	}

	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return 0, Errorf(KindInvalidArgument, "invalid %s header %q", VersionHeader, raw)
	}

	return v, nil
}

// CheckVersion rejects a stale caller snapshot.
func CheckVersion(expected, current int64) error {
	if expected != 0 && expected != current {
		return Errorf(KindConflict, "version %d is stale, current is %d", expected, current)
	}

	return nil
}

func Bind(c echo.Context, v any) error {
	err := c.Bind(v)
	if err != nil {
		return Errorf(KindInvalidArgument, "invalid request body")
	}

	return nil
}
