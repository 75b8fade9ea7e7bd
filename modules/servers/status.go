package servers

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/etag"
	"github.com/gofiber/fiber/v2/middleware/healthcheck"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"github.com/Deepreo/jobscheduler/core"
	"github.com/Deepreo/jobscheduler/errors"
	"github.com/Deepreo/jobscheduler/modules/history"
	"github.com/Deepreo/jobscheduler/modules/scheduler"
)

const (
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
	DefaultServerHeader = "jobscheduler"
	DefaultPort         = "8081"
	DefaultHost         = "localhost"
	DefaultHistoryLimit = 20
	maxHistoryLimit     = 1000
)

// StatusSource is implemented by scheduler.Engine and scheduler.GocronScheduler.
type StatusSource interface {
	Jobs() []scheduler.JobStatus
}

// ErrSource reports loop faults; when set, /readyz fails while it is non-nil.
type ErrSource interface {
	Err() error
}

// HistorySource serves /jobs/:name/history.
type HistorySource interface {
	Recent(ctx context.Context, job string, n int64) ([]history.Record, error)
}

type Config struct {
	Enabled      bool   `mapstructure:"enabled"`
	Host         string `mapstructure:"host"`
	Port         string `mapstructure:"port"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
	ServerHeader string `mapstructure:"server_header"`
	Etag         bool   `mapstructure:"etag"`
}

type APIError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type BaseResponse[T any] struct {
	Success bool      `json:"success"`
	Data    T         `json:"data,omitempty"`
	Error   *APIError `json:"error,omitempty"`
}

type StatusServer struct {
	app     *fiber.App
	cfg     *Config
	jobs    StatusSource
	history HistorySource
	errs    ErrSource
}

var _ core.Server = (*StatusServer)(nil)

type Option func(*StatusServer)

func WithHistory(h HistorySource) Option {
	return func(s *StatusServer) {
		s.history = h
	}
}

func WithErrSource(e ErrSource) Option {
	return func(s *StatusServer) {
		s.errs = e
	}
}

func NewStatusServer(cfg *Config, jobs StatusSource, opts ...Option) (*StatusServer, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	c := *cfg
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == "" {
		c.Port = DefaultPort
	}
	fiberConfig, err := buildFiberConfig(&c)
	if err != nil {
		return nil, errors.ValidationError(fmt.Errorf("invalid status server configuration: %w", err))
	}

	s := &StatusServer{
		app:  fiber.New(fiberConfig),
		cfg:  &c,
		jobs: jobs,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.applyMiddlewares()
	s.routes()
	return s, nil
}

func (s *StatusServer) applyMiddlewares() {
	s.app.Use(recover.New())
	s.app.Use(helmet.New())
	s.app.Use(requestid.New())
	s.app.Use(healthcheck.New(healthcheck.Config{
		ReadinessProbe: func(*fiber.Ctx) bool {
			return s.errs == nil || s.errs.Err() == nil
		},
	}))
	if s.cfg.Etag {
		s.app.Use(etag.New())
	}
}

func (s *StatusServer) routes() {
	s.app.Get("/jobs", s.listJobs)
	s.app.Get("/jobs/:name", s.getJob)
	s.app.Get("/jobs/:name/history", s.jobHistory)
}

func (s *StatusServer) listJobs(c *fiber.Ctx) error {
	return c.JSON(BaseResponse[[]scheduler.JobStatus]{Success: true, Data: s.jobs.Jobs()})
}

func (s *StatusServer) getJob(c *fiber.Ctx) error {
	name := c.Params("name")
	for _, st := range s.jobs.Jobs() {
		if st.Name == name {
			return c.JSON(BaseResponse[scheduler.JobStatus]{Success: true, Data: st})
		}
	}
	return notFound(c, name)
}

func (s *StatusServer) jobHistory(c *fiber.Ctx) error {
	if s.history == nil {
		return c.Status(fiber.StatusNotImplemented).JSON(BaseResponse[any]{
			Error: &APIError{Code: "HISTORY_DISABLED", Message: "execution history is not enabled"},
		})
	}
	limit := DefaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			return c.Status(fiber.StatusBadRequest).JSON(BaseResponse[any]{
				Error: &APIError{Code: "INVALID_LIMIT", Message: fmt.Sprintf("limit must be between 1 and %d", maxHistoryLimit)},
			})
		}
		limit = n
	}

	recs, err := s.history.Recent(c.UserContext(), c.Params("name"), int64(limit))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(BaseResponse[[]history.Record]{Success: true, Data: recs})
}

func notFound(c *fiber.Ctx, name string) error {
	return c.Status(fiber.StatusNotFound).JSON(BaseResponse[any]{
		Error: &APIError{Code: "JOB_NOT_FOUND", Message: fmt.Sprintf("job %q not found", name)},
	})
}

func errorResponse(c *fiber.Ctx, err error) error {
	resp := BaseResponse[any]{Error: &APIError{Message: err.Error()}}
	var extendErr *errors.ExtendError
	if errors.As(err, &extendErr) {
		resp.Error.Code = extendErr.Code
		resp.Error.Details = extendErr.Metadata
	}
	switch {
	case errors.IsInfraError(err):
		resp.Error.Message = "Internal Server Error"
		return c.Status(fiber.StatusBadGateway).JSON(resp)
	case errors.IsValidationError(err):
		return c.Status(fiber.StatusBadRequest).JSON(resp)
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(resp)
	}
}

func (s *StatusServer) GetApp() *fiber.App {
	return s.app
}

func (s *StatusServer) Addr() string {
	return fmt.Sprintf("%s:%s", s.cfg.Host, s.cfg.Port)
}

func (s *StatusServer) Run() error {
	return s.app.Listen(s.Addr())
}

func (s *StatusServer) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func buildFiberConfig(cfg *Config) (fiber.Config, error) {
	config := fiber.Config{
		ReadTimeout:           DefaultReadTimeout,
		WriteTimeout:          DefaultWriteTimeout,
		ServerHeader:          DefaultServerHeader,
		DisableStartupMessage: true,
	}
	if cfg.ReadTimeout != "" {
		readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
		if err != nil {
			return fiber.Config{}, fmt.Errorf("invalid read_timeout: %s", cfg.ReadTimeout)
		}
		config.ReadTimeout = readTimeout
	}
	if cfg.WriteTimeout != "" {
		writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
		if err != nil {
			return fiber.Config{}, fmt.Errorf("invalid write_timeout: %s", cfg.WriteTimeout)
		}
		config.WriteTimeout = writeTimeout
	}
	if cfg.ServerHeader != "" {
		config.ServerHeader = cfg.ServerHeader
	}
	return config, nil
}
