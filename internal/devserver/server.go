// Package devserver is a local stand-in for the hosted backend: OTP auth, the
// table endpoints the client reads and writes, and the resumable upload
// endpoint. It keeps everything in memory.
package devserver

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	hclog "github.com/hashicorp/go-hclog"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/crypto/bcrypt"

	"pocus/internal/platform/clock"
	"pocus/internal/platform/id"
)

const (
	DefaultSecret  = "pocus-dev-secret"
	DefaultAnonKey = "pocus-dev-anon"

	ctxUserID = "user_id"
)

type Options struct {
	Secret  string
	AnonKey string
	Seed    Seed
	Logger  hclog.Logger
	Clock   clock.Clock
	IDs     id.Generator
	// Code, when set, is issued for every sign-in instead of a random one.
	Code       string
	CodeTTL    time.Duration
	TokenTTL   time.Duration
	BcryptCost int
	// FailPatches makes the first n upload PATCH requests answer 503.
	FailPatches int
}

type Server struct {
	echo   *echo.Echo
	opts   Options
	store  *store
	logger hclog.Logger
}

func New(opts Options) (*Server, error) {
	if opts.Secret == "" {
		opts.Secret = DefaultSecret
	}
	if opts.Logger == nil {
		opts.Logger = hclog.NewNullLogger()
	}
	if opts.Clock == nil {
		opts.Clock = clock.SystemClock{}
	}
	if opts.IDs == nil {
		opts.IDs = id.RandomUUID{}
	}
	if opts.CodeTTL <= 0 {
		opts.CodeTTL = 10 * time.Minute
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = time.Hour
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}

	st := newStore()
	if err := opts.Seed.load(st); err != nil {
		return nil, err
	}
	st.failPatches = opts.FailPatches

	s := &Server{
		echo:   echo.New(),
		opts:   opts,
		store:  st,
		logger: opts.Logger.Named("devserver"),
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	e := s.echo
	e.Use(middleware.Recover())
	e.Use(s.logRequests)
	e.Use(s.requireAPIKey)

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
	})

	auth := e.Group("/auth/v1")
	auth.POST("/otp", s.sendOTP)
	auth.POST("/verify", s.verifyOTP)
	auth.POST("/token", s.refreshToken)
	auth.POST("/logout", s.logout, s.requireUser)

	tables := e.Group("/rest/v1", s.requireUser)
	tables.GET("/memberships", s.listMemberships)
	tables.GET("/studies", s.listStudies)
	tables.POST("/studies", s.createStudy)
	tables.PATCH("/studies", s.updateStudy)
	tables.GET("/media", s.listMedia)
	tables.POST("/media", s.insertMedia)
	tables.GET("/feedback", s.listFeedback)
	tables.POST("/feedback", s.insertFeedback)
	tables.GET("/signoffs", s.listSignoffs)
	tables.POST("/signoffs", s.upsertSignoff)

	uploads := e.Group("/storage/v1/upload/resumable", s.requireUser, requireTus)
	uploads.POST("", s.createUpload)
	uploads.HEAD("/:id", s.uploadOffset)
	uploads.PATCH("/:id", s.patchUpload)
	uploads.DELETE("/:id", s.terminateUpload)
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.logger.Info("listening", "addr", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Object returns the bytes stored at bucket/objectName by a finished upload.
func (s *Server) Object(key string) ([]byte, bool) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	data, ok := s.store.objects[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

func (s *Server) logRequests(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		req := c.Request()
		s.logger.Debug("request", "method", req.Method, "path", req.URL.Path, "status", c.Response().Status, "elapsed", time.Since(start))
		return nil
	}
}

func (s *Server) requireAPIKey(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.opts.AnonKey == "" || c.Path() == "/healthz" {
			return next(c)
		}
		if c.Request().Header.Get("apikey") != s.opts.AnonKey {
			return apiError(c, http.StatusUnauthorized, "no_api_key", "No API key found in request")
		}
		return next(c)
	}
}

// requireUser validates the bearer access token and stores its subject.
func (s *Server) requireUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			return apiError(c, http.StatusUnauthorized, "no_authorization", "missing bearer token")
		}
		userID, sessionID, err := s.parseAccessToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			return apiError(c, http.StatusUnauthorized, "bad_jwt", "invalid JWT: "+err.Error())
		}
		s.store.mu.Lock()
		revoked := s.store.revoked[sessionID]
		s.store.mu.Unlock()
		if revoked {
			return apiError(c, http.StatusUnauthorized, "session_not_found", "session has been signed out")
		}
		c.Set(ctxUserID, userID)
		return next(c)
	}
}

func requireTus(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Response().Header().Set("Tus-Resumable", tusVersion)
		if c.Request().Header.Get("Tus-Resumable") != tusVersion {
			c.Response().Header().Set("Tus-Version", tusVersion)
			return c.NoContent(http.StatusPreconditionFailed)
		}
		return next(c)
	}
}

func (s *Server) parseAccessToken(raw string) (uuid.UUID, uuid.UUID, error) {
	tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		return []byte(s.opts.Secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.opts.Clock.Now))
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return uuid.Nil, uuid.Nil, errors.New("unexpected claims")
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	userID, err := uuid.Parse(sub)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	rawSession, _ := claims["session_id"].(string)
	sessionID, err := uuid.Parse(rawSession)
	if err != nil {
		return uuid.Nil, uuid.Nil, errors.New("missing session_id")
	}
	return userID, sessionID, nil
}

func callerID(c echo.Context) uuid.UUID {
	userID, _ := c.Get(ctxUserID).(uuid.UUID)
	return userID
}

func apiError(c echo.Context, status int, code, msg string) error {
	return c.JSON(status, echo.Map{"code": status, "error_code": code, "msg": msg})
}
