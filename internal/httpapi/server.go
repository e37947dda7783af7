// Package httpapi provides the HTTPS CRUD surface supplementing the
// real-time TCP/UDP signaling server: registration, login, logout, and
// user administration (spec.md §5's supplemented account management).
//
// Grounded on this repo's previous Echo wiring: HideBanner/HidePort,
// zap-backed request logging, middleware.Recover, and a consistent
// JSON error body on every failure response.
package httpapi

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/commanderxa/nexus/internal/auth"
	"github.com/commanderxa/nexus/internal/store"
)

// UserStore is the slice of C9 the HTTP surface needs.
type UserStore interface {
	InsertUser(ctx context.Context, u store.User) error
	SelectUserByUUID(ctx context.Context, id string) (store.User, error)
	SelectUserByUsername(ctx context.Context, username string) (store.User, error)
	ListUsers(ctx context.Context) ([]store.User, error)
	UpdateUsername(ctx context.Context, userUUID, username string) error
	UpdateUserKey(ctx context.Context, userUUID, publicKey string) error
	DeleteUser(ctx context.Context, userUUID string) error
	InsertSession(ctx context.Context, row store.SessionRow) error
	DeleteSessionByJWT(ctx context.Context, jwt string) error
}

// Server is the HTTPS CRUD surface.
type Server struct {
	echo   *echo.Echo
	store  UserStore
	issuer *auth.Issuer
	tlsCfg *tls.Config
	log    *zap.Logger
}

// New constructs a Server and registers every route. tlsCfg may be nil to
// serve plain HTTP, e.g. behind a TLS-terminating proxy in development.
func New(st UserStore, issuer *auth.Issuer, tlsCfg *tls.Config, log *zap.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod: true,
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			log.Info("http request", zap.String("method", v.Method), zap.String("uri", v.URI), zap.Int("status", v.Status))
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: []string{"*"}}))
	e.HTTPErrorHandler = jsonErrorHandler

	s := &Server{echo: e, store: st, issuer: issuer, tlsCfg: tlsCfg, log: log}
	s.registerRoutes()
	return s
}

// Echo exposes the underlying Echo instance for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.POST("/api/auth/register", s.handleRegister)
	s.echo.POST("/api/auth/login", s.handleLogin)
	s.echo.POST("/api/auth/logout", s.handleLogout)
	s.echo.GET("/api/users", s.handleListUsers)
	s.echo.GET("/api/users/:uuid", s.handleGetUser)
	s.echo.PUT("/api/users/:uuid", s.handleUpdateUser)
	s.echo.DELETE("/api/users/:uuid", s.handleDeleteUser)
	s.echo.POST("/api/users/key/:uuid", s.handleUpdateUserKey)
}

// Run starts the server on addr and blocks until ctx is cancelled. When the
// Server was constructed with a non-nil tls.Config it serves HTTPS, matching
// the teacher's httpSrv.ListenAndServeTLS("", "") over a TLSConfig-bearing
// http.Server rather than file-path certificates.
func (s *Server) Run(ctx context.Context, addr string) {
	go func() {
		httpSrv := &http.Server{Addr: addr, Handler: s.echo, TLSConfig: s.tlsCfg}
		var err error
		if s.tlsCfg != nil {
			err = s.echo.StartServer(httpSrv)
		} else {
			err = s.echo.Start(addr)
		}
		if err != nil && err != http.ErrServerClosed {
			s.log.Error("http server error", zap.Error(err))
		}
	}()
	<-ctx.Done()
	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.echo.Shutdown(shutCtx); err != nil {
		s.log.Error("http server shutdown error", zap.Error(err))
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// RegisterRequest is the body for POST /api/auth/register.
type RegisterRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	PublicKey string `json:"public_key"`
}

type userResponse struct {
	UUID      string `json:"uuid"`
	Username  string `json:"username"`
	Role      string `json:"role"`
	PublicKey string `json:"public_key"`
	CreatedAt int64  `json:"created_at"`
}

func toUserResponse(u store.User) userResponse {
	return userResponse{UUID: u.UUID, Username: u.Username, Role: string(u.Role), PublicKey: u.PublicKey, CreatedAt: u.CreatedAt.Unix()}
}

func (s *Server) handleRegister(c echo.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Username == "" || req.Password == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "username and password are required")
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "hash password")
	}

	u := store.User{
		UUID:         uuid.NewString(),
		Username:     req.Username,
		PasswordHash: hash,
		Role:         store.RoleUser,
		PublicKey:    req.PublicKey,
		CreatedAt:    time.Now(),
	}
	if err := s.store.InsertUser(c.Request().Context(), u); err != nil {
		return echo.NewHTTPError(http.StatusConflict, "username already taken")
	}

	return c.JSON(http.StatusCreated, toUserResponse(u))
}

// LoginRequest is the body for POST /api/auth/login.
type LoginRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	Location   string `json:"location"`
	DeviceName string `json:"device_name"`
	DeviceType string `json:"device_type"`
	DeviceOS   string `json:"device_os"`
}

// LoginResponse carries the JWT a client presents in the Envelope's token
// field and in the body of POST /api/auth/logout.
type LoginResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

func (s *Server) handleLogin(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	u, err := s.store.SelectUserByUsername(c.Request().Context(), req.Username)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	}
	if !auth.ComparePassword(u.PasswordHash, req.Password) {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	}

	token, err := s.issuer.Issue(u.UUID, string(u.Role))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "issue token")
	}

	session := store.SessionRow{
		JWT:        token,
		UserUUID:   u.UUID,
		Location:   req.Location,
		DeviceName: req.DeviceName,
		DeviceType: req.DeviceType,
		DeviceOS:   req.DeviceOS,
		CreatedAt:  time.Now(),
	}
	if err := s.store.InsertSession(c.Request().Context(), session); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "persist session")
	}

	return c.JSON(http.StatusOK, LoginResponse{Token: token, User: toUserResponse(u)})
}

// LogoutRequest is the body for POST /api/auth/logout.
type LogoutRequest struct {
	Token string `json:"token"`
}

func (s *Server) handleLogout(c echo.Context) error {
	var req LogoutRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.store.DeleteSessionByJWT(c.Request().Context(), req.Token); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "revoke session")
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleListUsers(c echo.Context) error {
	users, err := s.store.ListUsers(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]userResponse, 0, len(users))
	for _, u := range users {
		out = append(out, toUserResponse(u))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetUser(c echo.Context) error {
	u, err := s.store.SelectUserByUUID(c.Request().Context(), c.Param("uuid"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "user not found")
	}
	return c.JSON(http.StatusOK, toUserResponse(u))
}

// UpdateUserRequest is the body for PUT /api/users/:uuid: the original's
// handler only rewrites the username, so that is all this carries.
type UpdateUserRequest struct {
	Username string `json:"username"`
}

func (s *Server) handleUpdateUser(c echo.Context) error {
	var req UpdateUserRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Username == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "username is required")
	}
	if err := s.store.UpdateUsername(c.Request().Context(), c.Param("uuid"), req.Username); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "user not found")
	}
	return c.NoContent(http.StatusNoContent)
}

// UpdateKeyRequest is the body for POST /api/users/key/:uuid (public-key
// rotation).
type UpdateKeyRequest struct {
	PublicKey string `json:"public_key"`
}

func (s *Server) handleUpdateUserKey(c echo.Context) error {
	var req UpdateKeyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.store.UpdateUserKey(c.Request().Context(), c.Param("uuid"), req.PublicKey); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleDeleteUser(c echo.Context) error {
	if err := s.store.DeleteUser(c.Request().Context(), c.Param("uuid")); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// jsonErrorHandler ensures all error responses have a consistent JSON body:
//
//	{"error": "message"}
func jsonErrorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := err.Error()
	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		}
	}
	if !c.Response().Committed {
		if c.Request().Method == http.MethodHead {
			c.NoContent(code) //nolint:errcheck
		} else {
			c.JSON(code, map[string]string{"error": msg}) //nolint:errcheck
		}
	}
}
