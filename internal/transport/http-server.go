package transport

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-playground/validator"
	"github.com/gorilla/sessions"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/RiiPPeR/chiclana-records-back/internal/collection"
	"github.com/RiiPPeR/chiclana-records-back/internal/config"
	"github.com/RiiPPeR/chiclana-records-back/internal/db"
	"github.com/RiiPPeR/chiclana-records-back/internal/discogs"
	"github.com/RiiPPeR/chiclana-records-back/internal/service"
)

const (
	sessionName = "chiclana_session"

	// One day, in seconds. Signout overrides with -1 to drop the cookie.
	sessionMaxAge = 86400
)

var Module = fx.Provide(NewHTTPServer)

type (
	RegisterReq struct {
		Email    string `json:"email" validate:"required,email"`
		Username string `json:"username" validate:"required"`
		Password string `json:"password" validate:"required,min=8"`
	}

	SigninReq struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required"`
	}

	AddRecordReq struct {
		Title    string `json:"title" validate:"required"`
		Artist   string `json:"artist" validate:"required"`
		ImageURL string `json:"image_url"`
		Country  string `json:"country"`
		Year     int    `json:"year"`
		Label    string `json:"label"`
		Catno    string `json:"catno"`
	}

	ResultResp struct {
		Success bool   `json:"success"`
		Error   string `json:"error,omitempty"`
	}

	RecordResp struct {
		DiscogsID uint64 `json:"discogs_id"`
		Title     string `json:"title"`
		Artist    string `json:"artist"`
		ImageURL  string `json:"image_url,omitempty"`
		Country   string `json:"country,omitempty"`
		Year      int    `json:"year,omitempty"`
		Label     string `json:"label,omitempty"`
		Catno     string `json:"catno,omitempty"`
	}

	DiscogsHitResp struct {
		discogs.SearchResult
		InCollection bool `json:"in_collection"`
	}

	CustomValidator struct {
		validator *validator.Validate
	}

	HTTPServer struct {
		echo     *echo.Echo
		auth     *service.Auth
		records  *collection.Service
		discogs  *discogs.Client
		sessions sessions.Store
		logger   *zap.SugaredLogger
	}
)

func NewHTTPServer(
	lc fx.Lifecycle,
	cfg *config.Config,
	auth *service.Auth,
	records *collection.Service,
	discogsClient *discogs.Client,
	logger *zap.SugaredLogger,
) *HTTPServer {
	e := echo.New()

	store := sessions.NewCookieStore([]byte(cfg.SessionSecret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   sessionMaxAge,
		HttpOnly: true,
	}

	instance := HTTPServer{
		echo:     e,
		auth:     auth,
		records:  records,
		discogs:  discogsClient,
		sessions: store,
		logger:   logger,
	}

	e.POST("/auth/register", instance.Register)
	e.POST("/auth/signin", instance.Signin)
	e.GET("/auth/signout", instance.Signout)

	recordG := e.Group("/records")
	recordG.GET("", instance.RecordList)
	recordG.GET("/search", instance.RecordSearch)
	recordG.GET("/:discogs_id", instance.RecordGet)
	recordG.POST("/:discogs_id", instance.RecordAdd)
	recordG.DELETE("/:discogs_id", instance.RecordRemove)

	e.GET("/discogs/search", instance.DiscogsSearch)

	e.GET("/ping", func(c echo.Context) error { return c.String(http.StatusOK, "pong") })

	e.Use(middleware.CORS())
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	e.Use(instance.AuthMiddleware)

	e.Validator = &CustomValidator{validator: validator.New()}

	echo.NotFoundHandler = func(c echo.Context) error {
		return c.NoContent(http.StatusNotFound)
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				listen := cfg.Host + ":" + cfg.Port
				if err := e.Start(listen); err != nil && err != http.ErrServerClosed {
					e.Logger.Fatal("shutting down the server")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Stopping HTTP server.")
			return e.Shutdown(ctx)
		},
	})

	return &instance
}

func (s *HTTPServer) Register(c echo.Context) error {
	req := RegisterReq{}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ResultResp{Error: "Debes de rellenar los campos"})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ResultResp{Error: "Debes de rellenar los campos"})
	}

	_, err := s.auth.Register(c.Request().Context(), req.Email, req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUsernameTaken):
			return c.JSON(http.StatusBadRequest, ResultResp{Error: "El nombre de usuario ya existe"})
		case errors.Is(err, service.ErrEmailTaken):
			return c.JSON(http.StatusBadRequest, ResultResp{Error: "El correo ya está en uso"})
		}
		return err
	}

	return c.JSON(http.StatusOK, ResultResp{Success: true})
}

func (s *HTTPServer) Signin(c echo.Context) error {
	req := SigninReq{}
	if err := BindAndValidate(c, &req); err != nil {
		return err
	}

	_, token, err := s.auth.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrLoginUserNotFound) || errors.Is(err, service.ErrLoginPasswordDoesNotMatch) {
			return c.JSON(http.StatusUnauthorized, ResultResp{Error: "Credenciales incorrectas."})
		}
		return err
	}

	if err := s.saveSessionToken(c, token, sessionMaxAge); err != nil {
		return errors.Wrap(err, "save session")
	}

	return c.JSON(http.StatusOK, ResultResp{Success: true})
}

func (s *HTTPServer) Signout(c echo.Context) error {
	user, err := GetUserFromContext(c)
	if err != nil {
		return err
	}

	if err := s.auth.Logout(c.Request().Context(), user.ID); err != nil {
		return err
	}

	if err := s.saveSessionToken(c, "", -1); err != nil {
		return errors.Wrap(err, "expire session")
	}

	return c.JSON(http.StatusOK, ResultResp{Success: true})
}

func (s *HTTPServer) RecordAdd(c echo.Context) error {
	discogsID, err := GetAndParseParam(c, "discogs_id")
	if err != nil {
		return err
	}
	user, err := GetUserFromContext(c)
	if err != nil {
		return err
	}

	req := AddRecordReq{}
	if err := BindAndValidate(c, &req); err != nil {
		return err
	}

	err = s.records.Add(c.Request().Context(), user.ID, discogsID, collection.AddInput{
		Title:    req.Title,
		Artist:   req.Artist,
		ImageURL: req.ImageURL,
		Country:  req.Country,
		Year:     req.Year,
		Label:    req.Label,
		Catno:    req.Catno,
	})
	if err != nil {
		if errors.Is(err, collection.ErrAlreadyInCollection) {
			return c.JSON(http.StatusBadRequest, ResultResp{Error: collection.AlreadyInCollectionMessage})
		}
		return c.JSON(http.StatusBadRequest, ResultResp{Error: err.Error()})
	}

	return c.JSON(http.StatusOK, ResultResp{Success: true})
}

func (s *HTTPServer) RecordRemove(c echo.Context) error {
	discogsID, err := GetAndParseParam(c, "discogs_id")
	if err != nil {
		return err
	}
	user, err := GetUserFromContext(c)
	if err != nil {
		return err
	}

	if err := s.records.Remove(c.Request().Context(), user.ID, discogsID); err != nil {
		return c.JSON(http.StatusBadRequest, ResultResp{Error: err.Error()})
	}

	return c.JSON(http.StatusOK, ResultResp{Success: true})
}

func (s *HTTPServer) RecordList(c echo.Context) error {
	user, err := GetUserFromContext(c)
	if err != nil {
		return err
	}

	records, err := s.records.UserRecords(c.Request().Context(), user.ID)
	if err != nil {
		return err
	}

	resp := make([]RecordResp, len(records))
	for i := range records {
		resp[i] = toRecordResp(&records[i])
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *HTTPServer) RecordGet(c echo.Context) error {
	discogsID, err := GetAndParseParam(c, "discogs_id")
	if err != nil {
		return err
	}

	record, err := s.records.Record(c.Request().Context(), discogsID)
	if err != nil {
		return err
	}
	if record == nil {
		return c.NoContent(http.StatusNotFound)
	}

	return c.JSON(http.StatusOK, toRecordResp(record))
}

func (s *HTTPServer) RecordSearch(c echo.Context) error {
	term := c.QueryParam("q")
	if term == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing query param 'q'")
	}

	records, err := s.records.SearchRecords(c.Request().Context(), term)
	if err != nil {
		return err
	}

	resp := make([]RecordResp, len(records))
	for i := range records {
		resp[i] = toRecordResp(&records[i])
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *HTTPServer) DiscogsSearch(c echo.Context) error {
	user, err := GetUserFromContext(c)
	if err != nil {
		return err
	}

	term := c.QueryParam("q")
	if term == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing query param 'q'")
	}

	hits, err := s.discogs.Search(c.Request().Context(), term)
	if err != nil {
		return err
	}

	resp := make([]DiscogsHitResp, len(hits))
	for i := range hits {
		resp[i] = DiscogsHitResp{
			SearchResult: hits[i],
			InCollection: s.records.HasRecord(c.Request().Context(), user.ID, hits[i].DiscogsID),
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// AuthMiddleware resolves the session cookie to a user and rejects everything
// else with 401. Add and remove are treated the same way: this is a JSON API,
// redirecting to a sign-in page is the presentation layer's business.
func (s *HTTPServer) AuthMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		switch c.Path() {
		case "/auth/register", "/auth/signin", "/ping":
			return next(c)
		}

		sess, err := s.sessions.Get(c.Request(), sessionName)
		if err != nil {
			return c.NoContent(http.StatusUnauthorized)
		}
		token, _ := sess.Values["token"].(string)
		if token == "" {
			return c.NoContent(http.StatusUnauthorized)
		}

		user, err := s.auth.UserByToken(c.Request().Context(), token)
		if err != nil {
			c.Logger().Error(errors.Wrap(err, "find user by session token"))
			return c.NoContent(http.StatusUnauthorized)
		}

		c.Set("user", user)
		return next(c)
	}
}

func (s *HTTPServer) saveSessionToken(c echo.Context, token string, maxAge int) error {
	sess, _ := s.sessions.New(c.Request(), sessionName)
	sess.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
	}
	sess.Values["token"] = token
	return sess.Save(c.Request(), c.Response())
}

func toRecordResp(record *db.Record) RecordResp {
	return RecordResp{
		DiscogsID: record.DiscogsID,
		Title:     record.Title,
		Artist:    record.Artist,
		ImageURL:  record.ImageURL,
		Country:   record.Country,
		Year:      record.Year,
		Label:     record.Label,
		Catno:     record.Catno,
	}
}

////////

func (cv *CustomValidator) Validate(i interface{}) error {
	if err := cv.validator.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return nil
}

func BindAndValidate(c echo.Context, v interface{}) error {
	var err error
	if err = c.Bind(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err = c.Validate(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

func GetUserFromContext(c echo.Context) (*db.User, error) {
	user, ok := c.Get("user").(*db.User)
	if !ok || user == nil {
		return nil, errors.New("no user found in context")
	}
	return user, nil
}

func GetParam(c echo.Context, name string) (string, error) {
	value := c.Param(name)
	if value == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, "invalid path param '"+name+"'")
	}
	return value, nil
}

func GetAndParseParam(c echo.Context, name string) (uint64, error) {
	v, e := GetParam(c, name)
	if e != nil {
		return 0, e
	}
	vv, e := strconv.ParseUint(v, 10, 64)
	if e != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid path param '"+name+"'")
	}
	return vv, nil
}
