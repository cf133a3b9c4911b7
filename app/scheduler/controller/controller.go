package controller

import (
	"errors"
	"net/http"

	"github.com/canopy-network/datepoll/app/scheduler/types"
	"github.com/canopy-network/datepoll/pkg/db"
	"github.com/canopy-network/datepoll/pkg/db/models/poll"
	"github.com/canopy-network/datepoll/pkg/utils"
	"github.com/go-jose/go-jose/v4/json"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const (
	sessionCookie  = "dp_session"
	userIDHeader   = "X-User-Id"
	userNameHeader = "X-User-Name"
)

type Controller struct {
	App        *types.App
	AdminToken string
	Users      map[string]types.User
	JWTSecret  []byte
}

// NewController returns a new controller with the single configured admin user.
func NewController(app *types.App) *Controller {
	cfg := app.Config
	phash, err := utils.HashOrRead(cfg.AdminPassword)
	if err != nil {
		app.Logger.Error("Unable to hash admin password", zap.Error(err))
	}
	users := map[string]types.User{
		cfg.AdminUser: {Username: cfg.AdminUser, Hash: phash, Role: "admin"},
	}
	return &Controller{
		App:        app,
		AdminToken: cfg.AdminToken,
		Users:      users,
		JWTSecret:  []byte(cfg.SessionSecret),
	}
}

// WithCORS is a middleware that adds CORS headers to the response.
func WithCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+userIDHeader+", "+userNameHeader)
		w.Header().Set("Access-Control-Allow-Methods", http.MethodGet+", "+http.MethodPost+", "+http.MethodOptions)

		// Fast-path the preflight
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// NewRouter returns a new router with every poll API route.
func (c *Controller) NewRouter() (*mux.Router, error) {
	r := mux.NewRouter()

	r.HandleFunc("/health", c.HandleHealth).Methods(http.MethodGet)

	r.HandleFunc("/api/auth/login", c.HandleAdminLogin).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/logout", c.HandleAdminLogout).Methods(http.MethodPost)

	r.Handle("/polls", c.RequireAdmin(http.HandlerFunc(c.HandleCreatePoll))).Methods(http.MethodPost)
	r.HandleFunc("/polls/{id}", c.HandleGetPoll).Methods(http.MethodGet)
	r.HandleFunc("/polls/{id}/votes", c.HandleCastVotes).Methods(http.MethodPost)
	r.HandleFunc("/polls/{id}/stream", c.HandleStream).Methods(http.MethodGet)
	r.Handle("/polls/{id}/deadline", c.RequireAdmin(http.HandlerFunc(c.HandleSetDeadline))).Methods(http.MethodPost)

	// lifecycle actions posted back by the messaging platform
	r.HandleFunc("/callback", c.HandleCallback).Methods(http.MethodPost)

	return r, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case db.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, poll.ErrPollNotOpen), errors.Is(err, poll.ErrDeadlinePassed):
		return http.StatusForbidden
	case errors.Is(err, poll.ErrAlreadyFinalized), errors.Is(err, poll.ErrNotClosing):
		return http.StatusConflict
	case errors.Is(err, poll.ErrInvalidVote), errors.Is(err, poll.ErrInvalidPoll), errors.Is(err, db.ErrNoOptions):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// writeError responds with the status for err. Persistence failures are logged and their
// detail is not exposed.
func (c *Controller) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		c.App.Logger.Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeErrorMessage(w, status, "internal error")
		return
	}
	writeErrorMessage(w, status, errorMessage(err))
}

func errorMessage(err error) string {
	for _, known := range []error{
		db.ErrPollNotFound, db.ErrOptionNotFound, db.ErrNoOptions,
		poll.ErrPollNotOpen, poll.ErrDeadlinePassed, poll.ErrNotClosing, poll.ErrAlreadyFinalized,
		poll.ErrInvalidVote, poll.ErrInvalidPoll,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return err.Error()
}
