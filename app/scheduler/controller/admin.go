package controller

import (
	"net/http"
	"time"

	"github.com/canopy-network/datepoll/pkg/utils"
	"github.com/go-jose/go-jose/v4/json"
	"go.uber.org/zap"
)

// HandleAdminLogin handles admin login
func (c *Controller) HandleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "bad json")
		return
	}
	u, ok := c.Users[in.Username]
	if !ok || !utils.PasswordMatches(u.Hash, in.Password) {
		writeErrorMessage(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err := c.IssueSession(w, u.Username, u.Role); err != nil {
		c.App.Logger.Error("Unable to sign session", zap.Error(err))
		writeErrorMessage(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "1"})
}

// HandleAdminLogout handles admin logout
func (c *Controller) HandleAdminLogout(w http.ResponseWriter, _ *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
	})
	w.WriteHeader(http.StatusNoContent)
}
