package controller

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ValidateToken checks if the Authorization header carries the admin token.
func (c *Controller) ValidateToken(r *http.Request) bool {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		token := strings.TrimPrefix(authHeader, "Bearer ")
		return c.AdminToken != "" && token == c.AdminToken
	}
	return false
}

// sessionClaims returns the claims of a valid session cookie.
func (c *Controller) sessionClaims(r *http.Request) (jwt.MapClaims, bool) {
	cookie, err := r.Cookie(sessionCookie)
	if err != nil {
		return nil, false
	}
	tok, err := jwt.Parse(cookie.Value, func(t *jwt.Token) (any, error) { return c.JWTSecret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !tok.Valid {
		return nil, false
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	return claims, ok
}

// RequireAdmin middleware
func (c *Controller) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c.ValidateToken(r) {
			next.ServeHTTP(w, r)
			return
		}
		claims, ok := c.sessionClaims(r)
		if !ok {
			writeErrorMessage(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if role, _ := claims["role"].(string); role != "admin" {
			writeErrorMessage(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// IssueSession issues a session cookie
func (c *Controller) IssueSession(w http.ResponseWriter, username, role string) error {
	ttl := 8 * time.Hour
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  username,
		"role": role,
		"exp":  time.Now().Add(ttl).Unix(),
		"iat":  time.Now().Unix(),
	})
	ss, err := token.SignedString(c.JWTSecret)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    ss,
		Path:     "/",
		HttpOnly: true,
		Secure:   os.Getenv("ENVIRONMENT") == "production",
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(ttl.Seconds()),
	})
	return nil
}

// caller returns the end user identified by the platform's gateway headers.
func caller(r *http.Request) (id, name string) {
	return strings.TrimSpace(r.Header.Get(userIDHeader)), strings.TrimSpace(r.Header.Get(userNameHeader))
}
