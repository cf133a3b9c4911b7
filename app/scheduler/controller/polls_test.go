package controller

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/canopy-network/datepoll/pkg/db/models/poll"
	"github.com/canopy-network/datepoll/pkg/lifecycle"
	"github.com/canopy-network/datepoll/pkg/messaging/messagingtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreatePollRequiresAdmin(t *testing.T) {
	env := setupTestController(t, &messagingtest.Recorder{})
	body := createPollRequest{GroupID: "g1", Title: "dinner", Options: []poll.NewOption{{Label: "Fri"}}}

	t.Run("no credentials", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/polls", body)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("wrong token", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/polls", body, func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer nope")
		})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("session without admin role", func(t *testing.T) {
		rec := httptest.NewRecorder()
		require.NoError(t, env.ctl.IssueSession(rec, "viewer", "viewer"))
		cookies := rec.Result().Cookies()
		require.Len(t, cookies, 1)

		w := env.do(t, http.MethodPost, "/polls", body, func(r *http.Request) { r.AddCookie(cookies[0]) })
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("bearer token", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/polls", body, asAdmin)
		assert.Equal(t, http.StatusCreated, w.Code)
	})
}

func TestLoginIssuesAdminSession(t *testing.T) {
	env := setupTestController(t, &messagingtest.Recorder{})

	w := env.do(t, http.MethodPost, "/api/auth/login", map[string]string{"username": "admin", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodPost, "/api/auth/login", map[string]string{"username": "admin", "password": "secret"})
	require.Equal(t, http.StatusOK, w.Code)
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, sessionCookie, cookies[0].Name)

	body := createPollRequest{GroupID: "g1", Title: "dinner", Options: []poll.NewOption{{Label: "Fri"}}}
	w = env.do(t, http.MethodPost, "/polls", body, func(r *http.Request) { r.AddCookie(cookies[0]) })
	assert.Equal(t, http.StatusCreated, w.Code)

	w = env.do(t, http.MethodPost, "/api/auth/logout", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	require.Len(t, w.Result().Cookies(), 1)
	assert.Equal(t, -1, w.Result().Cookies()[0].MaxAge)
}

func TestCreatePollValidation(t *testing.T) {
	env := setupTestController(t, &messagingtest.Recorder{})

	tests := []struct {
		name string
		body createPollRequest
		want int
	}{
		{"missing group", createPollRequest{Title: "dinner", Options: []poll.NewOption{{Label: "Fri"}}}, http.StatusBadRequest},
		{"missing title", createPollRequest{GroupID: "g1", Options: []poll.NewOption{{Label: "Fri"}}}, http.StatusBadRequest},
		{"no options", createPollRequest{GroupID: "g1", Title: "dinner"}, http.StatusBadRequest},
		{"only blank labels", createPollRequest{GroupID: "g1", Title: "dinner", Options: []poll.NewOption{{Label: "  "}}}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/polls", tt.body, asAdmin)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestGetPoll(t *testing.T) {
	env := setupTestController(t, &messagingtest.Recorder{})
	p := env.createPoll(t, "Fri", "Sat")

	assert.Equal(t, poll.StatusOpen, p.Poll.Status)
	require.Len(t, p.Options, 2)
	assert.Equal(t, "Fri", p.Options[0].Label)

	w := env.do(t, http.MethodPost, "/polls/"+p.Poll.ID+"/votes", votesFor(p, poll.ChoiceYes, poll.ChoiceNo), asUser("u1", "Ann"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	t.Run("caller choices", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/polls/"+p.Poll.ID, nil, asUser("u1", "Ann"))
		require.Equal(t, http.StatusOK, w.Code)
		view := decode[lifecycle.View](t, w)

		assert.Equal(t, p.Poll.ID, view.Poll.ID)
		require.Len(t, view.Tally, 2)
		assert.Equal(t, 1, view.Tally[0].Yes)
		assert.Equal(t, 1, view.Tally[1].No)
		assert.Equal(t, map[string]poll.Choice{
			p.Options[0].ID: poll.ChoiceYes,
			p.Options[1].ID: poll.ChoiceNo,
		}, view.CallerChoices)
	})

	t.Run("anonymous", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/polls/"+p.Poll.ID, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, decode[lifecycle.View](t, w).CallerChoices)
	})

	t.Run("unknown poll", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/polls/missing", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "poll not found", decode[map[string]string](t, w)["error"])
	})
}
