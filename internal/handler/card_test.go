package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canvastodo/card-server-go/internal/auth"
	"github.com/canvastodo/card-server-go/internal/canvas"
	"github.com/canvastodo/card-server-go/internal/card"
	"github.com/canvastodo/card-server-go/internal/config"
	"github.com/canvastodo/card-server-go/internal/events"
	"github.com/canvastodo/card-server-go/internal/middleware"
	"github.com/canvastodo/card-server-go/internal/model"
	"github.com/canvastodo/card-server-go/internal/store"
	"github.com/canvastodo/card-server-go/internal/todo"
	"github.com/canvastodo/card-server-go/internal/util"
)

const (
	base           = "/v1/profiles/user-1"
	testSigningKey = "0123456789abcdef0123456789abcdef"
)

func profileToken(profileID string) string {
	return util.SignProfileToken(testSigningKey, profileID, time.Now().Add(time.Hour))
}

func newCanvasServer(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /login/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.PostForm.Get("code") != "abc" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tok1","refresh_token":"ref1","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("GET /api/v1/users/self/todo", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"context_name": "Biology", "assignment": {"id": 1, "name": "Lab"}}]`))
	})
	mux.HandleFunc("GET /api/v1/planner/items", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"plannable_id": 55, "plannable_type": "planner_note", "plannable": {"title": "Buy notebook"}}]`))
	})
	mux.HandleFunc("PUT /api/v1/planner_notes/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestRouter(t *testing.T) (http.Handler, *card.Host) {
	srv := newCanvasServer(t)
	cfg := &config.Config{
		PublicBaseURL:          "https://cards.example.edu",
		RefreshIntervalSeconds: 60,
		MaxTasks:               20,
	}
	host := card.NewHost(cfg, store.NewMemoryStore(), events.NewLocalBroker(),
		auth.NewOAuthClient(srv.URL, "10000000000001", nil, srv.Client()),
		canvas.NewClient(srv.URL, srv.Client()))
	t.Cleanup(host.Close)

	r := chi.NewRouter()
	r.Route("/v1/profiles/{profileID}", func(r chi.Router) {
		r.Mount("/", NewCardHandler(host, middleware.NewProfileAuthMiddleware(testSigningKey, false)).Routes())
	})
	return r, host
}

// do sends the request as the user-1 browser.
func do(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	return doWithToken(h, profileToken("user-1"), method, target, body)
}

func doWithToken(h http.Handler, token, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeSnapshot(t *testing.T, rec *httptest.ResponseRecorder) card.Snapshot {
	t.Helper()
	var snap card.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	return snap
}

func decodeTasks(t *testing.T, rec *httptest.ResponseRecorder) todo.Snapshot {
	t.Helper()
	var snap todo.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	return snap
}

// signIn drives /login and the Canvas redirect back.
func signIn(t *testing.T, h http.Handler) {
	t.Helper()
	rec := do(h, "GET", base+"/login", "")
	require.Equal(t, http.StatusFound, rec.Code)

	authURL, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	state := authURL.Query().Get("state")
	require.NotEmpty(t, state)

	rec = do(h, "GET", base+"/?code=abc&state="+url.QueryEscape(state), "")
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Equal(t, base+"/", rec.Header().Get("Location"))
}

func TestCardHandler_Show(t *testing.T) {
	t.Run("mounts the card and returns its snapshot", func(t *testing.T) {
		h, host := newTestRouter(t)

		rec := do(h, "GET", base+"/", "")
		require.Equal(t, http.StatusOK, rec.Code)
		snap := decodeSnapshot(t, rec)
		assert.Equal(t, "user-1", snap.ProfileID)
		assert.False(t, snap.Auth.LoggedIn)
		assert.Equal(t, 1, host.Count())
	})

	t.Run("rejects invalid profile ids", func(t *testing.T) {
		h, host := newTestRouter(t)

		rec := do(h, "GET", "/v1/profiles/bad%20id/", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "INVALID_INPUT")
		assert.Equal(t, 0, host.Count())
	})

	t.Run("callback signs in and clears the query", func(t *testing.T) {
		h, _ := newTestRouter(t)
		signIn(t, h)

		snap := decodeSnapshot(t, do(h, "GET", base+"/", ""))
		assert.True(t, snap.Auth.LoggedIn)
		assert.Equal(t, todo.PhaseLoaded, snap.Tasks.Phase)
		assert.Len(t, snap.Tasks.Tasks, 2)
	})

	t.Run("mismatched state still redirects but stays signed out", func(t *testing.T) {
		h, _ := newTestRouter(t)
		require.Equal(t, http.StatusFound, do(h, "GET", base+"/login", "").Code)

		rec := do(h, "GET", base+"/?code=abc&state=forged", "")
		assert.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, base+"/", rec.Header().Get("Location"))

		snap := decodeSnapshot(t, do(h, "GET", base+"/", ""))
		assert.False(t, snap.Auth.LoggedIn)
		assert.True(t, snap.Auth.Error)
	})

	t.Run("error callback redirects", func(t *testing.T) {
		h, _ := newTestRouter(t)

		rec := do(h, "GET", base+"/?error=access_denied&error_description=nope", "")
		assert.Equal(t, http.StatusSeeOther, rec.Code)

		snap := decodeSnapshot(t, do(h, "GET", base+"/", ""))
		assert.False(t, snap.Auth.LoggedIn)
		assert.True(t, snap.Auth.Error)
	})

	t.Run("error callback on a mounted card", func(t *testing.T) {
		h, _ := newTestRouter(t)
		require.Equal(t, http.StatusOK, do(h, "GET", base+"/", "").Code)

		rec := do(h, "GET", base+"/?error=access_denied", "")
		assert.Equal(t, http.StatusSeeOther, rec.Code)
		assert.True(t, decodeSnapshot(t, do(h, "GET", base+"/", "")).Auth.Error)
	})
}

func TestCardHandler_ProfileAuth(t *testing.T) {
	t.Run("requires a profile token", func(t *testing.T) {
		h, host := newTestRouter(t)

		rec := doWithToken(h, "", "GET", base+"/", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "UNAUTHORIZED")
		assert.Equal(t, 0, host.Count())
	})

	t.Run("another profile's token is forbidden", func(t *testing.T) {
		h, _ := newTestRouter(t)
		signIn(t, h)

		for _, target := range []string{base + "/tasks", base + "/login", base + "/?code=abc&state=x"} {
			rec := doWithToken(h, profileToken("user-2"), "GET", target, "")
			assert.Equal(t, http.StatusForbidden, rec.Code, target)
		}
		assert.Equal(t, http.StatusForbidden, doWithToken(h, profileToken("user-2"), "POST", base+"/logout", "").Code)
		assert.True(t, decodeSnapshot(t, do(h, "GET", base+"/", "")).Auth.LoggedIn)
	})

	t.Run("signed in card is not readable without a token", func(t *testing.T) {
		h, _ := newTestRouter(t)
		signIn(t, h)

		rec := doWithToken(h, "", "GET", base+"/tasks", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.NotContains(t, rec.Body.String(), "Lab")
	})

	t.Run("rejects tokens signed with another key", func(t *testing.T) {
		h, _ := newTestRouter(t)

		forged := util.SignProfileToken("not-the-signing-key", "user-1", time.Now().Add(time.Hour))
		assert.Equal(t, http.StatusUnauthorized, doWithToken(h, forged, "GET", base+"/", "").Code)

		expired := util.SignProfileToken(testSigningKey, "user-1", time.Now().Add(-time.Minute))
		assert.Equal(t, http.StatusUnauthorized, doWithToken(h, expired, "GET", base+"/", "").Code)
	})

	t.Run("query token is traded for a card cookie", func(t *testing.T) {
		h, _ := newTestRouter(t)

		rec := doWithToken(h, "", "GET", base+"/?token="+url.QueryEscape(profileToken("user-1")), "")
		require.Equal(t, http.StatusOK, rec.Code)

		var cookie *http.Cookie
		for _, c := range rec.Result().Cookies() {
			if c.Name == middleware.ProfileCookieName {
				cookie = c
			}
		}
		require.NotNil(t, cookie)
		assert.Equal(t, base+"/", cookie.Path)
		assert.True(t, cookie.HttpOnly)

		req := httptest.NewRequest("GET", base+"/tasks", nil)
		req.AddCookie(&http.Cookie{Name: cookie.Name, Value: cookie.Value})
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestCardHandler_Tasks(t *testing.T) {
	h, _ := newTestRouter(t)

	t.Run("requires sign in for refresh and toggle", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, do(h, "POST", base+"/tasks/refresh", "").Code)
		assert.Equal(t, http.StatusUnauthorized, do(h, "POST", base+"/tasks/planner-55/toggle", "").Code)
	})

	signIn(t, h)

	t.Run("lists tasks", func(t *testing.T) {
		rec := do(h, "GET", base+"/tasks", "")
		require.Equal(t, http.StatusOK, rec.Code)
		snap := decodeTasks(t, rec)
		require.Len(t, snap.Tasks, 2)
		assert.Equal(t, "todo-1", snap.Tasks[0].ID)
	})

	t.Run("refresh", func(t *testing.T) {
		rec := do(h, "POST", base+"/tasks/refresh", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.False(t, decodeTasks(t, rec).Error)
	})

	t.Run("toggles planner notes", func(t *testing.T) {
		rec := do(h, "POST", base+"/tasks/planner-55/toggle", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.NotContains(t, rec.Body.String(), "refused")
	})

	t.Run("assignments are left as they were", func(t *testing.T) {
		rec := do(h, "POST", base+"/tasks/todo-1/toggle", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var result todo.ToggleResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		assert.True(t, result.Refused)
		snap := result.Snapshot
		assert.False(t, snap.Error)
		require.Equal(t, "todo-1", snap.Tasks[0].ID)
		assert.Equal(t, model.TaskStatusNotStarted, snap.Tasks[0].Status)
	})

	t.Run("unknown and malformed task ids", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, do(h, "POST", base+"/tasks/planner-404/toggle", "").Code)
		assert.Equal(t, http.StatusBadRequest, do(h, "POST", base+"/tasks/course-1/toggle", "").Code)
	})
}

func TestCardHandler_Visibility(t *testing.T) {
	h, _ := newTestRouter(t)

	assert.Equal(t, http.StatusBadRequest, do(h, "PUT", base+"/visibility", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(h, "PUT", base+"/visibility", `{"visible":"no"}`).Code)

	rec := do(h, "PUT", base+"/visibility", `{"visible":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeTasks(t, rec).Visible)
}

func TestCardHandler_LogoutAndUnmount(t *testing.T) {
	h, host := newTestRouter(t)
	signIn(t, h)

	rec := do(h, "POST", base+"/logout", "")
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decodeSnapshot(t, rec)
	assert.False(t, snap.Auth.LoggedIn)
	assert.Empty(t, snap.Tasks.Tasks)

	assert.Equal(t, http.StatusNoContent, do(h, "DELETE", base+"/", "").Code)
	assert.Equal(t, 0, host.Count())
	assert.Equal(t, http.StatusNotFound, do(h, "DELETE", base+"/", "").Code)
}

func TestCardHandler_Events(t *testing.T) {
	h, _ := newTestRouter(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", srv.URL+base+"/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+profileToken("user-1"))
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: snapshot\n", line)

	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(line, "data: "))

	var snap card.Snapshot
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &snap))
	assert.Equal(t, "user-1", snap.ProfileID)
}

func TestSendEvent(t *testing.T) {
	rec := httptest.NewRecorder()

	err := sendEvent(rec, rec, "snapshot", map[string]any{"profileId": "user-1"})

	require.NoError(t, err)
	assert.Equal(t, "event: snapshot\ndata: {\"profileId\":\"user-1\"}\n\n", rec.Body.String())
}
