package rest_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cdcmanual/progresskit/pkg/identity/rest"
)

func TestGetAccount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/account", r.URL.Path)
		assert.Equal(t, "proj", r.Header.Get("X-Appwrite-Project"))
		_ = json.NewEncoder(w).Encode(map[string]any{"$id": "u1", "name": "Dana"})
	}))
	defer server.Close()

	user, err := rest.NewClient(server.URL, "proj").Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)
	assert.Equal(t, "Dana", user.Name)
}

func TestAnonymousSessionKeepsCookies(t *testing.T) {
	var sawCookie bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/account/sessions/anonymous":
			assert.Equal(t, http.MethodPost, r.Method)
			http.SetCookie(w, &http.Cookie{Name: "a_session", Value: "s3cret"})
			_ = json.NewEncoder(w).Encode(map[string]any{"$id": "s1", "userId": "anon-1", "provider": "anonymous"})
		case "/account":
			_, err := r.Cookie("a_session")
			sawCookie = err == nil
			_ = json.NewEncoder(w).Encode(map[string]any{"$id": "anon-1"})
		}
	}))
	defer server.Close()

	client := rest.NewClient(server.URL, "proj")
	session, err := client.CreateAnonymousSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "anon-1", session.UserID)
	assert.True(t, session.Anonymous())

	_, err = client.Get(context.Background())
	require.NoError(t, err)
	assert.True(t, sawCookie)
}

func TestOAuthAndDeletePaths(t *testing.T) {
	var gotPath, gotQuery string
	var gotMethod string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotQuery, gotMethod = r.URL.Path, r.URL.RawQuery, r.Method
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := rest.NewClient(server.URL, "proj")

	err := client.CreateOAuth2Session(context.Background(), "github",
		"https://site/ok?auth=success", "https://site/ok?auth=failed")
	require.NoError(t, err)
	assert.Equal(t, "/account/sessions/oauth2/github", gotPath)
	assert.Contains(t, gotQuery, "success=")
	assert.Contains(t, gotQuery, "failure=")

	require.NoError(t, client.DeleteSession(context.Background(), "current"))
	assert.Equal(t, "/account/sessions/current", gotPath)
	assert.Equal(t, http.MethodDelete, gotMethod)
}

func TestErrorStatusSurfaced(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no session", http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := rest.NewClient(server.URL, "proj").Get(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no session")
}
