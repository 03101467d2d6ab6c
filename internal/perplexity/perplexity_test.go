package perplexity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer k1", r.Header.Get("Authorization"))
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, DefaultModel, req.Model)
		assert.Equal(t, 400, req.MaxTokens)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "list trees", req.Messages[1].Content)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"1. **Neem** (Azadirachta indica)"}}]}`))
	}))
	defer srv.Close()

	c := NewClient("k1", srv.Client())
	c.Endpoint = srv.URL
	got, err := c.Chat(context.Background(), "be brief", "list trees")
	require.NoError(t, err)
	assert.Equal(t, "1. **Neem** (Azadirachta indica)", got)
}

func TestChatErrors(t *testing.T) {
	_, err := NewClient("", nil).Chat(context.Background(), "s", "u")
	assert.ErrorIs(t, err, ErrMissingKey)

	c := fixedClient(t, http.StatusUnauthorized, `{"error":"bad key"}`)
	_, err = c.Chat(context.Background(), "s", "u")
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnauthorized, se.Code)

	c = fixedClient(t, http.StatusOK, `{"choices":[]}`)
	_, err = c.Chat(context.Background(), "s", "u")
	assert.EqualError(t, err, "perplexity: empty response")
}

func fixedClient(t *testing.T, status int, body string) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	c := NewClient("k1", srv.Client())
	c.Endpoint = srv.URL
	return c
}

func TestParseList(t *testing.T) {
	content := "Here you go:\n\n1. **Neem** (Azadirachta indica) - hardy\n2) **Peepal** (Ficus religiosa) - shade\n- **Amaltas** - colour\n• **Jamun** - fruit\n"
	assert.Equal(t, []string{
		"**Neem** (Azadirachta indica) - hardy",
		"**Peepal** (Ficus religiosa) - shade",
		"**Amaltas** - colour",
		"**Jamun** - fruit",
	}, ParseList(content))

	assert.Equal(t, []string{"Plant neem."}, ParseList("  Plant neem.  "))
	assert.Nil(t, ParseList("   "))
}

func TestStripCitations(t *testing.T) {
	assert.Equal(t, "**Neem** (Azadirachta indica) - drought hardy.", StripCitations("**Neem** (Azadirachta indica) - drought hardy [1][2]."))
	assert.Equal(t, "no markers", StripCitations("no  markers"))
}
