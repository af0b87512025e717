package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/lexgig/lexgig-backend/internal/feed"
	"github.com/lexgig/lexgig-backend/internal/ws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWSServer(t *testing.T, origins string, maxSockets int) (*httptest.Server, *ws.Hub) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	hub := ws.NewHub(nil, feed.NewMemory(), nil)
	go hub.Run()
	t.Cleanup(hub.Stop)

	r := gin.New()
	r.GET("/ws", func(c *gin.Context) {
		if user := c.Query("user"); user != "" {
			c.Set("userID", user)
		}
		c.Next()
	}, NewWSHandler(hub, origins, maxSockets).Connect)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, hub
}

func dialWS(srv *httptest.Server, user string, header http.Header) (*websocket.Conn, *http.Response, error) {
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?user=" + user
	return websocket.DefaultDialer.Dial(url, header)
}

func TestWSHandler_SocketCapPerMember(t *testing.T) {
	srv, hub := newWSServer(t, "", 1)

	conn, _, err := dialWS(srv, "buyer", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Connections("buyer") == 1 }, 2*time.Second, 10*time.Millisecond)

	_, resp, err := dialWS(srv, "buyer", nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	other, _, err := dialWS(srv, "seller", nil)
	require.NoError(t, err)
	other.Close()
}

func TestWSHandler_RequiresMemberAndOrigin(t *testing.T) {
	srv, _ := newWSServer(t, "https://app.lexgig.test", 0)

	_, resp, err := dialWS(srv, "", nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = dialWS(srv, "buyer", http.Header{"Origin": {"https://elsewhere.test"}})
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := dialWS(srv, "buyer", http.Header{"Origin": {"https://app.lexgig.test"}})
	require.NoError(t, err)
	conn.Close()
}
