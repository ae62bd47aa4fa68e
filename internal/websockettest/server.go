// Package websockettest stands up in-process stream servers for tests.
package websockettest

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
)

// Handler consumes one upgraded stream connection.
type Handler func(conn *websocket.Conn, r *http.Request)

// NewServer starts a test server that upgrades every request and hands the
// socket to handler. The server is torn down with the test.
func NewServer(t *testing.T, handler Handler) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		handler(conn, r)
	}))
	t.Cleanup(server.Close)
	return server
}

// URL rewrites a test server URL into its websocket form.
func URL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}
