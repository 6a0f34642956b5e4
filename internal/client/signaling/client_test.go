package signaling

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// echoServer upgrades, records the auth header, and echoes frames back.
func echoServer(t *testing.T, gotAuth *string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*gotAuth = r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestConnectSendsBearerAndRoundTrips(t *testing.T) {
	var auth string
	srv := echoServer(t, &auth)
	defer srv.Close()

	c := NewClient(wsURL(srv), "tok")
	if err := c.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()

	if auth != "Bearer tok" {
		t.Fatalf("auth header = %q", auth)
	}

	if err := c.Send(map[string]string{"type": "ping"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case data := <-c.Incoming():
		var m map[string]string
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("unmarshal echo: %v", err)
		}
		if m["type"] != "ping" {
			t.Fatalf("echo = %v", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no echo received")
	}
}

func TestIncomingClosesWhenServerDies(t *testing.T) {
	var auth string
	srv := echoServer(t, &auth)

	c := NewClient(wsURL(srv), "tok")
	if err := c.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()

	srv.CloseClientConnections()
	srv.Close()

	select {
	case _, ok := <-c.Incoming():
		if ok {
			// Drain any frame that raced the shutdown.
			if _, ok := <-c.Incoming(); ok {
				t.Fatal("incoming still open after server shutdown")
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("incoming not closed after server shutdown")
	}
}

func TestSendAfterCloseFails(t *testing.T) {
	var auth string
	srv := echoServer(t, &auth)
	defer srv.Close()

	c := NewClient(wsURL(srv), "tok")
	if err := c.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	c.Close()
	c.Close()

	if err := c.Send(map[string]string{"type": "ping"}); err == nil {
		t.Fatal("send after close must fail")
	}
}
