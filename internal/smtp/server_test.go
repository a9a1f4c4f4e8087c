package smtp

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"
)

func startServer(t *testing.T, cfg ServerConfig) (*Server, context.CancelFunc, <-chan error) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	if cfg.Provider == nil {
		cfg.Provider = &mockProvider{}
	}
	srv := New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ctx, ln) }()
	t.Cleanup(cancel)

	return srv, cancel, errc
}

func dial(t *testing.T, addr string) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := conn.SetDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatalf("failed to set deadline: %v", err)
	}
	return conn, bufio.NewReader(conn)
}

func waitForAddr(t *testing.T, srv *Server) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if addr := srv.Addr(); addr != "" {
			return addr
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("server did not start listening")
	return ""
}

func TestServer_DeliversAndShutsDown(t *testing.T) {
	t.Parallel()

	prov := &mockProvider{}
	srv, cancel, errc := startServer(t, ServerConfig{Hostname: "mx.test", Provider: prov})
	addr := waitForAddr(t, srv)

	conn, reader := dial(t, addr)
	c := &testClient{t: t, conn: conn, reader: reader}
	c.greeting = c.readLine()
	if !strings.Contains(c.greeting, "mx.test") {
		t.Errorf("greeting: got %q, want hostname", c.greeting)
	}

	c.ehlo()
	resp := c.send("sender@example.com", []string{"recipient@example.com"},
		testMessage("To: recipient@example.com", "Subject: Through server"))
	if !strings.HasPrefix(resp, "250 ") {
		t.Fatalf("DATA completion response: got %q", resp)
	}
	c.cmd("QUIT")

	if msg := prov.last(); msg == nil || msg.Subject != "Through server" {
		t.Errorf("provider message: got %+v", msg)
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Serve() error = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not return after cancellation")
	}
}

func TestServer_MaxConnections(t *testing.T) {
	t.Parallel()

	srv, _, _ := startServer(t, ServerConfig{MaxConnections: 1})
	addr := waitForAddr(t, srv)

	_, first := dial(t, addr)
	if line, err := first.ReadString('\n'); err != nil || !strings.HasPrefix(line, "220 ") {
		t.Fatalf("first greeting: got %q, err %v", line, err)
	}

	_, second := dial(t, addr)
	line, err := second.ReadString('\n')
	if err != nil {
		t.Fatalf("second read: %v", err)
	}
	if !strings.HasPrefix(line, "421 ") {
		t.Errorf("second connection: got %q, want prefix '421 '", line)
	}
}

func TestServer_ConnectionRate(t *testing.T) {
	t.Parallel()

	srv, _, _ := startServer(t, ServerConfig{ConnectionRate: 0.001, ConnectionBurst: 1})
	addr := waitForAddr(t, srv)

	_, first := dial(t, addr)
	if line, err := first.ReadString('\n'); err != nil || !strings.HasPrefix(line, "220 ") {
		t.Fatalf("first greeting: got %q, err %v", line, err)
	}

	_, second := dial(t, addr)
	line, err := second.ReadString('\n')
	if err != nil {
		t.Fatalf("second read: %v", err)
	}
	if !strings.HasPrefix(line, "421 ") {
		t.Errorf("second connection: got %q, want prefix '421 '", line)
	}
}

func TestServer_DefaultHostname(t *testing.T) {
	t.Parallel()

	srv := New(ServerConfig{Provider: &mockProvider{}})
	if srv.config.Hostname != "localhost" {
		t.Errorf("Hostname: got %q, want %q", srv.config.Hostname, "localhost")
	}
	if srv.Addr() != "" {
		t.Errorf("Addr() before Serve: got %q, want empty", srv.Addr())
	}
}
