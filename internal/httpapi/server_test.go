package httpapi

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	logx "taskbot/pkg/logx"
)

func TestServerStartStop(t *testing.T) {
	t.Parallel()
	r := gin.New()
	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	s := NewServer(ServerConfig{Addr: "127.0.0.1:0"}, r, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	addr := s.Addr()
	if addr == "" {
		t.Fatal("no bound address")
	}

	var resp *http.Response
	var err error
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err = http.Get("http://" + addr + "/healthz")
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if string(body) != "ok" {
		t.Fatalf("body = %q", body)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	s.Stop(ctx)
	if s.Addr() != "" {
		t.Fatal("listener still held after Stop")
	}
	if _, err := http.Get("http://" + addr + "/healthz"); err == nil {
		t.Fatal("server still answering after Stop")
	}
}

func TestServerStartFailsOnBusyAddr(t *testing.T) {
	t.Parallel()
	a := NewServer(ServerConfig{Addr: "127.0.0.1:0"}, http.NotFoundHandler(), logx.Nop())
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { a.Stop(context.Background()) })

	b := NewServer(ServerConfig{Addr: a.Addr()}, http.NotFoundHandler(), logx.Nop())
	if err := b.Start(context.Background()); err == nil {
		b.Stop(context.Background())
		t.Fatal("expected bind error")
	}
}
