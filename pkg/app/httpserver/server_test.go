package httpserver

import (
	"context"
	"net/http"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestServeAndWait_NilServer(t *testing.T) {
	if err := ServeAndWait(context.Background(), zap.NewNop(), nil, time.Second); err == nil {
		t.Fatal("expected error for nil server")
	}
}

func TestServeAndWait_ShutsDownOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	srv := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()}

	done := make(chan error, 1)
	go func() { done <- ServeAndWait(ctx, nil, srv, time.Second) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("ServeAndWait did not return after cancel")
	}
}

func TestServeAndWait_ListenFailure(t *testing.T) {
	srv := &http.Server{Addr: "256.0.0.1:bad", Handler: http.NotFoundHandler()}

	if err := ServeAndWait(context.Background(), zap.NewNop(), srv, time.Second); err == nil {
		t.Fatal("expected listen failure to be returned")
	}
}
