package testutil

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/nexus-im/courier/internal/auth"
	"github.com/nexus-im/courier/internal/logger"
	"github.com/nexus-im/courier/internal/server"
	"github.com/nexus-im/courier/store/channel"
	"github.com/nexus-im/courier/store/message"
	"github.com/nexus-im/courier/store/user"
)

const (
	healthEndpoint = "/health"
	healthTimeout  = 30 * time.Second
	healthInterval = 100 * time.Millisecond
)

// Users are the accounts every test server knows about. An external server
// pointed to by TEST_SERVER_ADDR must have them provisioned.
var Users = []string{"alice", "bob", "carol", "dave", "erin"}

// Addr returns the base URL of the server under test.
func Addr() string {
	if v := os.Getenv("TEST_SERVER_ADDR"); v != "" {
		return v
	}
	return "http://localhost:8081"
}

// Run starts an in-process server backed by memory stores unless
// TEST_SERVER_ADDR already names one, runs the tests and shuts it down.
func Run(m interface{ Run() int }) int {
	if os.Getenv("TEST_SERVER_ADDR") != "" {
		if err := waitForHealth(Addr()); err != nil {
			fmt.Fprintf(os.Stderr, "server health check failed: %v\n", err)
			return 1
		}
		return m.Run()
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to pick port: %v\n", err)
		return 1
	}
	addr := "http://" + ln.Addr().String()
	_ = os.Setenv("TEST_SERVER_ADDR", addr)

	base, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv, err := newServer(base)
	if err != nil {
		fmt.Fprintf(os.Stderr, "start server failed: %v\n", err)
		return 1
	}
	httpServer := &http.Server{Handler: srv, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "serve: %v\n", err)
		}
	}()

	fmt.Println("server Start...", addr)

	code := 1
	if err := waitForHealth(addr); err != nil {
		fmt.Fprintf(os.Stderr, "server health check failed: %v\n", err)
	} else {
		code = m.Run()
	}

	srv.Close()
	ctx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	_ = httpServer.Shutdown(ctx)
	return code
}

func newServer(base context.Context) (*server.Server, error) {
	users := user.NewMemoryStore()
	for _, id := range Users {
		u := &user.User{ID: id, Email: id + "@example.com", FirstName: id}
		if err := users.Create(base, u); err != nil {
			return nil, err
		}
	}

	log := zerolog.Nop()
	if os.Getenv("TEST_LOG") != "" {
		log = logger.New(os.Stderr, "development")
	}

	return server.New(base, server.Deps{
		Messages: message.NewMemoryStore(),
		Channels: channel.NewMemoryStore(),
		Users:    users,
		Identity: auth.QueryResolver{},
		Log:      log,
	}, server.Options{SendRate: 50, SendBurst: 100}), nil
}

func waitForHealth(addr string) error {
	deadline := time.Now().Add(healthTimeout)
	url := addr + healthEndpoint
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(healthInterval)
	}
	return fmt.Errorf("health endpoint not ready at %s", url)
}
