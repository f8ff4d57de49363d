package service

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// EmbeddedServer is an in-process NATS server for single-host deployments.
type EmbeddedServer struct {
	ns     *server.Server
	logger *slog.Logger
}

// StartEmbedded starts a NATS server on host:port. Port -1 picks a random
// free port.
func StartEmbedded(host string, port int, logger *slog.Logger) (*EmbeddedServer, error) {
	ns, err := server.NewServer(&server.Options{
		Host:   host,
		Port:   port,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		return nil, fmt.Errorf("service: create embedded NATS server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("service: embedded NATS server failed to start within 5 seconds")
	}

	logger.Info("embedded NATS server started", "url", ns.ClientURL())
	return &EmbeddedServer{ns: ns, logger: logger}, nil
}

// ClientURL returns the URL clients should dial.
func (e *EmbeddedServer) ClientURL() string {
	return e.ns.ClientURL()
}

// Shutdown stops the server and waits for it to exit.
func (e *EmbeddedServer) Shutdown() {
	if e == nil || e.ns == nil {
		return
	}
	e.logger.Info("shutting down embedded NATS server")
	e.ns.Shutdown()
	e.ns.WaitForShutdown()
}
