// Package bus runs an embedded NATS server as the in-process event
// spine between the protocol engine and the read-out surfaces. The
// server never listens on a network port; clients connect in-process.
package bus

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

// SubjectEvents carries every dashboard frame the engine publishes.
const SubjectEvents = "tracker.events"

// Bus wraps the embedded server and its in-process client connection.
type Bus struct {
	ns *server.Server
	nc *nats.Conn
}

// New starts the embedded server and connects an in-process client.
func New() (*Bus, error) {
	ns, err := server.NewServer(&server.Options{
		ServerName: "dxx-tracker",
		DontListen: true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating embedded nats server: %w", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded nats server not ready")
	}

	nc, err := nats.Connect("", nats.InProcessServer(ns))
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("connecting to embedded nats server: %w", err)
	}
	return &Bus{ns: ns, nc: nc}, nil
}

// Publish marshals v and publishes it on subject. Failures are logged
// and swallowed: the bus is a best-effort fan-out path.
func (b *Bus) Publish(subject string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("Bus: marshaling %s payload: %v", subject, err)
		return
	}
	if err := b.nc.Publish(subject, data); err != nil {
		log.Printf("Bus: publishing to %s: %v", subject, err)
	}
}

// Subscribe registers a handler for raw payloads on subject.
func (b *Bus) Subscribe(subject string, fn func(data []byte)) (*nats.Subscription, error) {
	sub, err := b.nc.Subscribe(subject, func(msg *nats.Msg) {
		fn(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", subject, err)
	}
	return sub, nil
}

// Close drains the client and shuts the embedded server down.
func (b *Bus) Close() {
	if b.nc != nil {
		b.nc.Close()
	}
	if b.ns != nil {
		b.ns.Shutdown()
		b.ns.WaitForShutdown()
	}
}
