// Package events provides EventSink implementations for the engine's
// fire-and-forget notifications: NATS, ZeroMQ PUB, a structured-log sink,
// and a fanout combining them. Publish never fails the caller; transport
// errors are logged and dropped.
package events

import (
	"encoding/json"
	"sync"

	"github.com/luxfi/log"
	"github.com/nats-io/nats.go"
	zmq "github.com/pebbe/zmq4"
)

// Sink mirrors perp.EventSink so callers can compose sinks without
// importing the engine.
type Sink interface {
	Publish(topic string, payload any)
}

// NATS publishes events to a NATS subject named after the topic.
type NATS struct {
	nc     *nats.Conn
	logger log.Logger
}

// NewNATS wraps an established NATS connection.
func NewNATS(nc *nats.Conn, logger log.Logger) *NATS {
	return &NATS{nc: nc, logger: logger}
}

func (s *NATS) Publish(topic string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("Failed to marshal event", "topic", topic, "error", err)
		return
	}
	if err := s.nc.Publish(topic, data); err != nil {
		s.logger.Error("Failed to publish event", "topic", topic, "error", err)
	}
}

// ZMQ publishes events on a ZeroMQ PUB socket as a two-frame message:
// topic, then JSON payload.
type ZMQ struct {
	socket *zmq.Socket
	logger log.Logger
	mu     sync.Mutex
}

// NewZMQ binds a PUB socket on the given endpoint.
func NewZMQ(endpoint string, logger log.Logger) (*ZMQ, error) {
	socket, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return nil, err
	}
	if err := socket.Bind(endpoint); err != nil {
		socket.Close()
		return nil, err
	}
	return &ZMQ{socket: socket, logger: logger}, nil
}

func (s *ZMQ) Publish(topic string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("Failed to marshal event", "topic", topic, "error", err)
		return
	}

	// PUB sockets are not safe for concurrent sends.
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.socket.Send(topic, zmq.SNDMORE); err != nil {
		s.logger.Error("Failed to send event topic frame", "topic", topic, "error", err)
		return
	}
	if _, err := s.socket.SendBytes(data, 0); err != nil {
		s.logger.Error("Failed to send event payload", "topic", topic, "error", err)
	}
}

// Close releases the PUB socket.
func (s *ZMQ) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.socket.Close()
}

// Logged writes every event to the structured log, useful on its own in
// dev and as a tap inside a Fanout.
type Logged struct {
	logger log.Logger
}

func NewLogged(logger log.Logger) *Logged {
	return &Logged{logger: logger}
}

func (s *Logged) Publish(topic string, payload any) {
	s.logger.Info("Event", "topic", topic, "payload", payload)
}

// Fanout publishes every event to each member sink in order.
type Fanout []Sink

func (f Fanout) Publish(topic string, payload any) {
	for _, sink := range f {
		sink.Publish(topic, payload)
	}
}
