// Package notify broadcasts job pool events over a ZeroMQ PUB socket so
// connected miners learn about fresh jobs without polling the listing
// endpoint.
package notify

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	zmq "github.com/pebbe/zmq4"

	"github.com/jefeCoincmd/jefe-coin/internal/store"
)

// Broadcast topics. Subscribers filter on these prefixes.
const (
	TopicJobCreated = "job_created"
	TopicJobRetired = "job_retired"
	TopicClaim      = "claim"
	TopicBonus      = "bonus"
)

// Broadcaster publishes pool events on a ZMQ PUB socket.
type Broadcaster struct {
	socket   *zmq.Socket
	endpoint string
	logger   *slog.Logger
	mu       sync.Mutex
}

// NewBroadcaster creates a broadcaster bound to the given endpoint.
func NewBroadcaster(endpoint string, logger *slog.Logger) (*Broadcaster, error) {
	socket, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return nil, fmt.Errorf("failed to create ZMQ socket: %w", err)
	}
	if err := socket.Bind(endpoint); err != nil {
		_ = socket.Close()
		return nil, fmt.Errorf("failed to bind ZMQ endpoint %s: %w", endpoint, err)
	}

	logger.Info("ZMQ broadcaster bound", "endpoint", endpoint)
	return &Broadcaster{
		socket:   socket,
		endpoint: endpoint,
		logger:   logger,
	}, nil
}

// publish sends [topic, json] as a multipart message. PUB sends never block;
// slow subscribers drop messages.
func (b *Broadcaster) publish(topic string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Error("failed to marshal broadcast payload", "topic", topic, "error", err)
		return
	}

	// zmq sockets are not safe for concurrent use
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.socket.SendMessage(topic, data); err != nil {
		b.logger.Warn("failed to broadcast message", "topic", topic, "error", err)
		return
	}
	b.logger.Debug("broadcast message", "topic", topic, "size", len(data))
}

// JobCreated broadcasts a freshly synthesized job.
func (b *Broadcaster) JobCreated(job *store.Job) {
	b.publish(TopicJobCreated, job)
}

// JobRetired broadcasts a job leaving the active pool.
func (b *Broadcaster) JobRetired(job *store.Job, contributors int) {
	b.publish(TopicJobRetired, map[string]interface{}{
		"job_id":       job.ID,
		"status":       job.Status,
		"contributors": contributors,
	})
}

// ClaimRecorded broadcasts an accepted claim.
func (b *Broadcaster) ClaimRecorded(account string, job *store.Job, remaining int, reward float64) {
	b.publish(TopicClaim, map[string]interface{}{
		"job_id":    job.ID,
		"account":   account,
		"remaining": remaining,
		"reward":    reward,
	})
}

// BonusPaid broadcasts one contributor's completion-bonus share.
func (b *Broadcaster) BonusPaid(jobID, account string, units int, share float64) {
	b.publish(TopicBonus, map[string]interface{}{
		"job_id":  jobID,
		"account": account,
		"units":   units,
		"share":   share,
	})
}

// Close closes the PUB socket.
func (b *Broadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.socket != nil {
		return b.socket.Close()
	}
	return nil
}

// Listener subscribes to a broadcaster's endpoint, for miner clients.
type Listener struct {
	socket   *zmq.Socket
	endpoint string
	logger   *slog.Logger
}

// NewListener creates a subscriber connected to the given endpoint.
func NewListener(endpoint string, logger *slog.Logger, topics ...string) (*Listener, error) {
	socket, err := zmq.NewSocket(zmq.SUB)
	if err != nil {
		return nil, fmt.Errorf("failed to create ZMQ socket: %w", err)
	}
	if err := socket.Connect(endpoint); err != nil {
		_ = socket.Close()
		return nil, fmt.Errorf("failed to connect to ZMQ endpoint %s: %w", endpoint, err)
	}
	for _, topic := range topics {
		if err := socket.SetSubscribe(topic); err != nil {
			_ = socket.Close()
			return nil, fmt.Errorf("failed to subscribe to topic %s: %w", topic, err)
		}
	}

	logger.Info("ZMQ listener connected", "endpoint", endpoint, "topics", topics)
	return &Listener{
		socket:   socket,
		endpoint: endpoint,
		logger:   logger,
	}, nil
}

// Recv blocks until the next message and returns its topic and payload.
func (l *Listener) Recv() (string, []byte, error) {
	msg, err := l.socket.RecvMessageBytes(0)
	if err != nil {
		return "", nil, fmt.Errorf("failed to receive ZMQ message: %w", err)
	}
	if len(msg) < 2 {
		return "", nil, fmt.Errorf("malformed ZMQ message with %d parts", len(msg))
	}
	return string(msg[0]), msg[1], nil
}

// Close closes the SUB socket.
func (l *Listener) Close() error {
	if l.socket != nil {
		return l.socket.Close()
	}
	return nil
}
