// Package notify publishes release status changes for downstream consumers.
package notify

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"anchorebridge/types"

	"github.com/segmentio/kafka-go"
)

const (
	DriverKafka = "kafka"
	DriverStdio = "stdio"
)

type Config struct {
	Driver       string
	Brokers      []string
	Topic        string
	TLS          bool
	BatchTimeout time.Duration
	Writer       io.Writer // stdio driver, stdout when nil
}

// ReleaseMessage is the published form of a release record
type ReleaseMessage struct {
	Nonce           string `json:"nonce"`
	Status          string `json:"status"`
	DestinationTxID string `json:"destination_tx_id,omitempty"`
	AttemptCount    int    `json:"attempt_count"`
	Reason          string `json:"reason,omitempty"`
	SourceChainID   uint64 `json:"source_chain_id"`
	SourceTxHash    string `json:"source_tx_hash"`
	Recipient       string `json:"recipient"`
	Amount          string `json:"amount"`
	TokenRef        string `json:"token_ref,omitempty"`
	UpdatedAt       int64  `json:"updated_at"`
}

func releaseMessage(rec types.ReleaseRecord) ReleaseMessage {
	return ReleaseMessage{
		Nonce:           rec.Nonce,
		Status:          string(rec.Status),
		DestinationTxID: rec.DestinationTxID,
		AttemptCount:    rec.AttemptCount,
		Reason:          rec.Reason,
		SourceChainID:   rec.SourceChainID,
		SourceTxHash:    rec.SourceTxHash,
		Recipient:       rec.Recipient,
		Amount:          rec.Amount,
		TokenRef:        rec.TokenRef,
		UpdatedAt:       rec.TsUpdated,
	}
}

type Notifier interface {
	Notify(ctx context.Context, rec types.ReleaseRecord) error
	Close() error
}

func New(cfg Config) (Notifier, error) {
	switch strings.TrimSpace(strings.ToLower(cfg.Driver)) {
	case "", DriverKafka:
		return newKafkaNotifier(cfg)
	case DriverStdio:
		w := cfg.Writer
		if w == nil {
			w = os.Stdout
		}
		return &StdioNotifier{w: w}, nil
	default:
		return nil, fmt.Errorf("unsupported notify driver %q", cfg.Driver)
	}
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier keys messages by nonce, so all updates of one release land
// on one partition in order
type KafkaNotifier struct {
	writer messageWriter
	topic  string
}

func newKafkaNotifier(cfg Config) (*KafkaNotifier, error) {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, b := range cfg.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 {
		return nil, errors.New("kafka notifier requires at least one broker")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("kafka notifier requires a topic")
	}

	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 10 * time.Millisecond
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: batchTimeout,
		RequiredAcks: kafka.RequireAll,
	}
	if cfg.TLS {
		writer.Transport = &kafka.Transport{
			TLS: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		}
	}
	return &KafkaNotifier{writer: writer, topic: cfg.Topic}, nil
}

func (n *KafkaNotifier) Notify(ctx context.Context, rec types.ReleaseRecord) error {
	payload, err := json.Marshal(releaseMessage(rec))
	if err != nil {
		return err
	}
	return n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(rec.Nonce),
		Value: payload,
		Time:  time.Unix(rec.TsUpdated, 0),
	})
}

func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

// StdioNotifier writes one JSON line per update
type StdioNotifier struct {
	mu sync.Mutex
	w  io.Writer
}

func (n *StdioNotifier) Notify(_ context.Context, rec types.ReleaseRecord) error {
	payload, err := json.Marshal(releaseMessage(rec))
	if err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, err := n.w.Write(append(payload, '\n')); err != nil {
		return err
	}
	return nil
}

func (n *StdioNotifier) Close() error {
	return nil
}
