// Package notify implements fire-and-forget delivery of transactional email
// and mailing-list updates. Enqueueing is fast and never blocks the purchase
// path; delivery failures are logged and dropped, not retried.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"bindery/internal/util"
)

const (
	kindEmail     = "email"
	kindSubscribe = "subscribe"
)

// Message is a rendered transactional email.
type Message struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Subscription upserts one address onto a named mailing list.
type Subscription struct {
	Email    string            `json:"email"`
	List     string            `json:"list"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Sender delivers a single email.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// ListClient upserts a mailing-list subscription.
type ListClient interface {
	Upsert(ctx context.Context, sub Subscription) error
}

// Config configures the redis-stream backed dispatcher.
type Config struct {
	Addr     string
	Password string
	Stream   string
	Group    string
	Consumer string
	Block    time.Duration
	MaxLen   int64
}

// Dispatcher queues notifications on a redis stream and delivers them from a
// background consumer. Each entry is delivered at most once.
type Dispatcher struct {
	client       *redis.Client
	stream       string
	group        string
	consumerBase string
	block        time.Duration
	maxLen       int64
	sender       Sender
	lists        ListClient
	once         sync.Once
}

// New constructs the dispatcher. Sender and lists may be nil, in which case
// the corresponding deliveries are logged and skipped.
func New(cfg Config, sender Sender, lists ListClient) (*Dispatcher, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		stream = "bindery:notifications"
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "dispatch"
	}
	consumer := strings.TrimSpace(cfg.Consumer)
	if consumer == "" {
		consumer = util.NewID()
	}
	block := cfg.Block
	if block <= 0 {
		block = 5 * time.Second
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &Dispatcher{
		client:       redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password}),
		stream:       stream,
		group:        group,
		consumerBase: consumer,
		block:        block,
		maxLen:       maxLen,
		sender:       sender,
		lists:        lists,
	}, nil
}

// Email enqueues a transactional message for background delivery.
func (d *Dispatcher) Email(ctx context.Context, msg Message) error {
	if strings.TrimSpace(msg.To) == "" {
		return errors.New("recipient required")
	}
	return d.enqueue(ctx, kindEmail, msg)
}

// Subscribe enqueues a mailing-list upsert for background delivery.
func (d *Dispatcher) Subscribe(ctx context.Context, sub Subscription) error {
	if strings.TrimSpace(sub.Email) == "" {
		return errors.New("email required")
	}
	if strings.TrimSpace(sub.List) == "" {
		return errors.New("list required")
	}
	return d.enqueue(ctx, kindSubscribe, sub)
}

func (d *Dispatcher) enqueue(ctx context.Context, kind string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return d.client.XAdd(ctx, &redis.XAddArgs{
		Stream: d.stream,
		MaxLen: d.maxLen,
		Approx: true,
		Values: map[string]any{
			"kind":    kind,
			"payload": string(raw),
		},
	}).Err()
}

// Start launches background consumers that deliver queued notifications until
// ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context, concurrency int) {
	if concurrency <= 0 {
		concurrency = 1
	}
	d.ensureGroup(ctx)
	for i := 0; i < concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", d.consumerBase, i)
		go d.consumeLoop(ctx, consumer)
	}
}

func (d *Dispatcher) ensureGroup(ctx context.Context) {
	d.once.Do(func() {
		err := d.client.XGroupCreateMkStream(ctx, d.stream, d.group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			slog.Error("create notification group", "stream", d.stream, "err", err)
		}
	})
}

func (d *Dispatcher) consumeLoop(ctx context.Context, consumer string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		streams, err := d.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    d.group,
			Consumer: consumer,
			Streams:  []string{d.stream, ">"},
			Count:    10,
			Block:    d.block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
				continue
			}
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				d.deliver(ctx, msg)
				d.ackAndDel(ctx, msg.ID)
			}
		}
	}
}

// deliver hands the entry to its client. Failures are logged with enough
// context to diagnose and are never re-queued.
func (d *Dispatcher) deliver(ctx context.Context, entry redis.XMessage) {
	kind, _ := entry.Values["kind"].(string)
	payload, _ := entry.Values["payload"].(string)
	switch kind {
	case kindEmail:
		var msg Message
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			slog.Error("decode queued email", "entry", entry.ID, "err", err)
			return
		}
		if d.sender == nil {
			slog.Info("email sender not configured, dropping message", "to", msg.To, "subject", msg.Subject)
			return
		}
		if err := d.sender.Send(ctx, msg); err != nil {
			slog.Error("email delivery failed", "to", msg.To, "subject", msg.Subject, "err", err)
		}
	case kindSubscribe:
		var sub Subscription
		if err := json.Unmarshal([]byte(payload), &sub); err != nil {
			slog.Error("decode queued subscription", "entry", entry.ID, "err", err)
			return
		}
		if d.lists == nil {
			slog.Info("list client not configured, dropping subscription", "email", sub.Email, "list", sub.List)
			return
		}
		if err := d.lists.Upsert(ctx, sub); err != nil {
			slog.Error("list subscription failed", "email", sub.Email, "list", sub.List, "err", err)
		}
	default:
		slog.Error("unknown notification kind", "kind", kind, "entry", entry.ID)
	}
}

func (d *Dispatcher) ackAndDel(ctx context.Context, msgID string) {
	_, _ = d.client.XAck(ctx, d.stream, d.group, msgID).Result()
	_, _ = d.client.XDel(ctx, d.stream, msgID).Result()
}
