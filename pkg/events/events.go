package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"storyhub/pkg/logger"

	"github.com/nats-io/nats.go"
)

// 事件类型，同时作为 NATS 主题后缀
const (
	FriendRequested = "friend.requested"
	FriendAccepted  = "friend.accepted"
	FriendDeclined  = "friend.declined"
	FriendCancelled = "friend.cancelled"
	FriendRemoved   = "friend.removed"
	ReactionToggled = "reaction.toggled"
)

// Event 事务提交后发布的领域事件
type Event struct {
	Type       string      `json:"type"`
	ActorID    uint        `json:"actor_id"`
	Recipients []uint      `json:"recipients,omitempty"` // 需要实时通知的用户
	Data       interface{} `json:"data,omitempty"`
	At         time.Time   `json:"at"`
}

// Sink 事件接收方
type Sink interface {
	Publish(ctx context.Context, e Event) error
}

// Nop 丢弃所有事件
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Fanout 依次投递给多个接收方，单个失败不影响其它
type Fanout []Sink

func (f Fanout) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range f {
		if err := s.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NatsSink 发布到 NATS，主题为 <prefix>.<type>
type NatsSink struct {
	nc     *nats.Conn
	prefix string
}

func NewNatsSink(nc *nats.Conn, prefix string) *NatsSink {
	return &NatsSink{nc: nc, prefix: prefix}
}

// Connect 连接 NATS
func Connect(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("storyhub"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("连接NATS失败: %w", err)
	}
	return nc, nil
}

func (s *NatsSink) Subject(eventType string) string {
	if s.prefix == "" {
		return eventType
	}
	return s.prefix + "." + eventType
}

func (s *NatsSink) Publish(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := &nats.Msg{
		Subject: s.Subject(e.Type),
		Data:    data,
		Header:  nats.Header{},
	}
	if id := logger.RequestIDFrom(ctx); id != "" {
		msg.Header.Set(logger.RequestIDHeader, id)
	}
	return s.nc.PublishMsg(msg)
}
