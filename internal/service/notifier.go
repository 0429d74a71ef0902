package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// PageChangedEvent published after a page's answers reach the remote store
type PageChangedEvent struct {
	WriterID  string    `json:"writer_id"`
	Page      int       `json:"page"`
	FieldID   string    `json:"field_id,omitempty"` // empty for whole-page sync and clears
	Action    string    `json:"action"`             // "saved" | "synced" | "cleared"
	UpdatedAt time.Time `json:"updated_at"`
}

// ChangeNotifier fan-out of remote changes to other devices of the writer
type ChangeNotifier interface {
	NotifyPageChanged(ctx context.Context, event PageChangedEvent) error
}

// NopNotifier drops every event
type NopNotifier struct{}

func (NopNotifier) NotifyPageChanged(context.Context, PageChangedEvent) error { return nil }

// Publisher is satisfied by *mqtt.Client
type Publisher interface {
	Publish(topic string, retained bool, payload []byte, timeout time.Duration) error
}

// MQTTNotifier publishes events to <prefix>/<writer>/pages/<page>
type MQTTNotifier struct {
	publisher   Publisher
	topicPrefix string
	timeout     time.Duration
	logger      *zap.Logger
}

func NewMQTTNotifier(publisher Publisher, topicPrefix string, logger *zap.Logger) *MQTTNotifier {
	return &MQTTNotifier{
		publisher:   publisher,
		topicPrefix: topicPrefix,
		timeout:     2 * time.Second,
		logger:      logger,
	}
}

// Topic returns the topic an event for writerID and page is published to
func (n *MQTTNotifier) Topic(writerID string, page int) string {
	return fmt.Sprintf("%s/%s/pages/%d", n.topicPrefix, writerID, page)
}

func (n *MQTTNotifier) NotifyPageChanged(_ context.Context, event PageChangedEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode page event: %w", err)
	}
	topic := n.Topic(event.WriterID, event.Page)
	if err := n.publisher.Publish(topic, false, payload, n.timeout); err != nil {
		return err
	}
	n.logger.Debug("Published page event", zap.String("topic", topic), zap.String("action", event.Action))
	return nil
}
