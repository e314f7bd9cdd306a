package wsgateway

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mohamedkhairy/swing-detector/internal/models"
	"github.com/mohamedkhairy/swing-detector/pkg/logger"
)

// MessageType is the type of a WebSocket message
type MessageType string

const (
	MessageTypeSubscribe   MessageType = "subscribe"
	MessageTypeUnsubscribe MessageType = "unsubscribe"
	MessageTypePing        MessageType = "ping"
	MessageTypePong        MessageType = "pong"
	MessageTypeSwing       MessageType = "swing"
	MessageTypeSuccess     MessageType = "success"
	MessageTypeError       MessageType = "error"
)

// ClientMessage is a message from a subscriber. Topics are either a series
// ("EURUSD:H1") or a whole instrument ("EURUSD").
type ClientMessage struct {
	Type   MessageType `json:"type"`
	Topic  string      `json:"topic,omitempty"`
	Topics []string    `json:"topics,omitempty"`
}

// ServerMessage is a message to a subscriber
type ServerMessage struct {
	Type    MessageType `json:"type"`
	Data    interface{} `json:"data,omitempty"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message,omitempty"`
}

// ParseTopic normalizes a subscription topic. Instruments are upper-cased
// and series keys are validated.
func ParseTopic(raw string) (string, error) {
	topic := strings.ToUpper(strings.TrimSpace(raw))
	if topic == "" {
		return "", fmt.Errorf("empty topic")
	}
	if strings.Contains(topic, ":") {
		key, err := models.ParseSeriesKey(topic)
		if err != nil {
			return "", err
		}
		return key.String(), nil
	}
	return topic, nil
}

// HandleClientMessage parses and applies one raw client message. Replies are
// queued on the connection.
func (c *Connection) HandleClientMessage(raw []byte) error {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.SendError("invalid_message", "failed to parse message")
		return err
	}

	switch msg.Type {
	case MessageTypeSubscribe, MessageTypeUnsubscribe:
		requested := msg.Topics
		if msg.Topic != "" {
			requested = append([]string{msg.Topic}, requested...)
		}
		if len(requested) == 0 {
			c.SendError("invalid_request", "topic or topics field required")
			return fmt.Errorf("%s without topics", msg.Type)
		}

		topics := make([]string, 0, len(requested))
		for _, r := range requested {
			topic, err := ParseTopic(r)
			if err != nil {
				c.SendError("invalid_topic", fmt.Sprintf("%q: %v", r, err))
				return err
			}
			topics = append(topics, topic)
		}

		action := "subscribed"
		if msg.Type == MessageTypeSubscribe {
			c.Subscribe(topics...)
		} else {
			c.Unsubscribe(topics...)
			action = "unsubscribed"
		}
		logger.Debug("Client subscriptions changed",
			logger.String("connection_id", c.ID),
			logger.String("action", action),
			logger.Any("topics", topics),
		)
		c.SendSuccess(action, map[string]interface{}{"topics": topics})
		return nil

	case MessageTypePing:
		c.send(ServerMessage{Type: MessageTypePong})
		return nil

	default:
		c.SendError("unknown_message_type", fmt.Sprintf("unknown message type: %s", msg.Type))
		return fmt.Errorf("unknown message type %q", msg.Type)
	}
}

// SendSuccess queues an acknowledgement of action
func (c *Connection) SendSuccess(action string, data interface{}) bool {
	return c.send(ServerMessage{
		Type: MessageTypeSuccess,
		Data: map[string]interface{}{"action": action, "data": data},
	})
}

// SendError queues an error message
func (c *Connection) SendError(code, message string) bool {
	return c.send(ServerMessage{Type: MessageTypeError, Code: code, Message: message})
}

func (c *Connection) send(msg ServerMessage) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		logger.Error("Failed to marshal server message", logger.ErrorField(err))
		return false
	}
	return c.Enqueue(data)
}
