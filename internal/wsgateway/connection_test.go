package wsgateway

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/mohamedkhairy/swing-detector/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	eurH1 = models.SeriesKey{Instrument: "EURUSD", Timeframe: models.TimeframeH1}
	eurD1 = models.SeriesKey{Instrument: "EURUSD", Timeframe: models.TimeframeD1}
	gbpH1 = models.SeriesKey{Instrument: "GBPUSD", Timeframe: models.TimeframeH1}
)

// next pops one queued frame as a ServerMessage.
func next(t *testing.T, c *Connection) ServerMessage {
	t.Helper()
	select {
	case data := <-c.out:
		var msg ServerMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	default:
		t.Fatal("no queued message")
		return ServerMessage{}
	}
}

func TestConnection_Wants(t *testing.T) {
	conn := NewConnection("conn-1", "user-1", nil, 4)

	assert.True(t, conn.Wants(gbpH1), "no subscriptions receives everything")

	conn.Subscribe("EURUSD:H1")
	assert.True(t, conn.Wants(eurH1))
	assert.False(t, conn.Wants(eurD1))
	assert.False(t, conn.Wants(gbpH1))

	conn.Subscribe("GBPUSD")
	assert.True(t, conn.Wants(gbpH1))
	assert.ElementsMatch(t, []string{"EURUSD:H1", "GBPUSD"}, conn.Subscriptions())

	conn.Unsubscribe("EURUSD:H1", "GBPUSD")
	assert.True(t, conn.Wants(eurD1))
}

func TestConnection_EnqueueDropsWhenFull(t *testing.T) {
	conn := NewConnection("conn-1", "user-1", nil, 2)

	assert.True(t, conn.Enqueue([]byte("a")))
	assert.True(t, conn.Enqueue([]byte("b")))
	assert.False(t, conn.Enqueue([]byte("c")))
	assert.Equal(t, int64(1), conn.Dropped())

	conn.Close()
	conn.Close()
	assert.False(t, conn.Enqueue([]byte("d")))
	select {
	case <-conn.Done():
	default:
		t.Fatal("done not closed")
	}
}

func TestConnection_UpdateLastPong(t *testing.T) {
	conn := NewConnection("conn-1", "user-1", nil, 1)
	conn.lastPong = time.Now().Add(-time.Hour)

	before := conn.GetLastPong()
	conn.UpdateLastPong()
	assert.True(t, conn.GetLastPong().After(before))
}

func TestConnection_HandleClientMessage(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantType MessageType
		wantCode string
		wantSubs []string
	}{
		{"subscribe series", `{"type":"subscribe","topic":"eurusd:h1"}`, MessageTypeSuccess, "", []string{"EURUSD:H1"}},
		{"subscribe many", `{"type":"subscribe","topics":["EURUSD","GBPUSD:D1"]}`, MessageTypeSuccess, "", []string{"EURUSD", "GBPUSD:D1"}},
		{"bad timeframe", `{"type":"subscribe","topic":"EURUSD:H2"}`, MessageTypeError, "invalid_topic", []string{}},
		{"no topics", `{"type":"subscribe"}`, MessageTypeError, "invalid_request", []string{}},
		{"ping", `{"type":"ping"}`, MessageTypePong, "", []string{}},
		{"unknown", `{"type":"dance"}`, MessageTypeError, "unknown_message_type", []string{}},
		{"not json", `{`, MessageTypeError, "invalid_message", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := NewConnection("conn-1", "user-1", nil, 4)
			err := conn.HandleClientMessage([]byte(tt.raw))
			if tt.wantType == MessageTypeError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}

			msg := next(t, conn)
			assert.Equal(t, tt.wantType, msg.Type)
			assert.Equal(t, tt.wantCode, msg.Code)
			assert.ElementsMatch(t, tt.wantSubs, conn.Subscriptions())
		})
	}
}

func TestConnection_Unsubscribe(t *testing.T) {
	conn := NewConnection("conn-1", "user-1", nil, 4)
	require.NoError(t, conn.HandleClientMessage([]byte(`{"type":"subscribe","topics":["EURUSD","GBPUSD"]}`)))
	require.NoError(t, conn.HandleClientMessage([]byte(`{"type":"unsubscribe","topic":"eurusd"}`)))

	next(t, conn)
	msg := next(t, conn)
	assert.Equal(t, "unsubscribed", msg.Data.(map[string]interface{})["action"])
	assert.Equal(t, []string{"GBPUSD"}, conn.Subscriptions())
}

func TestParseTopic(t *testing.T) {
	topic, err := ParseTopic(" eurusd ")
	require.NoError(t, err)
	assert.Equal(t, "EURUSD", topic)

	topic, err = ParseTopic("EURUSD:mn1")
	require.NoError(t, err)
	assert.Equal(t, "EURUSD:MN1", topic)

	for _, bad := range []string{"", ":H1", "EURUSD:"} {
		_, err := ParseTopic(bad)
		assert.Error(t, err, bad)
	}
}
