package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crypto-temple/internal/types"
)

func testNotification() types.Notification {
	return types.Notification{
		Kind:     types.NotificationVerification,
		Title:    VerificationTitle,
		Body:     VerificationBody("PEPE"),
		RecordID: "1717243200000",
		SentAt:   time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestMultiPublisher(t *testing.T) {
	ok1 := &recordingPublisher{}
	failing := &recordingPublisher{err: errors.New("broker down")}
	ok2 := &recordingPublisher{}

	m := NewMultiPublisher(ok1, nil, failing, ok2)
	assert.Equal(t, 3, m.Len())

	err := m.Publish(context.Background(), testNotification())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")

	assert.Len(t, ok1.Sent(), 1)
	assert.Len(t, ok2.Sent(), 1, "a failing publisher does not stop the rest")
}

func TestLogPublisher(t *testing.T) {
	assert.NoError(t, NewLogPublisher().Publish(context.Background(), testNotification()))
}

type fakeChannel struct {
	exchange string
	key      string
	msg      amqp.Publishing
	err      error
	closed   bool
}

func (c *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if c.err != nil {
		return c.err
	}
	c.exchange, c.key, c.msg = exchange, key, msg
	return nil
}

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

func TestAMQPPublisher_Publish(t *testing.T) {
	ch := &fakeChannel{}
	p := newAMQPPublisher(ch, DefaultExchange)

	n := testNotification()
	require.NoError(t, p.Publish(context.Background(), n))

	assert.Equal(t, "temple.notifications", ch.exchange)
	assert.Equal(t, types.NotificationVerification, ch.key)
	assert.Equal(t, "application/json", ch.msg.ContentType)
	assert.Equal(t, amqp.Persistent, ch.msg.DeliveryMode)

	var got types.Notification
	require.NoError(t, json.Unmarshal(ch.msg.Body, &got))
	assert.Equal(t, n.Body, got.Body)
	assert.Equal(t, n.RecordID, got.RecordID)

	require.NoError(t, p.Close())
	assert.True(t, ch.closed)
}

func TestAMQPPublisher_Error(t *testing.T) {
	p := newAMQPPublisher(&fakeChannel{err: amqp.ErrClosed}, DefaultExchange)

	err := p.Publish(context.Background(), testNotification())
	require.Error(t, err)
	assert.ErrorIs(t, err, amqp.ErrClosed)
}
