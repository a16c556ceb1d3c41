package event

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"paygate/internal/domain/event"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKafkaPublisher_Publish(t *testing.T) {
	producer := mocks.NewSyncProducer(t, NewKafkaProducerConfig("test"))
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var got event.Event
		if err := json.Unmarshal(val, &got); err != nil {
			return err
		}
		if got.Type != event.TypeRefundSucceeded || got.RefundID != "241018_2553_1" {
			return errors.New("unexpected payload")
		}
		return nil
	})

	pub := NewKafkaPublisherFromProducer(producer, "paygate.events")
	evt := event.New(event.TypeRefundSucceeded, 42, time.Now())
	evt.RefundID = "241018_2553_1"
	evt.Amount = "60000"
	evt.Status = "SUCCESS"

	require.NoError(t, pub.Publish(context.Background(), evt))
	require.NoError(t, pub.Close())
}

func TestKafkaPublisher_SendFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, NewKafkaProducerConfig("test"))
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	pub := NewKafkaPublisherFromProducer(producer, "paygate.events")
	err := pub.Publish(context.Background(), event.New(event.TypePaymentBound, 7, time.Now()))
	require.Error(t, err)
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, pub.Close())
}

func TestKafkaPublisher_CancelledContext(t *testing.T) {
	producer := mocks.NewSyncProducer(t, NewKafkaProducerConfig("test"))
	pub := NewKafkaPublisherFromProducer(producer, "paygate.events")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, pub.Publish(ctx, event.New(event.TypeRefundFailed, 1, time.Now())), context.Canceled)
	require.NoError(t, pub.Close())
}

func TestNewKafkaPublisher_NoBrokers(t *testing.T) {
	_, err := NewKafkaPublisher(KafkaConfig{Topic: "x"})
	assert.Error(t, err)
}

func TestPublishQuietly_NilPublisher(t *testing.T) {
	assert.NotPanics(t, func() {
		PublishQuietly(context.Background(), nil, event.New(event.TypePaymentBound, 1, time.Now()))
		PublishQuietly(context.Background(), NopPublisher{}, event.New(event.TypePaymentBound, 1, time.Now()))
	})
}
