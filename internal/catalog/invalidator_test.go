package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	kafkaGo "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
)

type countingInvalidator struct {
	calls atomic.Int32
}

func (c *countingInvalidator) Invalidate(context.Context) error {
	c.calls.Add(1)
	return nil
}

func TestAffectsCatalog(t *testing.T) {
	assert.True(t, affectsCatalog("product.updated"))
	assert.True(t, affectsCatalog("price.deleted"))
	assert.True(t, affectsCatalog("category.created"))
	assert.False(t, affectsCatalog("order.created"))
	assert.False(t, affectsCatalog(""))
}

func setupKafka(t *testing.T) (string, func()) {
	ctx := context.Background()

	kafkaContainer, err := kafka.Run(ctx, "confluentinc/confluent-local:7.5.0")
	require.NoError(t, err)

	brokers, err := kafkaContainer.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers, "broker address should not be empty")

	cleanup := func() {
		if err := kafkaContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate kafka container: %v", err)
		}
	}

	return brokers[0], cleanup
}

func createTopic(t *testing.T, brokerAddr, topic string) {
	conn, err := kafkaGo.Dial("tcp", brokerAddr)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)

	controllerConn, err := kafkaGo.Dial("tcp", fmt.Sprintf("%s:%d", controller.Host, controller.Port))
	require.NoError(t, err)
	defer controllerConn.Close()

	err = controllerConn.CreateTopics(kafkaGo.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	})
	if err != nil {
		t.Logf("topic creation error (may already exist): %v", err)
	}
}

func TestInvalidator_Run(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broker, cleanupKafka := setupKafka(t)
	defer cleanupKafka()
	createTopic(t, broker, EventsTopic)

	target := &countingInvalidator{}
	inv := NewInvalidator(target, nil, broker)
	defer inv.Close()

	w := &kafkaGo.Writer{
		Addr:                   kafkaGo.TCP(broker),
		Topic:                  EventsTopic,
		Balancer:               &kafkaGo.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	ignored, err := json.Marshal(map[string]string{"type": "order.created"})
	require.NoError(t, err)
	relevant, err := json.Marshal(map[string]string{"type": "product.updated", "product_id": "P1"})
	require.NoError(t, err)

	err = w.WriteMessages(ctx,
		kafkaGo.Message{Key: []byte("O1"), Value: ignored},
		kafkaGo.Message{Value: []byte("not json")},
		kafkaGo.Message{Key: []byte("P1"), Value: relevant},
	)
	require.NoError(t, err)
	w.Close()

	go inv.Run(ctx)

	require.Eventually(t, func() bool {
		return target.calls.Load() == 1
	}, 15*time.Second, 500*time.Millisecond)
}
