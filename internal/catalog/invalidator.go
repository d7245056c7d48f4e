package catalog

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/scentara/storefront-cart/internal/logger"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const EventsTopic = "catalog-events"

type invalidator interface {
	Invalidate(ctx context.Context) error
}

// Invalidator drops the cached catalog snapshot whenever the admin console
// publishes a product, price or category change.
type Invalidator struct {
	target invalidator
	reader *kafka.Reader
	log    *zap.Logger
}

type catalogEvent struct {
	Type      string `json:"type"`
	ProductID string `json:"product_id"`
}

func NewInvalidator(target invalidator, log *zap.Logger, brokers ...string) *Invalidator {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    EventsTopic,
		GroupID:  "storefront-cart-catalog",
		MaxBytes: 10e6, // 10MB
	})
	return &Invalidator{target: target, reader: reader, log: logger.OrNop(log)}
}

func (i *Invalidator) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		i.handleNext(ctx)
	}
}

func (i *Invalidator) Close() {
	if err := i.reader.Close(); err != nil {
		i.log.Warn("error closing catalog reader", zap.Error(err))
	}
}

func (i *Invalidator) handleNext(ctx context.Context) {
	m, err := i.reader.ReadMessage(ctx)
	if err != nil {
		if ctx.Err() == nil {
			i.log.Warn("error reading catalog event", zap.Error(err))
		}
		return
	}

	var event catalogEvent
	if err := json.Unmarshal(m.Value, &event); err != nil {
		i.log.Warn("error parsing catalog event", zap.Error(err))
		return
	}
	if !affectsCatalog(event.Type) {
		return
	}

	if err := i.target.Invalidate(ctx); err != nil {
		i.log.Warn("failed to invalidate catalog snapshot", zap.Error(err))
		return
	}
	i.log.Debug("catalog snapshot invalidated",
		zap.String("event", event.Type),
		zap.String("product_id", event.ProductID))
}

func affectsCatalog(eventType string) bool {
	for _, prefix := range []string{"product.", "price.", "category.", "type."} {
		if strings.HasPrefix(eventType, prefix) {
			return true
		}
	}
	return false
}
