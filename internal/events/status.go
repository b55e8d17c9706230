package events

import (
	"context"
	"fmt"

	"github.com/paygrid/transfer-service/internal/domain"
	"github.com/paygrid/transfer-service/pkg/rabbitmq"
)

// RabbitStatusPublisher fans transfer status changes out to the message
// fabric with routing keys of the form "transfer.status.<status>".
type RabbitStatusPublisher struct {
	producer rabbitmq.Publisher
	exchange string
}

func NewRabbitStatusPublisher(producer rabbitmq.Publisher, exchange string) *RabbitStatusPublisher {
	return &RabbitStatusPublisher{producer: producer, exchange: exchange}
}

func (p *RabbitStatusPublisher) PublishTransferStatus(ctx context.Context, event domain.TransferStatusEvent) error {
	routingKey := fmt.Sprintf("transfer.status.%s", event.Status)
	return p.producer.Publish(ctx, p.exchange, routingKey, event)
}
