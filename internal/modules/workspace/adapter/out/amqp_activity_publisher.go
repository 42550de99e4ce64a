package out

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	amqp "github.com/rabbitmq/amqp091-go"

	"pocus/internal/modules/workspace/domain"
	workspaceout "pocus/internal/modules/workspace/port/out"
)

// ActivityQueue is the durable queue activity records are routed to.
const ActivityQueue = "pocus.activity"

// AMQPActivityPublisher sends activity as persistent JSON messages over one
// long-lived connection.
type AMQPActivityPublisher struct {
	mu    sync.Mutex
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

func NewAMQPActivityPublisher(url string) (workspaceout.ActivityPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(
		ActivityQueue, // name
		true,          // durable
		false,         // autoDelete
		false,         // exclusive
		false,         // noWait
		nil,           // args
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", ActivityQueue, err)
	}
	return &AMQPActivityPublisher{conn: conn, ch: ch, queue: ActivityQueue}, nil
}

func (p *AMQPActivityPublisher) Publish(ctx context.Context, activity domain.Activity) error {
	body, err := json.Marshal(activity)
	if err != nil {
		return fmt.Errorf("encode activity: %w", err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    activity.At,
		Type:         string(activity.Kind),
		Body:         body,
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.PublishWithContext(ctx, "", p.queue, false, false, msg); err != nil {
		return fmt.Errorf("publish %s: %w", activity.Kind, err)
	}
	return nil
}

func (p *AMQPActivityPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var result *multierror.Error
	if err := p.ch.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close channel: %w", err))
	}
	if err := p.conn.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close connection: %w", err))
	}
	return result.ErrorOrNil()
}
