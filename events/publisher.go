// Package events publishes workflow domain events to a durable direct
// AMQP exchange. The core's contract is "emit an event with the report
// id and what changed"; delivery to phones or dashboards is someone
// else's job. A nil publisher is valid and drops events with a log
// line, so the write path never depends on the broker being up.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cleanspot/models"

	"github.com/apex/log"
	"github.com/streadway/amqp"
)

const (
	RouteReportSubmitted     = "report.submitted"
	RouteStatusChanged       = "report.status_changed"
	RouteVerificationDecided = "verification.decided"
)

// Sink is the publishing surface the workflow services depend on.
// *Publisher satisfies it; tests substitute a recorder.
type Sink interface {
	Publish(routingKey string, message interface{})
}

type Publisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

// StatusChangedEvent is emitted after every committed status transition.
type StatusChangedEvent struct {
	ReportID  string              `json:"report_id"`
	From      models.ReportStatus `json:"from"`
	To        models.ReportStatus `json:"to"`
	ActorID   string              `json:"actor_id,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
}

// VerificationDecidedEvent is emitted after an approve or reject commit.
type VerificationDecidedEvent struct {
	VerificationID string                `json:"verification_id"`
	ReportID       string                `json:"report_id"`
	Decision       models.ApprovalStatus `json:"decision"`
	AdminID        string                `json:"admin_id"`
	PointsAwarded  int                   `json:"points_awarded,omitempty"`
	Timestamp      time.Time             `json:"timestamp"`
}

// ReportSubmittedEvent is emitted after an accepted submission.
type ReportSubmittedEvent struct {
	ReportID  string          `json:"report_id"`
	DeviceID  string          `json:"device_id"`
	Location  models.Location `json:"location"`
	Severity  models.Severity `json:"severity,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewPublisher connects to the broker and declares the exchange.
func NewPublisher(amqpURL, exchangeName string) (*Publisher, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		exchangeName, // name
		"direct",     // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &Publisher{
		conn:     conn,
		channel:  channel,
		exchange: exchangeName,
	}, nil
}

// Publish sends a JSON message with the given routing key. Failures are
// logged only; events are advisory and never fail the write path.
func (p *Publisher) Publish(routingKey string, message interface{}) {
	if p == nil {
		log.Debugf("event publisher disabled, dropping %s", routingKey)
		return
	}

	body, err := json.Marshal(message)
	if err != nil {
		log.Errorf("Failed to marshal %s event: %v", routingKey, err)
		return
	}

	err = p.channel.Publish(
		p.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		log.Errorf("Failed to publish %s event: %v", routingKey, err)
		return
	}
	log.Infof("Published %s event", routingKey)
}

// Close shuts down the channel and connection.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	var firstErr error
	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			firstErr = err
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Ping verifies the connection is still open.
func (p *Publisher) Ping(ctx context.Context) error {
	if p == nil {
		return nil
	}
	if p.conn.IsClosed() {
		return fmt.Errorf("rabbitmq connection is closed")
	}
	return nil
}
