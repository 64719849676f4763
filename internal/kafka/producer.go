package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"ms-booking/internal/config"
	"ms-booking/internal/models"
)

// Producer streams booking lifecycle events, one writer per topic.
type Producer struct {
	holdCreated      *kafka.Writer
	bookingConfirmed *kafka.Writer
	bookingCancelled *kafka.Writer
}

func NewProducer(brokers []string, topics config.TopicConfig) *Producer {
	newWriter := func(topic string) *kafka.Writer {
		return kafka.NewWriter(kafka.WriterConfig{
			Brokers: brokers,
			Topic:   topic,
		})
	}
	return &Producer{
		holdCreated:      newWriter(topics.HoldCreated),
		bookingConfirmed: newWriter(topics.BookingConfirmed),
		bookingCancelled: newWriter(topics.BookingCancelled),
	}
}

type holdCreatedEvent struct {
	Booking models.Booking  `json:"booking"`
	Lock    models.SeatLock `json:"lock"`
}

// PublishHoldCreated streams the seat hold creation event to Kafka
func (p *Producer) PublishHoldCreated(booking models.Booking, lock models.SeatLock) error {
	msgBytes, err := json.Marshal(holdCreatedEvent{Booking: booking, Lock: lock})
	if err != nil {
		return err
	}

	fmt.Printf("Publishing to Kafka [hold_created]: %s\n", string(msgBytes))

	return p.holdCreated.WriteMessages(context.Background(),
		kafka.Message{
			Key:   []byte(booking.ListingID),
			Value: msgBytes,
		},
	)
}

// PublishBookingConfirmed streams the booking confirmation event to Kafka
func (p *Producer) PublishBookingConfirmed(booking models.Booking) error {
	msgBytes, err := json.Marshal(booking)
	if err != nil {
		return err
	}

	fmt.Printf("Publishing to Kafka [booking_confirmed]: %s\n", string(msgBytes))

	return p.bookingConfirmed.WriteMessages(context.Background(),
		kafka.Message{
			Key:   []byte(booking.ID),
			Value: msgBytes,
		},
	)
}

// PublishBookingCancelled streams the booking cancellation event to Kafka
func (p *Producer) PublishBookingCancelled(booking models.Booking) error {
	msgBytes, err := json.Marshal(booking)
	if err != nil {
		return err
	}

	fmt.Printf("Publishing to Kafka [booking_cancelled]: %s\n", string(msgBytes))

	return p.bookingCancelled.WriteMessages(context.Background(),
		kafka.Message{
			Key:   []byte(booking.ID),
			Value: msgBytes,
		},
	)
}

func (p *Producer) Close() error {
	for _, w := range []*kafka.Writer{p.holdCreated, p.bookingConfirmed, p.bookingCancelled} {
		if err := w.Close(); err != nil {
			return err
		}
	}
	return nil
}
