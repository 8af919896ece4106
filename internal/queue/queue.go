package queue

import (
	"context"
	"errors"
	"time"
)

// ErrMessageNotFound is returned by Delete when the message is gone or its
// lease was handed to another consumer after the visibility timeout.
var ErrMessageNotFound = errors.New("queue message not found")

// Message is a leased queue entry. Body carries the job id.
type Message struct {
	ID           string
	Body         string
	Receipt      string
	DequeueCount int
}

// Client is the capability set the worker and API need from a queue that
// provides at-least-once delivery with a per-message visibility timeout.
type Client interface {
	// Receive leases one message for the given visibility timeout. It returns
	// nil and no error when the queue is empty.
	Receive(ctx context.Context, visibility time.Duration) (*Message, error)
	// Delete removes a leased message. It fails with ErrMessageNotFound when the
	// receipt no longer matches.
	Delete(ctx context.Context, msg *Message) error
	// Send appends a message with the given body.
	Send(ctx context.Context, body string) error
}
