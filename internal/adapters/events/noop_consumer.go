package events

import "context"

// NoopConsumer stands in when no brokers are configured; nothing is ever fetched.
type NoopConsumer struct{}

func NewNoopConsumer() *NoopConsumer {
	return &NoopConsumer{}
}

func (NoopConsumer) Fetch(_ context.Context, _ int) ([]Message, error) {
	return nil, nil
}

func (NoopConsumer) Commit(_ context.Context, _ ...Message) error {
	return nil
}
