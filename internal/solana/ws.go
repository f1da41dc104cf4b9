package solana

import "context"

// AccountSubscriber streams updates for individual accounts.
type AccountSubscriber interface {
	// SubscribeAccount streams decoded updates of a token account until the client closes.
	SubscribeAccount(ctx context.Context, address string) (<-chan AccountNotification, error)

	// Close closes the connection and every subscription channel.
	Close() error
}
