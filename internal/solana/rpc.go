package solana

import "context"

// RPCClient defines the Solana RPC HTTP interface used for balance reconciliation.
type RPCClient interface {
	// GetTokenAccountsByOwner returns the SPL token accounts of owner holding mint.
	GetTokenAccountsByOwner(ctx context.Context, owner, mint string) (*TokenAccounts, error)
}
