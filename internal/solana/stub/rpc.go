package stub

import (
	"context"
	"sync"

	"solana-swap-ledger/internal/solana"
)

// RPCClient implements solana.RPCClient for testing.
type RPCClient struct {
	mu       sync.Mutex
	accounts map[string][]solana.TokenAccount // by owner
	slot     uint64
	err      error
	calls    int
}

// NewRPCClient creates a new stub RPC client.
func NewRPCClient() *RPCClient {
	return &RPCClient{
		accounts: make(map[string][]solana.TokenAccount),
		slot:     1,
	}
}

// GetTokenAccountsByOwner returns the stored accounts of owner holding mint.
func (c *RPCClient) GetTokenAccountsByOwner(_ context.Context, owner, mint string) (*solana.TokenAccounts, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls++
	if c.err != nil {
		return nil, c.err
	}

	out := &solana.TokenAccounts{Slot: c.slot}
	for _, acc := range c.accounts[owner] {
		if acc.Mint == mint {
			out.Accounts = append(out.Accounts, acc)
		}
	}
	return out, nil
}

// SetAccounts replaces the token accounts of owner and advances the slot.
func (c *RPCClient) SetAccounts(owner string, accounts ...solana.TokenAccount) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accounts[owner] = append([]solana.TokenAccount(nil), accounts...)
	c.slot++
}

// SetError makes every subsequent call fail with err. nil restores normal behavior.
func (c *RPCClient) SetError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

// Calls returns the number of GetTokenAccountsByOwner calls.
func (c *RPCClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}
