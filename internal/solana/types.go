package solana

// SPL token program ids. Accounts of both programs share the base layout.
const (
	TokenProgramID     = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	Token2022ProgramID = "TokenzQdBNbLqP5VEhdkAS6EJFDwaFLkdwi2zNrwR9d8s"
)

// TokenAccount is a decoded SPL token account.
type TokenAccount struct {
	Address string // token account pubkey
	Mint    string
	Owner   string
	Amount  uint64 // base units
}

// TokenAccounts is a getTokenAccountsByOwner result pinned to the slot it was read at.
type TokenAccounts struct {
	Slot     uint64
	Accounts []TokenAccount
}

// AccountNotification is one accountSubscribe update for a watched token account.
type AccountNotification struct {
	Address string
	Slot    uint64
	Account TokenAccount
}
