package ledger

// SeedBalance is a test helper that seeds the balance for an account when using the in-memory ledger.
func SeedBalance(l Ledger, userID string, amount int64) {
	if mem, ok := l.(*inMemoryLedger); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		acct := mem.accounts[userID]
		acct.UserID = userID
		if acct.Currency == "" {
			acct.Currency = "USD"
		}
		acct.Balance = amount
		mem.accounts[userID] = acct
	}
}
