package domain

// CurrencyBalance is an account's currency position in minor units.
// Total includes the reserved part.
type CurrencyBalance struct {
	Total    int64
	Reserved int64
}

// Spendable returns the unreserved currency balance.
func (b CurrencyBalance) Spendable() int64 {
	return b.Total - b.Reserved
}

// ShareBalance is an account's position in a single share class.
// Total includes the reserved part.
type ShareBalance struct {
	Total    int64
	Reserved int64
}

// Spendable returns the unreserved share quantity.
func (b ShareBalance) Spendable() int64 {
	return b.Total - b.Reserved
}
