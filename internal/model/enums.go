package model

import "fmt"

// Bucket is a spendability partition of a wallet's balance.
type Bucket string

const (
	BucketAvailable     Bucket = "AVAILABLE"
	BucketPending       Bucket = "PENDING"
	BucketLockedBNSL    Bucket = "LOCKED_BNSL"
	BucketReservedTrade Bucket = "RESERVED_TRADE"
)

// Buckets lists every bucket in display order.
var Buckets = []Bucket{BucketAvailable, BucketPending, BucketLockedBNSL, BucketReservedTrade}

// Valid reports whether b is one of the known buckets.
func (b Bucket) Valid() bool {
	switch b {
	case BucketAvailable, BucketPending, BucketLockedBNSL, BucketReservedTrade:
		return true
	}
	return false
}

// ParseBucket converts s into a Bucket.
func ParseBucket(s string) (Bucket, error) {
	b := Bucket(s)
	if !b.Valid() {
		return "", &ValidationError{Field: "bucket", Reason: fmt.Sprintf("unknown bucket %q", s)}
	}
	return b, nil
}

// Wallet is one of the two balance classes held by an owner.
// MPGW is fungible and priced live; FPGW is lot-tracked at locked prices.
type Wallet string

const (
	WalletMarket Wallet = "MPGW"
	WalletFixed  Wallet = "FPGW"
)

// Valid reports whether w is a known wallet.
func (w Wallet) Valid() bool {
	switch w {
	case WalletMarket, WalletFixed:
		return true
	}
	return false
}

// ParseWallet converts s into a Wallet.
func ParseWallet(s string) (Wallet, error) {
	w := Wallet(s)
	if !w.Valid() {
		return "", &ValidationError{Field: "wallet", Reason: fmt.Sprintf("unknown wallet %q", s)}
	}
	return w, nil
}

// LotStatus is the lifecycle state of a lot.
type LotStatus string

const (
	LotActive   LotStatus = "ACTIVE"
	LotConsumed LotStatus = "CONSUMED"
)

// SourceType records how a lot came into existence.
type SourceType string

const (
	SourceDeposit    SourceType = "deposit"
	SourceTransfer   SourceType = "transfer"
	SourceConversion SourceType = "conversion"
)

// Valid reports whether s is a known source type.
func (s SourceType) Valid() bool {
	switch s {
	case SourceDeposit, SourceTransfer, SourceConversion:
		return true
	}
	return false
}

// Action names the operation a ledger entry records.
type Action string

const (
	ActionDeposit     Action = "deposit"
	ActionWithdraw    Action = "withdraw"
	ActionSell        Action = "sell"
	ActionLock        Action = "lock"
	ActionUnlock      Action = "unlock"
	ActionTransferOut Action = "transfer_out"
	ActionTransferIn  Action = "transfer_in"
	ActionConvert     Action = "convert"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionDeposit, ActionWithdraw, ActionSell, ActionLock, ActionUnlock,
		ActionTransferOut, ActionTransferIn, ActionConvert:
		return true
	}
	return false
}

// IsBurn reports whether a removes grams from the system.
func (a Action) IsBurn() bool {
	switch a {
	case ActionWithdraw, ActionSell:
		return true
	}
	return false
}
