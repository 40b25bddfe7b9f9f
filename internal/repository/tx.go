package repository

import "context"

// TxRepositories are repositories bound to a single transaction.
type TxRepositories struct {
	Orders OrderRepository
	Trips  TripRepository
	Stops  StopRepository
	Pings  PingRepository
}

// Transactor runs fn inside a transaction. The transaction is rolled back when fn returns an error.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, repos TxRepositories) error) error
}
