// Package ledger is the only writer of star balances.
//
// Every change is an append-only Transaction carrying an idempotency key. A
// key commits at most once: replaying it with the same effect returns the
// original transaction, replaying it with a different effect is a conflict
// and leaves the ledger untouched. Balance check and append happen under the
// account's own lock, so ledgers of different users never contend.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/elmedianur/deutsche/internal/clock"
	"github.com/elmedianur/deutsche/internal/metrics"
)

type Reason string

const (
	ReasonStake        Reason = "stake"
	ReasonPayout       Reason = "payout"
	ReasonRefund       Reason = "refund"
	ReasonSubscription Reason = "subscription"
	ReasonShopPurchase Reason = "shop_purchase"
	ReasonTopUp        Reason = "topup"
	ReasonGrant        Reason = "grant"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrLedgerConflict    = errors.New("ledger conflict")
	ErrInvalidRequest    = errors.New("invalid ledger request")
)

type Transaction struct {
	ID             string     `json:"id"`
	Account        string     `json:"account"`
	Delta          int64      `json:"delta"`
	Reason         Reason     `json:"reason"`
	IdempotencyKey string     `json:"idempotency_key"`
	CreatedAt      time.Time  `json:"created_at"`
	ValidUntil     *time.Time `json:"valid_until,omitempty"`
	Memo           string     `json:"memo,omitempty"`
}

type Request struct {
	Account        string
	Delta          int64
	Reason         Reason
	IdempotencyKey string
	// ExtendPremium, when set, makes the transaction a subscription that
	// extends the account's premium period by this much. The new expiry is
	// computed under the account lock from whichever is later of now and
	// the current expiry.
	ExtendPremium time.Duration
	Memo          string
}

type Result struct {
	Transaction Transaction
	Replayed    bool
}

// Mirror receives every committed transaction for durable storage. It is
// called from a worker pool, never under a ledger lock.
type Mirror interface {
	SaveTransaction(ctx context.Context, tx Transaction) error
}

type account struct {
	mu           sync.Mutex
	balance      int64
	txs          []Transaction
	premiumUntil time.Time
}

// pending tracks one idempotency key. done is closed once the first apply of
// the key finishes; a failed apply removes the entry so the key stays free.
type pending struct {
	done    chan struct{}
	account string
	delta   int64
	reason  Reason
	tx      Transaction
	err     error
}

type Ledger struct {
	clock   clock.Clock
	log     zerolog.Logger
	metrics *metrics.ArenaCollector
	mirror  Mirror
	pool    *workerpool.WorkerPool

	mu       sync.Mutex
	keys     map[string]*pending
	accounts map[string]*account
}

type Option func(*Ledger)

func WithMirror(m Mirror, workers int) Option {
	return func(l *Ledger) {
		if workers <= 0 {
			workers = 1
		}
		l.mirror = m
		l.pool = workerpool.New(workers)
	}
}

func WithMetrics(m *metrics.ArenaCollector) Option {
	return func(l *Ledger) { l.metrics = m }
}

func New(clk clock.Clock, log zerolog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		clock:    clk,
		log:      log.With().Str("component", "ledger").Logger(),
		keys:     make(map[string]*pending),
		accounts: make(map[string]*account),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Apply commits req exactly once per idempotency key.
func (l *Ledger) Apply(ctx context.Context, req Request) (Result, error) {
	if req.Account == "" || req.IdempotencyKey == "" {
		return Result{}, fmt.Errorf("%w: account and idempotency key are required", ErrInvalidRequest)
	}
	if req.Reason == "" {
		return Result{}, fmt.Errorf("%w: reason is required", ErrInvalidRequest)
	}

	for {
		l.mu.Lock()
		p, seen := l.keys[req.IdempotencyKey]
		if !seen {
			p = &pending{
				done:    make(chan struct{}),
				account: req.Account,
				delta:   req.Delta,
				reason:  req.Reason,
			}
			l.keys[req.IdempotencyKey] = p
			acct := l.accountLocked(req.Account)
			l.mu.Unlock()
			return l.commit(acct, p, req)
		}
		l.mu.Unlock()

		if p.account != req.Account || p.delta != req.Delta || p.reason != req.Reason {
			l.metrics.LedgerConflict()
			l.log.Warn().
				Str("idempotency_key", req.IdempotencyKey).
				Str("account", req.Account).
				Int64("delta", req.Delta).
				Str("committed_account", p.account).
				Int64("committed_delta", p.delta).
				Msg("idempotency key reused with a different effect")
			return Result{}, fmt.Errorf("%w: key %q", ErrLedgerConflict, req.IdempotencyKey)
		}

		select {
		case <-p.done:
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
		if p.err == nil {
			l.metrics.LedgerReplayed()
			return Result{Transaction: p.tx, Replayed: true}, nil
		}
		// the first attempt failed and released the key; try it ourselves
	}
}

func (l *Ledger) commit(acct *account, p *pending, req Request) (Result, error) {
	acct.mu.Lock()
	now := l.clock.Now()
	if acct.balance+req.Delta < 0 {
		balance := acct.balance
		acct.mu.Unlock()
		l.release(req.IdempotencyKey, p, ErrInsufficientFunds)
		l.metrics.InsufficientFunds()
		return Result{}, fmt.Errorf("%w: balance %d, delta %d", ErrInsufficientFunds, balance, req.Delta)
	}

	tx := Transaction{
		ID:             uuid.NewString(),
		Account:        req.Account,
		Delta:          req.Delta,
		Reason:         req.Reason,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      now,
		Memo:           req.Memo,
	}
	if req.ExtendPremium > 0 {
		from := now
		if acct.premiumUntil.After(from) {
			from = acct.premiumUntil
		}
		until := from.Add(req.ExtendPremium)
		tx.ValidUntil = &until
		acct.premiumUntil = until
	}
	acct.balance += req.Delta
	acct.txs = append(acct.txs, tx)
	acct.mu.Unlock()

	p.tx = tx
	close(p.done)

	l.metrics.LedgerApplied(string(req.Reason))
	l.log.Debug().
		Str("tx_id", tx.ID).
		Str("account", tx.Account).
		Int64("delta", tx.Delta).
		Str("reason", string(tx.Reason)).
		Str("idempotency_key", tx.IdempotencyKey).
		Msg("transaction committed")
	l.persist(tx)
	return Result{Transaction: tx}, nil
}

func (l *Ledger) release(key string, p *pending, err error) {
	l.mu.Lock()
	if l.keys[key] == p {
		delete(l.keys, key)
	}
	l.mu.Unlock()
	p.err = err
	close(p.done)
}

func (l *Ledger) persist(tx Transaction) {
	if l.pool == nil {
		return
	}
	l.pool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := l.mirror.SaveTransaction(ctx, tx); err != nil {
			l.log.Error().Err(err).Str("tx_id", tx.ID).Msg("failed to mirror transaction")
		}
	})
}

func (l *Ledger) accountLocked(id string) *account {
	a, ok := l.accounts[id]
	if !ok {
		a = &account{}
		l.accounts[id] = a
	}
	return a
}

func (l *Ledger) lookup(id string) (*account, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.accounts[id]
	return a, ok
}

func (l *Ledger) Balance(accountID string) int64 {
	a, ok := l.lookup(accountID)
	if !ok {
		return 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balance
}

// Transactions returns the account's transactions, oldest first.
func (l *Ledger) Transactions(accountID string) []Transaction {
	a, ok := l.lookup(accountID)
	if !ok {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Transaction(nil), a.txs...)
}

// Lookup returns the committed transaction for an idempotency key.
func (l *Ledger) Lookup(key string) (Transaction, bool) {
	l.mu.Lock()
	p, ok := l.keys[key]
	l.mu.Unlock()
	if !ok {
		return Transaction{}, false
	}
	select {
	case <-p.done:
		return p.tx, p.err == nil
	default:
		return Transaction{}, false
	}
}

// IsPremium reports whether the account holds an unexpired subscription.
func (l *Ledger) IsPremium(accountID string, now time.Time) bool {
	return l.PremiumUntil(accountID).After(now)
}

func (l *Ledger) PremiumUntil(accountID string) time.Time {
	a, ok := l.lookup(accountID)
	if !ok {
		return time.Time{}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.premiumUntil
}

// Restore rebuilds balances and the key index from persisted transactions.
// It must run before the ledger serves requests.
func (l *Ledger) Restore(txs []Transaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, tx := range txs {
		if _, dup := l.keys[tx.IdempotencyKey]; dup {
			return fmt.Errorf("%w: duplicate key %q in restore", ErrLedgerConflict, tx.IdempotencyKey)
		}
		p := &pending{
			done:    make(chan struct{}),
			account: tx.Account,
			delta:   tx.Delta,
			reason:  tx.Reason,
			tx:      tx,
		}
		close(p.done)
		l.keys[tx.IdempotencyKey] = p

		a := l.accountLocked(tx.Account)
		a.balance += tx.Delta
		a.txs = append(a.txs, tx)
		if tx.ValidUntil != nil && tx.ValidUntil.After(a.premiumUntil) {
			a.premiumUntil = *tx.ValidUntil
		}
	}
	l.log.Info().Int("transactions", len(txs)).Int("accounts", len(l.accounts)).Msg("ledger restored")
	return nil
}

// Close waits for pending mirror writes.
func (l *Ledger) Close() {
	if l.pool != nil {
		l.pool.StopWait()
	}
}
