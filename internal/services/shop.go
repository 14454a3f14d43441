package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/elmedianur/deutsche/internal/clock"
	"github.com/elmedianur/deutsche/internal/ledger"
)

var (
	ErrUnknownItem   = errors.New("unknown shop item")
	ErrInvalidAmount = errors.New("amount must be positive")
	ErrMissingKey    = errors.New("request id is required")
)

type ShopItem struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Price    int64    `json:"price"`
	Bundle   bool     `json:"bundle,omitempty"`
	Contents []string `json:"contents,omitempty"`
}

type PremiumPlan struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Price int64  `json:"price"`
	Days  int    `json:"days"`
}

var shopItems = []ShopItem{
	{ID: "xp_boost_2x", Name: "2x XP boost", Price: 10},
	{ID: "streak_freeze", Name: "Streak freeze", Price: 20},
	{ID: "hint_pack_5", Name: "5 hints", Price: 15},
	{ID: "hint_pack_20", Name: "20 hints", Price: 45},
	{ID: "extra_questions_50", Name: "50 extra questions", Price: 50},
	{ID: "audio_pack", Name: "Audio pack", Price: 100},
	{ID: "badge_vip", Name: "VIP badge", Price: 200},
	{ID: "custom_title", Name: "Custom title", Price: 150},
	{ID: "starter_pack", Name: "Starter pack", Price: 30, Bundle: true, Contents: []string{"xp_boost_2x", "hint_pack_5", "streak_freeze"}},
	{ID: "pro_pack", Name: "Pro pack", Price: 120, Bundle: true, Contents: []string{"hint_pack_20", "extra_questions_50", "audio_pack"}},
}

var premiumPlans = []PremiumPlan{
	{ID: "monthly", Name: "Premium, 30 days", Price: 100, Days: 30},
	{ID: "yearly", Name: "Premium, 365 days", Price: 1000, Days: 365},
}

type Wallet struct {
	UserID       string     `json:"user_id"`
	Balance      int64      `json:"balance"`
	Premium      bool       `json:"premium"`
	PremiumUntil *time.Time `json:"premium_until,omitempty"`
}

// ShopService sells items and premium time for stars and records top-ups.
// Every call carries a caller-chosen request id, so a retried purchase is
// charged once.
type ShopService struct {
	ledger *ledger.Ledger
	caps   *Capabilities
	clock  clock.Clock
}

func NewShopService(l *ledger.Ledger, caps *Capabilities, clk clock.Clock) *ShopService {
	return &ShopService{ledger: l, caps: caps, clock: clk}
}

func (s *ShopService) Catalog() []ShopItem {
	return append([]ShopItem(nil), shopItems...)
}

func (s *ShopService) Plans() []PremiumPlan {
	return append([]PremiumPlan(nil), premiumPlans...)
}

func findItem(id string) (ShopItem, bool) {
	for _, it := range shopItems {
		if it.ID == id {
			return it, true
		}
	}
	return ShopItem{}, false
}

func findPlan(id string) (PremiumPlan, bool) {
	for _, p := range premiumPlans {
		if p.ID == id {
			return p, true
		}
	}
	return PremiumPlan{}, false
}

const itemMemoPrefix = "item:"

func (s *ShopService) Purchase(ctx context.Context, userID, itemID, requestID string) (ledger.Result, error) {
	item, ok := findItem(itemID)
	if !ok {
		return ledger.Result{}, ErrUnknownItem
	}
	if requestID == "" {
		return ledger.Result{}, ErrMissingKey
	}
	return s.charge(ctx, userID, ledger.Request{
		Account:        userID,
		Delta:          -item.Price,
		Reason:         ledger.ReasonShopPurchase,
		IdempotencyKey: userID + ":purchase:" + requestID,
		Memo:           itemMemoPrefix + item.ID,
	})
}

func (s *ShopService) PurchasePremium(ctx context.Context, userID, planID, requestID string) (ledger.Result, error) {
	plan, ok := findPlan(planID)
	if !ok {
		return ledger.Result{}, ErrUnknownItem
	}
	if requestID == "" {
		return ledger.Result{}, ErrMissingKey
	}
	return s.charge(ctx, userID, ledger.Request{
		Account:        userID,
		Delta:          -plan.Price,
		Reason:         ledger.ReasonSubscription,
		IdempotencyKey: userID + ":premium:" + requestID,
		ExtendPremium:  time.Duration(plan.Days) * 24 * time.Hour,
		Memo:           "plan:" + plan.ID,
	})
}

func (s *ShopService) charge(ctx context.Context, userID string, req ledger.Request) (ledger.Result, error) {
	res, err := s.ledger.Apply(ctx, req)
	if errors.Is(err, ledger.ErrInsufficientFunds) {
		return ledger.Result{}, &EntitlementError{UserID: userID, Reason: EntitlementInsufficientFunds, Err: err}
	}
	return res, err
}

// TopUp credits stars bought through an external payment. chargeID is the
// payment provider's charge id; the same charge credits once.
func (s *ShopService) TopUp(ctx context.Context, userID string, amount int64, chargeID string) (ledger.Result, error) {
	if amount <= 0 {
		return ledger.Result{}, ErrInvalidAmount
	}
	if chargeID == "" {
		return ledger.Result{}, ErrMissingKey
	}
	return s.ledger.Apply(ctx, ledger.Request{
		Account:        userID,
		Delta:          amount,
		Reason:         ledger.ReasonTopUp,
		IdempotencyKey: "topup:" + chargeID,
		Memo:           "charge " + chargeID,
	})
}

func (s *ShopService) Grant(ctx context.Context, actor, userID string, amount int64, requestID string) (ledger.Result, error) {
	if !s.caps.HasCapability(actor, CapGrantStars) {
		return ledger.Result{}, ErrForbidden
	}
	if amount == 0 {
		return ledger.Result{}, ErrInvalidAmount
	}
	if requestID == "" {
		return ledger.Result{}, ErrMissingKey
	}
	return s.ledger.Apply(ctx, ledger.Request{
		Account:        userID,
		Delta:          amount,
		Reason:         ledger.ReasonGrant,
		IdempotencyKey: "grant:" + requestID,
		Memo:           fmt.Sprintf("granted by %s", actor),
	})
}

func (s *ShopService) Wallet(userID string) Wallet {
	w := Wallet{UserID: userID, Balance: s.ledger.Balance(userID)}
	if until := s.ledger.PremiumUntil(userID); !until.IsZero() {
		w.PremiumUntil = &until
		w.Premium = s.clock.Now().Before(until)
	}
	return w
}

// Inventory lists owned items, bundles expanded.
func (s *ShopService) Inventory(userID string) map[string]int {
	inv := make(map[string]int)
	for _, tx := range s.ledger.Transactions(userID) {
		if tx.Reason != ledger.ReasonShopPurchase || !strings.HasPrefix(tx.Memo, itemMemoPrefix) {
			continue
		}
		item, ok := findItem(strings.TrimPrefix(tx.Memo, itemMemoPrefix))
		if !ok {
			continue
		}
		if !item.Bundle {
			inv[item.ID]++
			continue
		}
		for _, id := range item.Contents {
			inv[id]++
		}
	}
	return inv
}

func (s *ShopService) Transactions(userID string) []ledger.Transaction {
	return s.ledger.Transactions(userID)
}
