package model

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func buyOrder(limit, qty int64) Order {
	return Order{
		ID: "o1", AccountID: "acct1", StockCode: "005930", StockName: "Samsung",
		Kind: KindLimit, Side: SideBuy, Quantity: qty, LimitPrice: limit, Status: StatusPending,
	}
}

func sellOrder(limit, qty int64) Order {
	o := buyOrder(limit, qty)
	o.Side = SideSell
	return o
}

func TestFillableAt(t *testing.T) {
	buy := buyOrder(50000, 1)
	sell := sellOrder(60000, 1)

	cases := []struct {
		name  string
		order Order
		price int64
		want  bool
	}{
		{"buy below limit", buy, 49000, true},
		{"buy at limit", buy, 50000, true},
		{"buy above limit", buy, 50001, false},
		{"sell above limit", sell, 61000, true},
		{"sell at limit", sell, 60000, true},
		{"sell below limit", sell, 59999, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.order.FillableAt(tc.price); got != tc.want {
				t.Errorf("FillableAt(%d) = %v, want %v", tc.price, got, tc.want)
			}
		})
	}
}

func TestApplyFill_BuyRefundsDifference(t *testing.T) {
	// Placement already froze 500,000 from 1,000,000.
	acct := &Account{ID: "acct1", Cash: 500000}
	f := Fill{Order: buyOrder(50000, 10), Price: 49000, At: time.Now()}

	if err := acct.ApplyFill(f); err != nil {
		t.Fatalf("ApplyFill: %v", err)
	}
	if acct.Cash != 510000 {
		t.Errorf("expected cash 510000 after 10000 refund, got %d", acct.Cash)
	}
	h := acct.Holdings["005930"]
	if h == nil || h.Quantity != 10 {
		t.Fatalf("expected holding of 10, got %+v", h)
	}
	if !h.AvgCost.Equal(decimal.NewFromInt(49000)) {
		t.Errorf("expected avg cost 49000, got %s", h.AvgCost)
	}
}

func TestApplyFill_BuyWeightsAverageCost(t *testing.T) {
	acct := &Account{ID: "acct1", Holdings: map[string]*Holding{
		"005930": {StockCode: "005930", Quantity: 10, AvgCost: decimal.NewFromInt(40000)},
	}}
	f := Fill{Order: buyOrder(50000, 30), Price: 48000}

	if err := acct.ApplyFill(f); err != nil {
		t.Fatalf("ApplyFill: %v", err)
	}
	h := acct.Holdings["005930"]
	// (10*40000 + 30*48000) / 40 = 46000
	if h.Quantity != 40 || !h.AvgCost.Equal(decimal.NewFromInt(46000)) {
		t.Errorf("expected 40 @ 46000, got %d @ %s", h.Quantity, h.AvgCost)
	}
}

func TestApplyFill_SellCreditsProceeds(t *testing.T) {
	acct := &Account{ID: "acct1", Cash: 0, Holdings: map[string]*Holding{
		"005930": {StockCode: "005930", Quantity: 8, AvgCost: decimal.NewFromInt(55000)},
	}}
	f := Fill{Order: sellOrder(60000, 5), Price: 61000}

	if err := acct.ApplyFill(f); err != nil {
		t.Fatalf("ApplyFill: %v", err)
	}
	if acct.Cash != 305000 {
		t.Errorf("expected cash 305000, got %d", acct.Cash)
	}
	h := acct.Holdings["005930"]
	if h.Quantity != 3 {
		t.Errorf("expected 3 remaining, got %d", h.Quantity)
	}
	if !h.AvgCost.Equal(decimal.NewFromInt(55000)) {
		t.Errorf("sell must not change avg cost, got %s", h.AvgCost)
	}
}

func TestApplyFill_SellWholePositionRemovesHolding(t *testing.T) {
	acct := &Account{ID: "acct1", Holdings: map[string]*Holding{
		"005930": {StockCode: "005930", Quantity: 5, AvgCost: decimal.NewFromInt(55000)},
	}}
	if err := acct.ApplyFill(Fill{Order: sellOrder(60000, 5), Price: 60000}); err != nil {
		t.Fatalf("ApplyFill: %v", err)
	}
	if _, ok := acct.Holdings["005930"]; ok {
		t.Error("expected holding to be removed")
	}
}

func TestApplyFill_Rejections(t *testing.T) {
	acct := &Account{ID: "acct1", Cash: 100}

	err := acct.ApplyFill(Fill{Order: sellOrder(60000, 5), Price: 61000})
	if !errors.Is(err, ErrInsufficientHoldings) {
		t.Errorf("expected ErrInsufficientHoldings, got %v", err)
	}
	err = acct.ApplyFill(Fill{Order: buyOrder(50000, 1), Price: 50001})
	if !errors.Is(err, ErrNotFillable) {
		t.Errorf("expected ErrNotFillable, got %v", err)
	}
	if acct.Cash != 100 || len(acct.Holdings) != 0 {
		t.Errorf("rejected fills must not mutate the account: %+v", acct)
	}
}

func TestApplyFill_RejectsOverflow(t *testing.T) {
	// Proceeds of 2^32 shares at 2^31+1 do not fit in int64.
	acct := &Account{ID: "acct1", Cash: 1000, Holdings: map[string]*Holding{
		"005930": {StockCode: "005930", Quantity: 1 << 32, AvgCost: decimal.NewFromInt(1)},
	}}
	err := acct.ApplyFill(Fill{Order: sellOrder(1, 1<<32), Price: 1<<31 + 1})
	if !errors.Is(err, ErrAmountOverflow) {
		t.Errorf("expected ErrAmountOverflow for proceeds, got %v", err)
	}

	// Proceeds fit, but the resulting balance does not.
	rich := &Account{ID: "acct2", Cash: math.MaxInt64 - 10, Holdings: map[string]*Holding{
		"005930": {StockCode: "005930", Quantity: 1, AvgCost: decimal.NewFromInt(1)},
	}}
	err = rich.ApplyFill(Fill{Order: sellOrder(1, 1), Price: 11})
	if !errors.Is(err, ErrAmountOverflow) {
		t.Errorf("expected ErrAmountOverflow for balance, got %v", err)
	}

	if acct.Cash != 1000 || acct.Holdings["005930"].Quantity != 1<<32 {
		t.Errorf("rejected fill must not mutate the account: %+v", acct)
	}
	if rich.Holdings["005930"].Quantity != 1 {
		t.Errorf("rejected fill must not mutate holdings: %+v", rich.Holdings["005930"])
	}
}
