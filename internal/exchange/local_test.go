package exchange

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"simbroker/internal/broker"
	"simbroker/internal/domain"
	"simbroker/internal/util"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func ptr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

// 09:30 New York on a Friday.
var t0 = time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)

func bar(at time.Time, o, h, l, c float64) domain.Bar {
	return domain.Bar{Symbol: "AAPL", Timestamp: at, Open: o, High: h, Low: l, Close: c, Volume: 1000}
}

func setup(t *testing.T, cfg broker.Config, opts broker.Options) (*broker.SimulatorBroker, *Local) {
	t.Helper()
	ex := NewLocal(util.NewTradingCalendar(domain.MarketUS), cfg.EOSBar, nil)
	opts.Placer = ex
	if cfg.StartingCash.IsZero() {
		cfg.StartingCash = dec("100000")
	}
	b := broker.NewSimulatorBroker(cfg, opts)
	if err := b.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	b.AdvanceStep(t0)
	return b, ex
}

func place(t *testing.T, b *broker.SimulatorBroker, side domain.OrderSide, req broker.OrderRequest) *domain.Order {
	t.Helper()
	req.Symbol = "AAPL"
	if req.Size.IsZero() {
		req.Size = dec("10")
	}
	var (
		o   *domain.Order
		err error
	)
	if side == domain.OrderSideBuy {
		o, err = b.Buy(req)
	} else {
		o, err = b.Sell(req)
	}
	if err != nil {
		t.Fatalf("placing %s: %v", req.Type, err)
	}
	return o
}

func feed(t *testing.T, ex *Local, bars ...domain.Bar) {
	t.Helper()
	for _, br := range bars {
		if err := ex.OnBar(br); err != nil {
			t.Fatalf("OnBar(%s): %v", br.Timestamp, err)
		}
	}
}

func wantFill(t *testing.T, b *broker.SimulatorBroker, ref uint64, status domain.OrderStatus, price string) {
	t.Helper()
	o, err := b.Order(ref)
	if err != nil {
		t.Fatalf("Order(%d): %v", ref, err)
	}
	if o.Status != status {
		t.Fatalf("order %d status = %s, want %s", ref, o.Status, status)
	}
	if price != "" && !o.Executed.Price.Equal(dec(price)) {
		t.Errorf("order %d executed at %s, want %s", ref, o.Executed.Price, price)
	}
}

func TestMarketOrderFillsAtNextOpen(t *testing.T) {
	b, ex := setup(t, broker.Config{}, broker.Options{})
	o := place(t, b, domain.OrderSideBuy, broker.OrderRequest{})

	// A bar stamped at creation time does not execute the order.
	feed(t, ex, bar(t0, 99, 101, 98, 100))
	wantFill(t, b, o.Ref, domain.OrderStatusAccepted, "")

	feed(t, ex, bar(t0.Add(time.Minute), 100.5, 102, 100, 101))
	wantFill(t, b, o.Ref, domain.OrderStatusCompleted, "100.5")
	if ex.Working() != 0 {
		t.Errorf("Working() = %d, want 0", ex.Working())
	}
	if px, ok := ex.LastPrice("AAPL"); !ok || !px.Equal(dec("101")) {
		t.Errorf("LastPrice = %s, %v; want 101", px, ok)
	}
}

func TestLimitOrders(t *testing.T) {
	b, ex := setup(t, broker.Config{}, broker.Options{})
	buyLimit := place(t, b, domain.OrderSideBuy, broker.OrderRequest{Type: domain.OrderTypeLimit, Price: ptr("95")})
	sellGap := place(t, b, domain.OrderSideSell, broker.OrderRequest{Type: domain.OrderTypeLimit, Price: ptr("90")})

	t1 := t0.Add(time.Minute)
	feed(t, ex, bar(t1, 100, 101, 96, 97))
	wantFill(t, b, buyLimit.Ref, domain.OrderStatusAccepted, "")
	// Open already better than the sell limit.
	wantFill(t, b, sellGap.Ref, domain.OrderStatusCompleted, "100")

	feed(t, ex, bar(t1.Add(time.Minute), 97, 98, 94, 96))
	wantFill(t, b, buyLimit.Ref, domain.OrderStatusCompleted, "95")
}

func TestStopOrders(t *testing.T) {
	b, ex := setup(t, broker.Config{}, broker.Options{})
	stopLoss := place(t, b, domain.OrderSideSell, broker.OrderRequest{Type: domain.OrderTypeStop, Price: ptr("95")})
	breakout := place(t, b, domain.OrderSideBuy, broker.OrderRequest{Type: domain.OrderTypeStop, Price: ptr("105")})

	t1 := t0.Add(time.Minute)
	feed(t, ex, bar(t1, 100, 104, 96, 100))
	wantFill(t, b, stopLoss.Ref, domain.OrderStatusAccepted, "")
	wantFill(t, b, breakout.Ref, domain.OrderStatusAccepted, "")

	feed(t, ex, bar(t1.Add(time.Minute), 100, 106, 94, 95))
	wantFill(t, b, stopLoss.Ref, domain.OrderStatusCompleted, "95")
	wantFill(t, b, breakout.Ref, domain.OrderStatusCompleted, "105")
}

func TestStopLimitOrder(t *testing.T) {
	b, ex := setup(t, broker.Config{}, broker.Options{})
	o := place(t, b, domain.OrderSideBuy, broker.OrderRequest{
		Type:       domain.OrderTypeStopLimit,
		Price:      ptr("105"),
		PriceLimit: ptr("104"),
	})

	// Triggers at 105 but the limit leg needs 104 or lower.
	t1 := t0.Add(time.Minute)
	feed(t, ex, bar(t1, 103, 106, 104.5, 105.5))
	wantFill(t, b, o.Ref, domain.OrderStatusAccepted, "")

	// Stays armed without a new trigger.
	feed(t, ex, bar(t1.Add(time.Minute), 104.5, 105, 103, 103.5))
	wantFill(t, b, o.Ref, domain.OrderStatusCompleted, "104")
}

func TestCloseOrderEndOfSessionBar(t *testing.T) {
	b, ex := setup(t, broker.Config{EOSBar: true}, broker.Options{})
	o := place(t, b, domain.OrderSideBuy, broker.OrderRequest{Type: domain.OrderTypeClose})

	sessionEnd := time.Date(2024, 3, 1, 21, 0, 0, 0, time.UTC)
	feed(t, ex, bar(sessionEnd.Add(-time.Hour), 100, 101, 99, 100))
	wantFill(t, b, o.Ref, domain.OrderStatusAccepted, "")

	feed(t, ex, bar(sessionEnd, 100, 103, 99, 102))
	wantFill(t, b, o.Ref, domain.OrderStatusCompleted, "102")
}

func TestCloseOrderUsesPreviousBar(t *testing.T) {
	b, ex := setup(t, broker.Config{}, broker.Options{})
	o := place(t, b, domain.OrderSideBuy, broker.OrderRequest{Type: domain.OrderTypeClose})

	sessionEnd := time.Date(2024, 3, 1, 21, 0, 0, 0, time.UTC)
	feed(t, ex,
		bar(sessionEnd.Add(-time.Hour), 100, 101, 99, 100),
		bar(sessionEnd.Add(-time.Minute), 100, 101, 99, 100.25),
	)
	wantFill(t, b, o.Ref, domain.OrderStatusAccepted, "")

	feed(t, ex, bar(sessionEnd.Add(65*time.Hour+30*time.Minute), 110, 111, 109, 110))
	wantFill(t, b, o.Ref, domain.OrderStatusCompleted, "100.25")
}

func TestValidUntilExpires(t *testing.T) {
	b, ex := setup(t, broker.Config{}, broker.Options{})
	o := place(t, b, domain.OrderSideBuy, broker.OrderRequest{
		Type:       domain.OrderTypeLimit,
		Price:      ptr("50"),
		ValidUntil: t0.Add(time.Hour),
	})

	feed(t, ex, bar(t0.Add(30*time.Minute), 100, 101, 99, 100))
	wantFill(t, b, o.Ref, domain.OrderStatusAccepted, "")

	feed(t, ex, bar(t0.Add(2*time.Hour), 40, 41, 39, 40))
	wantFill(t, b, o.Ref, domain.OrderStatusExpired, "")
	if ex.Working() != 0 {
		t.Errorf("Working() = %d, want 0", ex.Working())
	}
	if !b.Position("AAPL").IsFlat() {
		t.Errorf("expired order changed the position")
	}
}

func TestCancelRemovesWorkingOrder(t *testing.T) {
	b, ex := setup(t, broker.Config{}, broker.Options{})
	o := place(t, b, domain.OrderSideBuy, broker.OrderRequest{})
	if _, err := b.Cancel(o.Ref); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if ex.Working() != 0 {
		t.Fatalf("Working() = %d, want 0", ex.Working())
	}
	feed(t, ex, bar(t0.Add(time.Minute), 100, 101, 99, 100))
	wantFill(t, b, o.Ref, domain.OrderStatusCancelled, "")
}

func TestPartialFillStaysWorking(t *testing.T) {
	b, ex := setup(t, broker.Config{}, broker.Options{Filler: broker.FixedSize{Size: dec("4")}})
	o := place(t, b, domain.OrderSideBuy, broker.OrderRequest{})

	t1 := t0.Add(time.Minute)
	feed(t, ex, bar(t1, 100, 101, 99, 100))
	wantFill(t, b, o.Ref, domain.OrderStatusPartial, "100")
	if ex.Working() != 1 {
		t.Fatalf("Working() = %d, want 1", ex.Working())
	}

	feed(t, ex, bar(t1.Add(time.Minute), 102, 103, 101, 102), bar(t1.Add(2*time.Minute), 104, 105, 103, 104))
	wantFill(t, b, o.Ref, domain.OrderStatusCompleted, "")
	if !b.Position("AAPL").Size.Equal(dec("10")) {
		t.Errorf("position = %s, want 10", b.Position("AAPL").Size)
	}
	// 4@100 + 4@102 + 2@104
	if !b.Cash().Equal(dec("98984")) {
		t.Errorf("Cash() = %s, want 98984", b.Cash())
	}
}

func TestCheckSubmitWaitsForStep(t *testing.T) {
	b, ex := setup(t, broker.Config{CheckSubmit: true}, broker.Options{})
	o := place(t, b, domain.OrderSideBuy, broker.OrderRequest{})

	feed(t, ex, bar(t0.Add(time.Minute), 100, 101, 99, 100))
	wantFill(t, b, o.Ref, domain.OrderStatusSubmitted, "")

	b.AdvanceStep(t0.Add(2 * time.Minute))
	feed(t, ex, bar(t0.Add(2*time.Minute), 101, 102, 100, 101))
	wantFill(t, b, o.Ref, domain.OrderStatusCompleted, "101")
}

func TestOnBarBeforeStart(t *testing.T) {
	ex := NewLocal(nil, false, nil)
	if err := ex.OnBar(bar(t0, 1, 1, 1, 1)); err == nil {
		t.Error("OnBar before Start returned nil error")
	}
	if err := ex.Start(nil); err == nil {
		t.Error("Start(nil) returned nil error")
	}
	if err := ex.PlaceOrder(&domain.Order{}); err == nil {
		t.Error("PlaceOrder before Start returned nil error")
	}
}

// recordingFiller keeps every context it is asked about and fills in full.
type recordingFiller struct {
	seen []broker.FillContext
}

func (f *recordingFiller) FillSize(fc broker.FillContext) decimal.Decimal {
	f.seen = append(f.seen, fc)
	return fc.Order.Remaining()
}

func TestCloseOrderFillContext(t *testing.T) {
	sessionEnd := time.Date(2024, 3, 1, 21, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		eosBar  bool
		bars    []domain.Bar
		wantAgo int
		wantBar time.Time
		price   string
	}{
		{
			name:   "previous bar",
			eosBar: false,
			bars: []domain.Bar{
				bar(sessionEnd.Add(-time.Hour), 100, 101, 99, 100),
				bar(sessionEnd.Add(-time.Minute), 100, 101, 99, 100.25),
				bar(sessionEnd.Add(65*time.Hour+30*time.Minute), 110, 111, 109, 110),
			},
			wantAgo: -1,
			wantBar: sessionEnd.Add(-time.Minute),
			price:   "100.25",
		},
		{
			name:   "end of session bar",
			eosBar: true,
			bars: []domain.Bar{
				bar(sessionEnd.Add(-time.Hour), 100, 101, 99, 100),
				bar(sessionEnd, 100, 103, 99, 102),
			},
			wantAgo: 0,
			wantBar: sessionEnd,
			price:   "102",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filler := &recordingFiller{}
			b, ex := setup(t, broker.Config{EOSBar: tt.eosBar}, broker.Options{Filler: filler})
			o := place(t, b, domain.OrderSideBuy, broker.OrderRequest{Type: domain.OrderTypeClose})

			feed(t, ex, tt.bars...)
			wantFill(t, b, o.Ref, domain.OrderStatusCompleted, tt.price)

			if len(filler.seen) != 1 {
				t.Fatalf("filler consulted %d times, want 1", len(filler.seen))
			}
			fc := filler.seen[0]
			if fc.Ago != tt.wantAgo {
				t.Errorf("Ago = %d, want %d", fc.Ago, tt.wantAgo)
			}
			if !fc.Bar.Timestamp.Equal(tt.wantBar) {
				t.Errorf("Bar.Timestamp = %s, want %s", fc.Bar.Timestamp, tt.wantBar)
			}
			if !fc.Price.Equal(dec(tt.price)) {
				t.Errorf("Price = %s, want %s", fc.Price, tt.price)
			}
			if fc.Order.Ref != o.Ref {
				t.Errorf("Order.Ref = %d, want %d", fc.Order.Ref, o.Ref)
			}
		})
	}
}
