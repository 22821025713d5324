package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestPositionUpdate(t *testing.T) {
	tests := []struct {
		name                   string
		size, price            string
		fill, at               string
		wantSize, wantPrice    string
		wantOpened, wantClosed string
	}{
		{"open long", "0", "0", "10", "100", "10", "100", "10", "0"},
		{"open short", "0", "0", "-5", "50", "-5", "50", "-5", "0"},
		{"add long", "10", "100", "10", "110", "20", "105", "10", "0"},
		{"reduce long", "10", "100", "-4", "120", "6", "100", "0", "-4"},
		{"close long", "10", "100", "-10", "90", "0", "0", "0", "-10"},
		{"reverse long", "10", "100", "-15", "110", "-5", "110", "-5", "-10"},
		{"reverse short", "-3", "20", "5", "18", "2", "18", "2", "3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Position{Symbol: "AAPL", Size: d(tt.size), Price: d(tt.price)}
			next, opened, closed := p.Update(d(tt.fill), d(tt.at))

			if !next.Size.Equal(d(tt.wantSize)) {
				t.Errorf("Size = %s, want %s", next.Size, tt.wantSize)
			}
			if !next.Price.Equal(d(tt.wantPrice)) {
				t.Errorf("Price = %s, want %s", next.Price, tt.wantPrice)
			}
			if !opened.Equal(d(tt.wantOpened)) {
				t.Errorf("opened = %s, want %s", opened, tt.wantOpened)
			}
			if !closed.Equal(d(tt.wantClosed)) {
				t.Errorf("closed = %s, want %s", closed, tt.wantClosed)
			}
			if !opened.Add(closed).Equal(d(tt.fill)) {
				t.Errorf("opened+closed = %s, want fill %s", opened.Add(closed), tt.fill)
			}
			if !p.Size.Equal(d(tt.size)) {
				t.Errorf("receiver modified: Size = %s", p.Size)
			}
		})
	}
}

func TestOrderStatusTransitions(t *testing.T) {
	terminal := []OrderStatus{OrderStatusCompleted, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired}
	all := append([]OrderStatus{OrderStatusCreated, OrderStatusSubmitted, OrderStatusAccepted, OrderStatusPartial}, terminal...)

	for _, from := range terminal {
		if !from.IsTerminal() {
			t.Errorf("%s.IsTerminal() = false, want true", from)
		}
		for _, to := range all {
			if from.CanTransitionTo(to) {
				t.Errorf("%s -> %s allowed, want terminal", from, to)
			}
		}
	}

	cases := []struct {
		from, to OrderStatus
		want     bool
	}{
		{OrderStatusCreated, OrderStatusSubmitted, true},
		{OrderStatusSubmitted, OrderStatusAccepted, true},
		{OrderStatusSubmitted, OrderStatusPartial, false},
		{OrderStatusAccepted, OrderStatusCompleted, true},
		{OrderStatusPartial, OrderStatusPartial, true},
		{OrderStatusAccepted, OrderStatusSubmitted, false},
	}
	for _, c := range cases {
		if got := c.from.CanTransitionTo(c.to); got != c.want {
			t.Errorf("%s.CanTransitionTo(%s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}

	if OrderStatusSubmitted.CanFill() {
		t.Error("submitted orders must not fill")
	}
	if !OrderStatusPartial.CanFill() {
		t.Error("partial orders must fill")
	}
}

func TestOrderExecute(t *testing.T) {
	at := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	o := &Order{Ref: 1, Symbol: "AAPL", Side: OrderSideSell, Size: d("10"), Status: OrderStatusAccepted}

	o.Execute(ExecutionBit{Time: at, Size: d("-4"), Price: d("100"), OpenedComm: d("1")})
	if o.Status != OrderStatusPartial {
		t.Fatalf("Status = %s, want %s", o.Status, OrderStatusPartial)
	}
	if !o.Remaining().Equal(d("6")) {
		t.Errorf("Remaining() = %s, want 6", o.Remaining())
	}

	o.Execute(ExecutionBit{Time: at.Add(time.Hour), Size: d("-6"), Price: d("110"), OpenedComm: d("2")})
	if o.Status != OrderStatusCompleted {
		t.Fatalf("Status = %s, want %s", o.Status, OrderStatusCompleted)
	}
	if !o.Executed.Price.Equal(d("106")) {
		t.Errorf("Executed.Price = %s, want 106", o.Executed.Price)
	}
	if !o.Executed.Commission.Equal(d("3")) {
		t.Errorf("Executed.Commission = %s, want 3", o.Executed.Commission)
	}
	if len(o.Executed.Bits) != 2 {
		t.Errorf("len(Bits) = %d, want 2", len(o.Executed.Bits))
	}
	if !o.SignedSize().Equal(d("-10")) {
		t.Errorf("SignedSize() = %s, want -10", o.SignedSize())
	}
}

func TestOrderClone(t *testing.T) {
	price := d("99")
	o := &Order{
		Ref:    7,
		Symbol: "MSFT",
		Side:   OrderSideBuy,
		Type:   OrderTypeLimit,
		Size:   d("5"),
		Price:  &price,
		Info:   map[string]string{"tag": "a"},
		Status: OrderStatusAccepted,
	}
	o.Execute(ExecutionBit{Size: d("1"), Price: d("99")})

	c := o.Clone()
	*c.Price = d("1")
	c.Info["tag"] = "b"
	c.Executed.Bits[0].Price = d("0")

	if !o.Price.Equal(d("99")) {
		t.Errorf("original Price = %s, want 99", o.Price)
	}
	if o.Info["tag"] != "a" {
		t.Errorf("original Info[tag] = %q, want %q", o.Info["tag"], "a")
	}
	if !o.Executed.Bits[0].Price.Equal(d("99")) {
		t.Errorf("original bit price = %s, want 99", o.Executed.Bits[0].Price)
	}
}

func TestOrderTypeNeedsPrice(t *testing.T) {
	for _, typ := range []OrderType{OrderTypeLimit, OrderTypeStop, OrderTypeStopLimit} {
		if !typ.NeedsPrice() {
			t.Errorf("%s.NeedsPrice() = false, want true", typ)
		}
	}
	for _, typ := range []OrderType{OrderTypeMarket, OrderTypeClose} {
		if typ.NeedsPrice() {
			t.Errorf("%s.NeedsPrice() = true, want false", typ)
		}
	}
	if OrderType("iceberg").Valid() {
		t.Error("unknown order type reported valid")
	}
}
