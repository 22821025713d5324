package broker

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"simbroker/internal/domain"
)

// Compile-time interface checks.
var _ Broker = (*SimulatorBroker)(nil)
var _ Callbacks = (*SimulatorBroker)(nil)

// Config is the broker's own configuration surface.
type Config struct {
	StartingCash decimal.Decimal
	// CheckSubmit parks submitted orders until the next step runs the
	// SubmitChecker on them.
	CheckSubmit bool
	// EOSBar treats an intraday bar stamped at the session end as the
	// closing bar. Read by placers that execute close orders.
	EOSBar bool
}

// Options carries the injected collaborators. Only Placer is required for
// placing orders; everything else has a neutral default.
type Options struct {
	Placer     Placer
	Commission CommissionScheme
	Filler     Filler
	Checker    SubmitChecker
	Prices     PriceSource

	// Trade journal, chosen in this order: JournalPath (CSV file owned by
	// the broker), JournalWriter (open stream, left open), Journal.
	JournalPath   string
	JournalWriter io.Writer
	Journal       Journal

	Logger *slog.Logger
}

// SimulatorBroker is the in-memory broker used for backtesting. It is not
// safe for concurrent use; the engine drives it from a single goroutine.
type SimulatorBroker struct {
	cfg  Config
	opts Options
	log  *slog.Logger

	orders    *registry
	positions *ledger
	account   *Accountant
	notifs    notifyQueue
	submitted []uint64

	journal Journal
	started bool
	step    int
	now     time.Time
}

// NewSimulatorBroker creates a broker holding cfg.StartingCash.
func NewSimulatorBroker(cfg Config, opts Options) *SimulatorBroker {
	if opts.Commission == nil {
		opts.Commission = NoCommission{}
	}
	if opts.Prices == nil {
		if ps, ok := opts.Placer.(PriceSource); ok {
			opts.Prices = ps
		}
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &SimulatorBroker{
		cfg:       cfg,
		opts:      opts,
		log:       log.With("component", "broker"),
		orders:    newRegistry(),
		positions: newLedger(),
		account:   NewAccountant(cfg.StartingCash),
		journal:   nopJournal{},
	}
}

// Name returns "simulator".
func (b *SimulatorBroker) Name() string {
	return "simulator"
}

// Config returns the broker configuration.
func (b *SimulatorBroker) Config() Config { return b.cfg }

// ---------------------------------------------------------------------------
// Session lifecycle
// ---------------------------------------------------------------------------

// Start opens the configured journal and starts the placer with the broker
// as its callback target.
func (b *SimulatorBroker) Start() error {
	if b.started {
		return nil
	}
	switch {
	case b.opts.JournalPath != "":
		j, err := OpenCSVJournal(b.opts.JournalPath)
		if err != nil {
			return err
		}
		b.journal = j
	case b.opts.JournalWriter != nil:
		b.journal = NewCSVJournal(b.opts.JournalWriter, true)
	case b.opts.Journal != nil:
		b.journal = b.opts.Journal
	}
	if b.opts.Placer != nil {
		if err := b.opts.Placer.Start(b); err != nil {
			b.journal.Close()
			b.journal = nopJournal{}
			return fmt.Errorf("starting placer: %w", err)
		}
	}
	b.started = true
	b.log.Info("broker started", "cash", b.account.Cash().String(), "check_submit", b.cfg.CheckSubmit)
	return nil
}

// Stop stops the placer and closes the journal.
func (b *SimulatorBroker) Stop() error {
	if !b.started {
		return nil
	}
	b.started = false
	var errs []error
	if b.opts.Placer != nil {
		errs = append(errs, b.opts.Placer.Stop())
	}
	errs = append(errs, b.journal.Close())
	b.journal = nopJournal{}
	b.log.Info("broker stopped", "cash", b.account.Cash().String(), "orders", b.orders.len())
	return errors.Join(errs...)
}

// AdvanceStep pushes the step boundary and then decides on the orders
// parked by check-before-submit.
func (b *SimulatorBroker) AdvanceStep(at time.Time) {
	b.step++
	b.now = at
	b.notifs.boundary(b.step)
	b.checkSubmitted()
}

// Step returns the number of steps advanced so far.
func (b *SimulatorBroker) Step() int { return b.step }

// Now returns the time of the current step.
func (b *SimulatorBroker) Now() time.Time { return b.now }

// ---------------------------------------------------------------------------
// Order entry
// ---------------------------------------------------------------------------

// Buy creates a buy order and hands it to the placer.
func (b *SimulatorBroker) Buy(req OrderRequest) (*domain.Order, error) {
	return b.create(domain.OrderSideBuy, req)
}

// Sell creates a sell order and hands it to the placer.
func (b *SimulatorBroker) Sell(req OrderRequest) (*domain.Order, error) {
	return b.create(domain.OrderSideSell, req)
}

func (b *SimulatorBroker) create(side domain.OrderSide, req OrderRequest) (*domain.Order, error) {
	if req.Type == "" {
		req.Type = domain.OrderTypeMarket
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if !b.started || b.opts.Placer == nil {
		return nil, ErrNotStarted
	}

	o := &domain.Order{
		Symbol:     req.Symbol,
		Side:       side,
		Type:       req.Type,
		Size:       req.Size,
		Price:      req.Price,
		PriceLimit: req.PriceLimit,
		ValidUntil: req.ValidUntil,
		TradeID:    req.TradeID,
		Info:       req.Info,
		Status:     domain.OrderStatusCreated,
		CreatedAt:  b.now,
		UpdatedAt:  b.now,
	}
	o = o.Clone() // detach caller-owned pointers and maps
	b.orders.register(o)
	b.positions.get(o.Symbol)

	b.log.Debug("order created", "ref", o.Ref, "symbol", o.Symbol, "side", side, "type", o.Type, "size", o.Size.String())

	if err := b.opts.Placer.PlaceOrder(o.Clone()); err != nil {
		if o.SetStatus(domain.OrderStatusRejected, b.now) {
			o.RejectReason = err.Error()
			b.notify(o)
		}
		return o.Clone(), fmt.Errorf("placing order %d: %w", o.Ref, err)
	}
	return o.Clone(), nil
}

func validateRequest(req OrderRequest) error {
	if req.Symbol == "" {
		return fmt.Errorf("%w: empty symbol", ErrInvalidOrderSpec)
	}
	if !req.Size.IsPositive() {
		return fmt.Errorf("%w: size must be positive, got %s", ErrInvalidOrderSpec, req.Size)
	}
	if !req.Type.Valid() {
		return fmt.Errorf("%w: unknown order type %q", ErrInvalidOrderSpec, req.Type)
	}
	if req.Type.NeedsPrice() && (req.Price == nil || !req.Price.IsPositive()) {
		return fmt.Errorf("%w: %s order requires a positive price", ErrInvalidOrderSpec, req.Type)
	}
	if req.Type == domain.OrderTypeStopLimit && (req.PriceLimit == nil || !req.PriceLimit.IsPositive()) {
		return fmt.Errorf("%w: stop_limit order requires a positive limit price", ErrInvalidOrderSpec)
	}
	return nil
}

// Cancel asks the placer to cancel an order. Terminal orders are left alone
// and reported with true.
func (b *SimulatorBroker) Cancel(ref uint64) (bool, error) {
	o, err := b.orders.get(ref)
	if err != nil {
		return false, err
	}
	if o.Status.IsTerminal() {
		return true, nil
	}
	if b.opts.Placer == nil {
		return false, ErrNotStarted
	}
	return false, b.opts.Placer.CancelOrder(ref)
}

// OrderStatus returns the status of a registered order.
func (b *SimulatorBroker) OrderStatus(ref uint64) (domain.OrderStatus, error) {
	o, err := b.orders.get(ref)
	if err != nil {
		return "", err
	}
	return o.Status, nil
}

// Order returns a snapshot of a registered order.
func (b *SimulatorBroker) Order(ref uint64) (*domain.Order, error) {
	o, err := b.orders.get(ref)
	if err != nil {
		return nil, err
	}
	return o.Clone(), nil
}

// OpenOrders returns snapshots of all non-terminal orders.
func (b *SimulatorBroker) OpenOrders() []*domain.Order {
	alive := b.orders.alive()
	out := make([]*domain.Order, len(alive))
	for i, o := range alive {
		out[i] = o.Clone()
	}
	return out
}

// ---------------------------------------------------------------------------
// Lifecycle callbacks
// ---------------------------------------------------------------------------

// Submit applies the submission policy to a created order.
func (b *SimulatorBroker) Submit(ref uint64) (uint64, error) {
	if b.cfg.CheckSubmit {
		if _, err := b.transition(ref, domain.OrderStatusSubmitted); err != nil {
			return 0, err
		}
		b.submitted = append(b.submitted, ref)
		return ref, nil
	}

	o, err := b.orders.get(ref)
	if err != nil {
		return 0, err
	}
	if !o.Status.CanTransitionTo(domain.OrderStatusSubmitted) {
		return 0, b.refuse(o, domain.OrderStatusSubmitted)
	}
	o.SetStatus(domain.OrderStatusSubmitted, b.now)
	o.SetStatus(domain.OrderStatusAccepted, b.now)
	b.notify(o)
	return ref, nil
}

// OnSubmit marks the order submitted.
func (b *SimulatorBroker) OnSubmit(ref uint64) error {
	_, err := b.transition(ref, domain.OrderStatusSubmitted)
	return err
}

// OnAccept marks the order accepted.
func (b *SimulatorBroker) OnAccept(ref uint64) error {
	_, err := b.transition(ref, domain.OrderStatusAccepted)
	return err
}

// OnReject marks the order rejected, keeping reason on the order.
func (b *SimulatorBroker) OnReject(ref uint64, reason string) error {
	o, err := b.orders.get(ref)
	if err != nil {
		return err
	}
	if !o.SetStatus(domain.OrderStatusRejected, b.now) {
		return b.refuse(o, domain.OrderStatusRejected)
	}
	o.RejectReason = reason
	b.log.Info("order rejected", "ref", ref, "symbol", o.Symbol, "reason", reason)
	b.notify(o)
	return nil
}

// OnCancel marks the order cancelled.
func (b *SimulatorBroker) OnCancel(ref uint64) error {
	_, err := b.transition(ref, domain.OrderStatusCancelled)
	return err
}

// OnExpire marks the order expired.
func (b *SimulatorBroker) OnExpire(ref uint64) error {
	_, err := b.transition(ref, domain.OrderStatusExpired)
	return err
}

// ExecutableSize returns how much of the order may execute at price on the
// given bar, after the filler policy and clamped to the remaining size.
func (b *SimulatorBroker) ExecutableSize(ref uint64, price decimal.Decimal, ago int, bar domain.Bar) (decimal.Decimal, error) {
	o, err := b.orders.get(ref)
	if err != nil {
		return decimal.Zero, err
	}
	remaining := o.Remaining()
	if b.opts.Filler == nil {
		return remaining, nil
	}
	size := b.opts.Filler.FillSize(FillContext{Order: o.Clone(), Price: price, Ago: ago, Bar: bar})
	return clampFill(size, remaining), nil
}

func (b *SimulatorBroker) transition(ref uint64, next domain.OrderStatus) (*domain.Order, error) {
	o, err := b.orders.get(ref)
	if err != nil {
		return nil, err
	}
	prev := o.Status
	if !o.SetStatus(next, b.now) {
		return nil, b.refuse(o, next)
	}
	b.log.Debug("order transition", "ref", ref, "from", prev, "to", next)
	b.notify(o)
	return o, nil
}

// refuse reports a transition the lifecycle forbids. The order keeps its
// state and one snapshot of it is still queued.
func (b *SimulatorBroker) refuse(o *domain.Order, next domain.OrderStatus) error {
	b.log.Debug("order transition refused", "ref", o.Ref, "status", o.Status, "to", next)
	b.notify(o)
	return fmt.Errorf("order %d %s -> %s: %w", o.Ref, o.Status, next, ErrInvalidTransition)
}

// checkSubmitted runs the submit checker over the parked orders in arrival
// order. Cash committed by accepted orders is not available to later ones.
func (b *SimulatorBroker) checkSubmitted() {
	if len(b.submitted) == 0 {
		return
	}
	pending := b.submitted
	b.submitted = nil

	acct := b.accountView()
	for _, ref := range pending {
		o, err := b.orders.get(ref)
		if err != nil || o.Status != domain.OrderStatusSubmitted {
			continue // cancelled or expired while parked
		}
		if b.opts.Checker != nil {
			committed, err := b.opts.Checker.CheckOrder(o.Clone(), acct)
			if err != nil {
				b.OnReject(ref, err.Error())
				continue
			}
			acct.Cash = acct.Cash.Sub(committed)
		}
		b.transition(ref, domain.OrderStatusAccepted)
	}
}

// notify queues a snapshot of o.
func (b *SimulatorBroker) notify(o *domain.Order) {
	b.notifs.push(o)
}

// GetNotification pops the oldest pending notification. An empty queue
// yields false and has no side effects.
func (b *SimulatorBroker) GetNotification() (domain.Notification, bool) {
	return b.notifs.pop()
}

// PendingNotifications returns the queue length.
func (b *SimulatorBroker) PendingNotifications() int { return b.notifs.len() }

// ---------------------------------------------------------------------------
// Cash, positions and value
// ---------------------------------------------------------------------------

// Cash returns the current cash.
func (b *SimulatorBroker) Cash() decimal.Decimal { return b.account.Cash() }

// StartingCash returns the cash the session started with.
func (b *SimulatorBroker) StartingCash() decimal.Decimal { return b.account.StartingCash() }

// SetCash resets starting and current cash. Call it before the session.
func (b *SimulatorBroker) SetCash(amount decimal.Decimal) {
	b.account.SetCash(amount)
	b.cfg.StartingCash = amount
}

// Position returns the position in symbol, creating a flat one on first
// reference.
func (b *SimulatorBroker) Position(symbol string) domain.Position {
	return b.positions.get(symbol)
}

// Positions returns all tracked positions keyed by symbol.
func (b *SimulatorBroker) Positions() map[string]domain.Position {
	return b.positions.snapshot()
}

// Value returns cash plus the value of all positions when called without
// symbols, or the value of just the named positions otherwise. Positions are
// marked at the PriceSource price, falling back to their average price.
func (b *SimulatorBroker) Value(symbols ...string) decimal.Decimal {
	if len(symbols) == 0 {
		return b.account.Cash().Add(b.positionsValue(b.positions.symbols()))
	}
	return b.positionsValue(symbols)
}

func (b *SimulatorBroker) positionsValue(symbols []string) decimal.Decimal {
	total := decimal.Zero
	for _, s := range symbols {
		p, ok := b.positions.lookup(s)
		if !ok || p.IsFlat() {
			continue
		}
		price := p.Price
		if b.opts.Prices != nil {
			if last, ok := b.opts.Prices.LastPrice(s); ok {
				price = last
			}
		}
		total = total.Add(p.Size.Mul(price))
	}
	return total
}

func (b *SimulatorBroker) accountView() Account {
	return Account{
		Cash:      b.account.Cash(),
		Value:     b.Value(),
		Positions: b.positions.snapshot(),
		Prices:    b.opts.Prices,
	}
}
