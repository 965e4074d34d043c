package card

import (
    "context"
    "errors"
    "fmt"
    "log/slog"
    "strings"
    "time"

    "github.com/google/uuid"
    "github.com/shopspring/decimal"

    "github.com/congo-pay/cardledger/internal/ledger"
    "github.com/congo-pay/cardledger/internal/logging"
    "github.com/congo-pay/cardledger/internal/notification"
)

// Service is the balance mutation engine. It is safe for concurrent use; the
// store's compare-and-swap is the only serialization point between callers.
type Service struct {
    cards    Repository
    ledger   ledger.Ledger
    tx       Transactor
    backoff  Backoff
    notifier notification.Notifier
    logger   *slog.Logger
}

// Option customises a Service.
type Option func(*Service)

// WithTransactor sets how attempts are committed. Defaults to a sequential
// transactor over the service's repository and ledger.
func WithTransactor(t Transactor) Option {
    return func(s *Service) { s.tx = t }
}

// WithBackoff overrides the retry policy.
func WithBackoff(b Backoff) Option {
    return func(s *Service) { s.backoff = b }
}

// WithNotifier sets the notifier used for committed mutations and
// reconciliation flags.
func WithNotifier(n notification.Notifier) Option {
    return func(s *Service) { s.notifier = n }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
    return func(s *Service) { s.logger = l }
}

// NewService builds the card service.
func NewService(cards Repository, entries ledger.Ledger, opts ...Option) *Service {
    s := &Service{
        cards:   cards,
        ledger:  entries,
        backoff: DefaultBackoff(),
        logger:  logging.Discard(),
    }
    for _, opt := range opts {
        opt(s)
    }
    if s.tx == nil {
        s.tx = NewSequentialTransactor(cards, entries)
    }
    s.backoff = s.backoff.withDefaults()
    return s
}

// CreateInput captures data required to issue a card.
type CreateInput struct {
    CardholderName string
    InitialBalance decimal.Decimal
}

// Create issues a card with an opening balance.
func (s *Service) Create(ctx context.Context, input CreateInput) (Card, error) {
    name := strings.TrimSpace(input.CardholderName)
    if name == "" {
        return Card{}, ErrInvalidCardholder
    }
    if input.InitialBalance.IsNegative() {
        return Card{}, fmt.Errorf("%w: initial balance cannot be negative", ErrInvalidAmount)
    }

    card := Card{
        ID:             uuid.New(),
        CardholderName: name,
        Balance:        input.InitialBalance,
        InitialBalance: input.InitialBalance,
        CreatedAt:      time.Now().UTC(),
    }
    created, err := s.cards.Create(ctx, card)
    if err != nil {
        return Card{}, fmt.Errorf("create card: %w", err)
    }
    return created, nil
}

// Get retrieves a card.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Card, error) {
    return s.cards.Get(ctx, id)
}

// List returns all cards.
func (s *Service) List(ctx context.Context) ([]Card, error) {
    return s.cards.List(ctx)
}

// Transactions returns the ledger of an existing card in creation order.
func (s *Service) Transactions(ctx context.Context, id uuid.UUID) ([]ledger.Transaction, error) {
    if _, err := s.cards.Get(ctx, id); err != nil {
        return nil, err
    }
    return s.ledger.ByCard(ctx, id)
}

// Reconcile folds the card's ledger onto its opening balance and compares the
// result with the stored balance.
func (s *Service) Reconcile(ctx context.Context, id uuid.UUID) (Reconciliation, error) {
    card, err := s.cards.Get(ctx, id)
    if err != nil {
        return Reconciliation{}, err
    }
    txs, err := s.ledger.ByCard(ctx, id)
    if err != nil {
        return Reconciliation{}, err
    }
    expected := ledger.Fold(card.InitialBalance, txs)
    drift := card.Balance.Sub(expected)
    return Reconciliation{
        CardID:     id,
        Initial:    card.InitialBalance,
        Expected:   expected,
        Actual:     card.Balance,
        Drift:      drift,
        Entries:    len(txs),
        Consistent: drift.IsZero(),
    }, nil
}

type mutation struct {
    op    string
    typ   ledger.Type
    kind  string
    apply func(card Card, amount decimal.Decimal) (decimal.Decimal, error)
}

var (
    spendMutation = mutation{
        op:   "spend",
        typ:  ledger.TypeSpend,
        kind: notification.KindCardSpend,
        apply: func(card Card, amount decimal.Decimal) (decimal.Decimal, error) {
            if card.Balance.LessThan(amount) {
                return decimal.Decimal{}, &InsufficientBalanceError{CardID: card.ID, Available: card.Balance, Requested: amount}
            }
            return card.Balance.Sub(amount), nil
        },
    }
    topUpMutation = mutation{
        op:   "top-up",
        typ:  ledger.TypeTopUp,
        kind: notification.KindCardTopUp,
        apply: func(card Card, amount decimal.Decimal) (decimal.Decimal, error) {
            return card.Balance.Add(amount), nil
        },
    }
)

// Spend debits amount from the card. It fails with ErrInsufficientBalance when
// the balance read by the attempt is lower than amount.
func (s *Service) Spend(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (Card, error) {
    return s.mutate(ctx, id, amount, spendMutation)
}

// TopUp credits amount to the card.
func (s *Service) TopUp(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (Card, error) {
    return s.mutate(ctx, id, amount, topUpMutation)
}

func (s *Service) mutate(ctx context.Context, id uuid.UUID, amount decimal.Decimal, m mutation) (Card, error) {
    if !amount.IsPositive() {
        return Card{}, fmt.Errorf("%w: %s amount must be a positive number greater than zero", ErrInvalidAmount, m.op)
    }

    // Attempts run to completion even if the caller goes away; cancellation
    // is only observed between attempts.
    attemptCtx := context.WithoutCancel(ctx)

    var lastConflict error
    for attempt := 1; attempt <= s.backoff.MaxAttempts; attempt++ {
        card, err := s.attempt(attemptCtx, id, amount, m)
        if err == nil {
            s.notify(attemptCtx, m, card, amount)
            return card, nil
        }
        if !errors.Is(err, ErrVersionConflict) {
            return Card{}, err
        }

        lastConflict = err
        s.logger.Debug("card version conflict",
            slog.String("card_id", id.String()),
            slog.String("op", m.op),
            slog.Int("attempt", attempt),
        )
        if attempt == s.backoff.MaxAttempts {
            break
        }
        if err := s.backoff.Wait(ctx, attempt); err != nil {
            return Card{}, fmt.Errorf("%w: %s on card %s: %w", ErrInterrupted, m.op, id, err)
        }
    }

    s.logger.Warn("card mutation retries exhausted",
        slog.String("card_id", id.String()),
        slog.String("op", m.op),
        slog.Int("attempts", s.backoff.MaxAttempts),
    )
    return Card{}, &ConcurrencyExhaustedError{CardID: id, Op: m.op, Attempts: s.backoff.MaxAttempts, Last: lastConflict}
}

// attempt is one load, check, versioned write and ledger append.
func (s *Service) attempt(ctx context.Context, id uuid.UUID, amount decimal.Decimal, m mutation) (Card, error) {
    var (
        updated  Card
        orphaned *Card
    )
    err := s.tx.WithinTx(ctx, func(ctx context.Context, cards Repository, entries ledger.Ledger) error {
        current, err := cards.Get(ctx, id)
        if err != nil {
            return err
        }
        next, err := m.apply(current, amount)
        if err != nil {
            return err
        }
        written, err := cards.CompareAndSwap(ctx, id, current.Version, next)
        if err != nil {
            return err
        }
        if _, err := entries.Insert(ctx, ledger.NewTransaction(id, m.typ, amount)); err != nil {
            orphaned = &written
            return fmt.Errorf("%w: %w", ErrLedgerAppend, err)
        }
        updated = written
        return nil
    })
    if err != nil {
        if errors.Is(err, ErrLedgerAppend) {
            s.reportLedgerFailure(ctx, m, id, amount, orphaned, err)
        }
        return Card{}, err
    }
    return updated, nil
}

func (s *Service) reportLedgerFailure(ctx context.Context, m mutation, id uuid.UUID, amount decimal.Decimal, written *Card, err error) {
    if Atomic(s.tx) || written == nil {
        s.logger.Error("ledger append failed, balance write rolled back",
            slog.String("card_id", id.String()),
            slog.String("op", m.op),
            slog.Any("error", err),
        )
        return
    }
    s.logger.Error("ledger append failed after committed balance write",
        slog.String("card_id", id.String()),
        slog.String("op", m.op),
        slog.String("amount", amount.String()),
        slog.Int64("version", written.Version),
        slog.String("balance", written.Balance.String()),
        slog.Any("error", err),
    )
    if s.notifier != nil {
        if nerr := s.notifier.Send(ctx, notification.Message{
            Kind:        notification.KindReconciliationRequired,
            Destination: id.String(),
            Body:        fmt.Sprintf("%s of %s committed at version %d without a ledger entry", m.op, amount, written.Version),
        }); nerr != nil {
            s.logger.Warn("reconciliation notification failed", slog.String("card_id", id.String()), slog.Any("error", nerr))
        }
    }
}

func (s *Service) notify(ctx context.Context, m mutation, card Card, amount decimal.Decimal) {
    if s.notifier == nil {
        return
    }
    _ = s.notifier.Send(ctx, notification.Message{
        Kind:        m.kind,
        Destination: card.ID.String(),
        Body:        fmt.Sprintf("%s of %s, balance %s", m.op, amount, card.Balance),
    })
}
