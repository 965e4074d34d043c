package card

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/cardledger/internal/ledger"
)

// Handler exposes card HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a card HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRequest struct {
	CardholderName string          `json:"cardholder_name"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
}

type amountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type cardResponse struct {
	ID             string          `json:"id"`
	CardholderName string          `json:"cardholder_name"`
	Balance        decimal.Decimal `json:"balance"`
	CreatedAt      time.Time       `json:"created_at"`
}

type transactionResponse struct {
	ID        string          `json:"id"`
	CardID    string          `json:"card_id"`
	Type      string          `json:"type"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
}

type reconciliationResponse struct {
	CardID     string          `json:"card_id"`
	Initial    decimal.Decimal `json:"initial_balance"`
	Expected   decimal.Decimal `json:"expected_balance"`
	Actual     decimal.Decimal `json:"actual_balance"`
	Drift      decimal.Decimal `json:"drift"`
	Entries    int             `json:"entries"`
	Consistent bool            `json:"consistent"`
}

// Create issues a new card.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	card, err := h.service.Create(c.UserContext(), CreateInput{
		CardholderName: req.CardholderName,
		InitialBalance: req.InitialBalance,
	})
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(http.StatusCreated).JSON(toCardResponse(card))
}

// Get returns a single card.
func (h *Handler) Get(c *fiber.Ctx) error {
	id, err := cardID(c)
	if err != nil {
		return err
	}
	card, err := h.service.Get(c.UserContext(), id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(http.StatusOK).JSON(toCardResponse(card))
}

// List returns every card.
func (h *Handler) List(c *fiber.Ctx) error {
	cards, err := h.service.List(c.UserContext())
	if err != nil {
		return toHTTPError(err)
	}
	out := make([]cardResponse, 0, len(cards))
	for _, card := range cards {
		out = append(out, toCardResponse(card))
	}
	return c.Status(http.StatusOK).JSON(out)
}

// Spend debits the card.
func (h *Handler) Spend(c *fiber.Ctx) error {
	id, err := cardID(c)
	if err != nil {
		return err
	}
	var req amountRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	card, err := h.service.Spend(c.UserContext(), id, req.Amount)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(http.StatusOK).JSON(toCardResponse(card))
}

// TopUp credits the card.
func (h *Handler) TopUp(c *fiber.Ctx) error {
	id, err := cardID(c)
	if err != nil {
		return err
	}
	var req amountRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	card, err := h.service.TopUp(c.UserContext(), id, req.Amount)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(http.StatusOK).JSON(toCardResponse(card))
}

// Transactions returns the card's ledger.
func (h *Handler) Transactions(c *fiber.Ctx) error {
	id, err := cardID(c)
	if err != nil {
		return err
	}
	txs, err := h.service.Transactions(c.UserContext(), id)
	if err != nil {
		return toHTTPError(err)
	}
	out := make([]transactionResponse, 0, len(txs))
	for _, tx := range txs {
		out = append(out, toTransactionResponse(tx))
	}
	return c.Status(http.StatusOK).JSON(out)
}

// Reconcile reports whether the card's balance matches its ledger.
func (h *Handler) Reconcile(c *fiber.Ctx) error {
	id, err := cardID(c)
	if err != nil {
		return err
	}
	rec, err := h.service.Reconcile(c.UserContext(), id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(http.StatusOK).JSON(reconciliationResponse{
		CardID:     rec.CardID.String(),
		Initial:    rec.Initial,
		Expected:   rec.Expected,
		Actual:     rec.Actual,
		Drift:      rec.Drift,
		Entries:    rec.Entries,
		Consistent: rec.Consistent,
	})
}

func cardID(c *fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, fiber.NewError(http.StatusBadRequest, "invalid card id")
	}
	return id, nil
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, ErrConcurrencyExhausted):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrCardNotFound):
		return fiber.NewError(http.StatusNotFound, "card not found")
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidCardholder), errors.Is(err, ErrInsufficientBalance):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, "internal error")
	}
}

func toCardResponse(card Card) cardResponse {
	return cardResponse{
		ID:             card.ID.String(),
		CardholderName: card.CardholderName,
		Balance:        card.Balance,
		CreatedAt:      card.CreatedAt,
	}
}

func toTransactionResponse(tx ledger.Transaction) transactionResponse {
	return transactionResponse{
		ID:        tx.ID.String(),
		CardID:    tx.CardID.String(),
		Type:      string(tx.Type),
		Amount:    tx.Amount,
		CreatedAt: tx.CreatedAt,
	}
}
