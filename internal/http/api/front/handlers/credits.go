package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hrvstr/datagate/internal/ledger"
	log "github.com/sirupsen/logrus"
)

// CreditHandler exposes the caller's balance and ledger history.
type CreditHandler struct {
	ledger *ledger.Ledger
}

// NewCreditHandler constructs a CreditHandler.
func NewCreditHandler(l *ledger.Ledger) *CreditHandler {
	return &CreditHandler{ledger: l}
}

// Balance returns the caller's current balance.
func (h *CreditHandler) Balance(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	bal, errBalance := h.ledger.Balance(c.Request.Context(), userID)
	if errBalance != nil {
		if errors.Is(errBalance, ledger.ErrAccountNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		}
		log.WithError(errBalance).Error("credit handler: load balance failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load balance failed"})
		return
	}
	c.JSON(http.StatusOK, bal)
}

// transactionView is the wire form of a ledger transaction.
type transactionView struct {
	ID             uint64          `json:"id"`
	Action         string          `json:"action"`
	CreditsDelta   int64           `json:"credits_delta"`
	RemainingAfter int64           `json:"credits_remaining_after"`
	Reference      *string         `json:"reference,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Transactions lists the caller's newest ledger entries.
func (h *CreditHandler) Transactions(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, errParse := strconv.Atoi(raw)
		if errParse != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}
	rows, errList := h.ledger.Transactions(c.Request.Context(), userID, limit)
	if errList != nil {
		log.WithError(errList).Error("credit handler: list transactions failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list transactions failed"})
		return
	}
	out := make([]transactionView, 0, len(rows))
	for _, row := range rows {
		view := transactionView{
			ID:             row.ID,
			Action:         string(row.Action),
			CreditsDelta:   row.CreditsDelta,
			RemainingAfter: row.CreditsRemainingAfter,
			Reference:      row.Reference,
			CreatedAt:      row.CreatedAt,
		}
		if len(row.Metadata) > 0 {
			view.Metadata = json.RawMessage(row.Metadata)
		}
		out = append(out, view)
	}
	c.JSON(http.StatusOK, gin.H{"transactions": out})
}
