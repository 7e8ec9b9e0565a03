package handlers

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/hrvstr/datagate/internal/config"
	"github.com/hrvstr/datagate/internal/ledger"
	internalsettings "github.com/hrvstr/datagate/internal/settings"
	log "github.com/sirupsen/logrus"
)

// BillingHandler receives purchase notifications from the payment processor.
type BillingHandler struct {
	ledger    *ledger.Ledger
	snapshots config.Provider
}

// NewBillingHandler constructs a BillingHandler.
func NewBillingHandler(l *ledger.Ledger, snapshots config.Provider) *BillingHandler {
	return &BillingHandler{ledger: l, snapshots: snapshots}
}

// paymentRequest is the body of a payment notification.
type paymentRequest struct {
	UserID    uint64 `json:"user_id"`
	Credits   int64  `json:"credits"`
	Reference string `json:"reference"`
}

// Payment credits purchased credits. Notifications are idempotent on reference.
func (h *BillingHandler) Payment(c *gin.Context) {
	secret := ""
	if rt := h.snapshots.Current(); rt != nil {
		secret = rt.BillingSecret
	}
	if secret == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "billing disabled"})
		return
	}
	provided := strings.TrimSpace(c.GetHeader(internalsettings.BillingSecretHeader))
	if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid billing secret"})
		return
	}

	var body paymentRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.UserID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	reference := strings.TrimSpace(body.Reference)
	if reference == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reference is required"})
		return
	}

	txID, errPurchase := h.ledger.Purchase(c.Request.Context(), body.UserID, body.Credits, reference)
	if errPurchase != nil {
		switch {
		case errors.Is(errPurchase, ledger.ErrInvalidAmount):
			c.JSON(http.StatusBadRequest, gin.H{"error": "credits must be positive"})
		case errors.Is(errPurchase, ledger.ErrAccountNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		case errors.Is(errPurchase, ledger.ErrReferenceConflict):
			c.JSON(http.StatusConflict, gin.H{"error": "reference already used"})
		default:
			log.WithError(errPurchase).Error("billing handler: purchase failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "purchase failed"})
		}
		return
	}

	bal, errBalance := h.ledger.Balance(c.Request.Context(), body.UserID)
	if errBalance != nil {
		log.WithError(errBalance).Warn("billing handler: reload balance failed")
		c.JSON(http.StatusOK, gin.H{"transaction_id": txID})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction_id": txID, "balance": bal})
}
