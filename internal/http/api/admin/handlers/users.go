package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/hrvstr/datagate/internal/ledger"
	"github.com/hrvstr/datagate/internal/tier"
	log "github.com/sirupsen/logrus"
)

// UserHandler manages metered accounts.
type UserHandler struct {
	ledger   *ledger.Ledger
	policies *tier.Table
}

// NewUserHandler constructs a UserHandler.
func NewUserHandler(l *ledger.Ledger, policies *tier.Table) *UserHandler {
	return &UserHandler{ledger: l, policies: policies}
}

// createUserRequest defines the request body for account creation.
type createUserRequest struct {
	UserID uint64 `json:"user_id"`
	Tier   string `json:"tier"`
}

// Create opens an account with the tier's monthly allotment.
func (h *UserHandler) Create(c *gin.Context) {
	var body createUserRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.UserID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	tierName := tier.Free
	if strings.TrimSpace(body.Tier) != "" {
		parsed, ok := tier.ParseTier(body.Tier)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown tier"})
			return
		}
		tierName = parsed
	}

	user, errCreate := h.ledger.CreateAccount(c.Request.Context(), body.UserID, tierName)
	if errCreate != nil {
		if errors.Is(errCreate, ledger.ErrAccountExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "account already exists"})
			return
		}
		log.WithError(errCreate).Error("user handler: create account failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create account failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":               user.ID,
		"tier":             user.Tier,
		"monthly_credits":  user.MonthlyCredits,
		"credits_reset_at": user.CreditsResetAt,
	})
}

// Get returns the balance of one account.
func (h *UserHandler) Get(c *gin.Context) {
	id, ok := parseUserID(c)
	if !ok {
		return
	}
	bal, errBalance := h.ledger.Balance(c.Request.Context(), id)
	if errBalance != nil {
		writeLedgerError(c, errBalance, "load account failed")
		return
	}
	c.JSON(http.StatusOK, bal)
}

// setTierRequest defines the request body for tier changes.
type setTierRequest struct {
	Tier string `json:"tier"`
}

// SetTier changes the tier used for the account's future requests.
func (h *UserHandler) SetTier(c *gin.Context) {
	id, ok := parseUserID(c)
	if !ok {
		return
	}
	var body setTierRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	tierName, okTier := tier.ParseTier(body.Tier)
	if !okTier {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown tier"})
		return
	}
	if errSet := h.ledger.SetTier(c.Request.Context(), id, tierName); errSet != nil {
		writeLedgerError(c, errSet, "set tier failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "tier": tierName})
}

// grantRequest defines the request body for manual credit grants.
type grantRequest struct {
	Credits   int64  `json:"credits"`
	Reference string `json:"reference"`
}

// Grant adds purchased credits by hand, e.g. for support refunds.
func (h *UserHandler) Grant(c *gin.Context) {
	id, ok := parseUserID(c)
	if !ok {
		return
	}
	var body grantRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	txID, errPurchase := h.ledger.Purchase(c.Request.Context(), id, body.Credits, body.Reference)
	if errPurchase != nil {
		writeLedgerError(c, errPurchase, "grant credits failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction_id": txID})
}

func parseUserID(c *gin.Context) (uint64, bool) {
	id, errParse := strconv.ParseUint(c.Param("id"), 10, 64)
	if errParse != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func writeLedgerError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, ledger.ErrAccountNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
	case errors.Is(err, ledger.ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, gin.H{"error": "credits must be positive"})
	case errors.Is(err, ledger.ErrReferenceConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "reference already used"})
	default:
		log.WithError(err).Error("user handler: " + fallback)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}
