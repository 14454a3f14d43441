package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/elmedianur/deutsche/internal/ledger"
	"github.com/elmedianur/deutsche/internal/middleware"
	"github.com/elmedianur/deutsche/internal/services"
)

type WalletHandler struct {
	shop *services.ShopService
}

func NewWalletHandler(shop *services.ShopService) *WalletHandler {
	return &WalletHandler{shop: shop}
}

type PurchaseRequest struct {
	ItemID    string `json:"item_id" binding:"required"`
	RequestID string `json:"request_id" binding:"required"`
}

type PremiumRequest struct {
	PlanID    string `json:"plan_id" binding:"required"`
	RequestID string `json:"request_id" binding:"required"`
}

type TopUpRequest struct {
	UserID   string `json:"user_id" binding:"required"`
	Amount   int64  `json:"amount" binding:"required"`
	ChargeID string `json:"charge_id" binding:"required"`
}

type GrantRequest struct {
	UserID    string `json:"user_id" binding:"required"`
	Amount    int64  `json:"amount" binding:"required"`
	RequestID string `json:"request_id" binding:"required"`
}

// TransactionResponse reports a ledger write. Replayed is set when the
// request id was seen before and nothing new was charged.
type TransactionResponse struct {
	Transaction ledger.Transaction `json:"transaction"`
	Replayed    bool               `json:"replayed"`
	Wallet      services.Wallet    `json:"wallet"`
}

type CatalogResponse struct {
	Items []services.ShopItem    `json:"items"`
	Plans []services.PremiumPlan `json:"plans"`
}

func (h *WalletHandler) respond(c *gin.Context, userID string, res ledger.Result, err error) {
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, TransactionResponse{
		Transaction: res.Transaction,
		Replayed:    res.Replayed,
		Wallet:      h.shop.Wallet(userID),
	})
}

func (h *WalletHandler) GetWallet(c *gin.Context) {
	c.JSON(http.StatusOK, h.shop.Wallet(middleware.UserID(c)))
}

func (h *WalletHandler) Transactions(c *gin.Context) {
	txs := h.shop.Transactions(middleware.UserID(c))
	if txs == nil {
		txs = []ledger.Transaction{}
	}
	c.JSON(http.StatusOK, txs)
}

func (h *WalletHandler) Inventory(c *gin.Context) {
	c.JSON(http.StatusOK, h.shop.Inventory(middleware.UserID(c)))
}

func (h *WalletHandler) Catalog(c *gin.Context) {
	c.JSON(http.StatusOK, CatalogResponse{Items: h.shop.Catalog(), Plans: h.shop.Plans()})
}

func (h *WalletHandler) Purchase(c *gin.Context) {
	var req PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	userID := middleware.UserID(c)
	res, err := h.shop.Purchase(c.Request.Context(), userID, req.ItemID, req.RequestID)
	h.respond(c, userID, res, err)
}

func (h *WalletHandler) PurchasePremium(c *gin.Context) {
	var req PremiumRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	userID := middleware.UserID(c)
	res, err := h.shop.PurchasePremium(c.Request.Context(), userID, req.PlanID, req.RequestID)
	h.respond(c, userID, res, err)
}

// TopUp credits a confirmed payment. Bot only.
func (h *WalletHandler) TopUp(c *gin.Context) {
	var req TopUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	res, err := h.shop.TopUp(c.Request.Context(), req.UserID, req.Amount, req.ChargeID)
	h.respond(c, req.UserID, res, err)
}

// Grant credits or debits stars by hand. A negative amount takes stars back.
func (h *WalletHandler) Grant(c *gin.Context) {
	var req GrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	res, err := h.shop.Grant(c.Request.Context(), middleware.UserID(c), req.UserID, req.Amount, req.RequestID)
	h.respond(c, req.UserID, res, err)
}
