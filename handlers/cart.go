package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"

	"shop-svc/checkout"
	"shop-svc/middleware"
	"shop-svc/models"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type CartHandler struct {
	db     *sql.DB
	svc    *checkout.Service
	logger *zap.Logger
}

func NewCartHandler(db *sql.DB, svc *checkout.Service, logger *zap.Logger) *CartHandler {
	return &CartHandler{
		db:     db,
		svc:    svc,
		logger: logger,
	}
}

// GetCart returns the client's cart snapshot: lines joined with live product
// price and stock, plus an informational running total.
func (h *CartHandler) GetCart(c *gin.Context) {
	ctx, span := otel.Tracer("shop-service").Start(c.Request.Context(), "GetCart")
	defer span.End()

	clientID := middleware.UserID(c)
	cartID, lines, err := h.svc.CartSnapshot(ctx, clientID)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to load cart", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	var total float64
	for _, line := range lines {
		total += line.UnitPrice * float64(line.Quantity)
	}

	span.SetAttributes(attribute.Int("cart.id", cartID), attribute.Int("cart.lines", len(lines)))
	c.JSON(http.StatusOK, gin.H{
		"cart_id": cartID,
		"items":   lines,
		"total":   total,
	})
}

func (h *CartHandler) AddItem(c *gin.Context) {
	ctx, span := otel.Tracer("shop-service").Start(c.Request.Context(), "AddCartItem")
	defer span.End()

	var req models.AddCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	clientID := middleware.UserID(c)

	var stock int
	err := h.db.QueryRowContext(ctx, "SELECT stock FROM products WHERE id = $1", req.ProductID).Scan(&stock)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Product not found"})
		return
	}
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to check product", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	cartID, lines, err := h.svc.CartSnapshot(ctx, clientID)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to load cart", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	// Adding an already-carted product bumps its quantity instead of
	// creating a second line.
	newQuantity := req.Quantity
	var existingItemID int
	for _, line := range lines {
		if line.ProductID == req.ProductID {
			existingItemID = line.ItemID
			newQuantity += line.Quantity
			break
		}
	}

	// This stock check is advisory UX only; the assembler re-validates
	// inside its transaction.
	if stock < newQuantity {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Insufficient stock"})
		return
	}

	if existingItemID != 0 {
		_, err = h.db.ExecContext(ctx,
			"UPDATE cart_items SET quantity = $1 WHERE id = $2",
			newQuantity, existingItemID,
		)
	} else {
		_, err = h.db.ExecContext(ctx,
			"INSERT INTO cart_items (cart_id, product_id, quantity) VALUES ($1, $2, $3)",
			cartID, req.ProductID, req.Quantity,
		)
	}
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to add cart item", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	h.logger.Info("Cart item added", zap.Int("client_id", clientID), zap.Int("product_id", req.ProductID))
	c.JSON(http.StatusCreated, gin.H{"message": "Product added to cart successfully"})
}

// UpdateItem changes a line's quantity; zero or less removes the line.
func (h *CartHandler) UpdateItem(c *gin.Context) {
	ctx, span := otel.Tracer("shop-service").Start(c.Request.Context(), "UpdateCartItem")
	defer span.End()

	itemID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid cart item ID"})
		return
	}

	var req models.UpdateCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !h.ownsCartItem(c, itemID) {
		return
	}

	if req.Quantity <= 0 {
		if _, err := h.db.ExecContext(ctx, "DELETE FROM cart_items WHERE id = $1", itemID); err != nil {
			span.RecordError(err)
			h.logger.Error("Failed to delete cart item", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Cart item removed"})
		return
	}

	if _, err := h.db.ExecContext(ctx,
		"UPDATE cart_items SET quantity = $1 WHERE id = $2",
		req.Quantity, itemID,
	); err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to update cart item", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Cart item updated successfully"})
}

func (h *CartHandler) RemoveItem(c *gin.Context) {
	ctx, span := otel.Tracer("shop-service").Start(c.Request.Context(), "RemoveCartItem")
	defer span.End()

	itemID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid cart item ID"})
		return
	}

	if !h.ownsCartItem(c, itemID) {
		return
	}

	if _, err := h.db.ExecContext(ctx, "DELETE FROM cart_items WHERE id = $1", itemID); err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to delete cart item", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Item removed from cart successfully"})
}

func (h *CartHandler) ownsCartItem(c *gin.Context, itemID int) bool {
	var ownerID int
	err := h.db.QueryRowContext(c.Request.Context(),
		"SELECT ca.client_id FROM cart_items ci JOIN carts ca ON ca.id = ci.cart_id WHERE ci.id = $1",
		itemID,
	).Scan(&ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Cart item not found"})
		return false
	}
	if err != nil {
		h.logger.Error("Failed to check cart item owner", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return false
	}
	if ownerID != middleware.UserID(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Cart item belongs to another client"})
		return false
	}
	return true
}
