package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"

	"shop-svc/middleware"
	"shop-svc/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type ReviewHandler struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewReviewHandler(db *sql.DB, logger *zap.Logger) *ReviewHandler {
	return &ReviewHandler{
		db:     db,
		logger: logger,
	}
}

func (h *ReviewHandler) CreateReview(c *gin.Context) {
	productID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product ID"})
		return
	}

	var req models.CreateReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var exists int
	err = h.db.QueryRowContext(c.Request.Context(), "SELECT id FROM products WHERE id = $1", productID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Product not found"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to check product", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	var review models.Review
	err = h.db.QueryRowContext(c.Request.Context(),
		"INSERT INTO reviews (product_id, client_id, rating, comment) VALUES ($1, $2, $3, $4) RETURNING id, product_id, client_id, rating, comment, created_at",
		productID, middleware.UserID(c), req.Rating, req.Comment,
	).Scan(&review.ID, &review.ProductID, &review.ClientID, &review.Rating, &review.Comment, &review.CreatedAt)
	if err != nil {
		h.logger.Error("Failed to create review", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusCreated, review)
}

func (h *ReviewHandler) ListReviews(c *gin.Context) {
	productID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product ID"})
		return
	}

	rows, err := h.db.QueryContext(c.Request.Context(),
		"SELECT id, product_id, client_id, rating, comment, created_at FROM reviews WHERE product_id = $1 ORDER BY created_at DESC",
		productID,
	)
	if err != nil {
		h.logger.Error("Failed to list reviews", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	defer rows.Close()

	var reviews []models.Review
	for rows.Next() {
		var r models.Review
		if err := rows.Scan(&r.ID, &r.ProductID, &r.ClientID, &r.Rating, &r.Comment, &r.CreatedAt); err != nil {
			h.logger.Error("Failed to scan review", zap.Error(err))
			continue
		}
		reviews = append(reviews, r)
	}

	c.JSON(http.StatusOK, reviews)
}
