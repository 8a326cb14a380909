package models

import "time"

type Product struct {
	ID        int       `json:"id"`
	SellerID  int       `json:"seller_id"`
	Name      string    `json:"name"`
	Price     float64   `json:"price"`
	Stock     int       `json:"stock"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type CreateProductRequest struct {
	Name  string  `json:"name" binding:"required"`
	Price float64 `json:"price" binding:"required,gt=0"`
	Stock int     `json:"stock" binding:"gte=0"`
}

type UpdateProductRequest struct {
	Name  string   `json:"name"`
	Price *float64 `json:"price" binding:"omitempty,gt=0"`
	Stock *int     `json:"stock" binding:"omitempty,gte=0"`
}

type Review struct {
	ID        int       `json:"id"`
	ProductID int       `json:"product_id"`
	ClientID  int       `json:"client_id"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment"`
	CreatedAt time.Time `json:"created_at"`
}

type CreateReviewRequest struct {
	Rating  int    `json:"rating" binding:"required,gte=1,lte=5"`
	Comment string `json:"comment"`
}
