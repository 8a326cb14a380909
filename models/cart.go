package models

import "time"

type Cart struct {
	ID        int       `json:"id"`
	ClientID  int       `json:"client_id"`
	CreatedAt time.Time `json:"created_at"`
}

type CartItem struct {
	ID        int `json:"id"`
	CartID    int `json:"cart_id"`
	ProductID int `json:"product_id"`
	Quantity  int `json:"quantity"`
}

// CartLine is a cart item joined with the product's live price and stock.
// Prices here are informational only; the order assembler re-reads them.
type CartLine struct {
	ItemID    int     `json:"item_id"`
	ProductID int     `json:"product_id"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
	Stock     int     `json:"stock"`
}

type AddCartItemRequest struct {
	ProductID int `json:"product_id" binding:"required"`
	Quantity  int `json:"quantity" binding:"required,gt=0"`
}

type UpdateCartItemRequest struct {
	Quantity int `json:"quantity"`
}
