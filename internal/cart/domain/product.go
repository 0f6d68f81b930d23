package domain

import (
	"math"
	"strings"
)

type ProductID int64

// Product is a catalog snapshot as last fetched. It may be stale.
type Product struct {
	ID          ProductID `json:"id"`
	Name        string    `json:"name"`
	Price       float64   `json:"price"`
	Stock       int       `json:"stock"`
	Description string    `json:"description"`
	ImageURL    string    `json:"image_url"`
}

func (p Product) Validate() error {
	switch {
	case p.ID <= 0:
		return newError(KindValidation, "product", ErrInvalidProduct, "id must be positive")
	case strings.TrimSpace(p.Name) == "":
		return newError(KindValidation, "product", ErrInvalidProduct, "name is required")
	case !ValidPrice(p.Price):
		return newError(KindValidation, "product", ErrInvalidProduct, "price must be a positive number")
	case p.Stock < 0:
		return newError(KindValidation, "product", ErrInvalidProduct, "stock must be >= 0")
	}
	return nil
}

func ValidPrice(price float64) bool {
	return price > 0 && !math.IsInf(price, 0) && !math.IsNaN(price)
}
