package entity

import (
	"time"
)

type ProductImage struct {
	ID           string `json:"id" firestore:"id"`
	URL          string `json:"url" firestore:"url"`
	DisplayOrder int    `json:"display_order" firestore:"displayOrder"`
}

// Product is the listing owned by the catalog service. Chat only reads it.
type Product struct {
	ID        string         `json:"id" firestore:"id"`
	SellerID  string         `json:"seller_id" firestore:"sellerId"`
	Title     string         `json:"title" firestore:"title"`
	Price     float64        `json:"price" firestore:"price"`
	Status    string         `json:"status" firestore:"status"`
	Images    []ProductImage `json:"images" firestore:"images"`
	CreatedAt time.Time      `json:"created_at" firestore:"createdAt"`
	UpdatedAt time.Time      `json:"updated_at" firestore:"updatedAt"`
}

type ProductSummary struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Price    float64 `json:"price"`
	ImageURL string  `json:"image_url,omitempty"`
}

func (p *Product) Summary() *ProductSummary {
	s := &ProductSummary{
		ID:    p.ID,
		Title: p.Title,
		Price: p.Price,
	}
	lowest := -1
	for _, img := range p.Images {
		if lowest == -1 || img.DisplayOrder < lowest {
			lowest = img.DisplayOrder
			s.ImageURL = img.URL
		}
	}
	return s
}
