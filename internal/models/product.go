package models

import "time"

// Product is a stockable catalog entry (a meter model, accessories, etc).
type Product struct {
	ID            string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Name          string    `gorm:"type:varchar(255)" json:"name"`
	SKU           string    `gorm:"type:varchar(100);index" json:"sku"`
	Category      string    `gorm:"type:varchar(100)" json:"category"`
	StockQuantity int       `gorm:"default:0" json:"stock_quantity"`
	UnitPrice     float64   `json:"unit_price"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (Product) TableName() string { return "products" }
