package models

import (
	"time"

	"gorm.io/datatypes"
)

// Sale is a sales transaction covering one or more meters.
type Sale struct {
	ID         string         `gorm:"primaryKey;type:varchar(64)" json:"id"`
	CustomerID string         `gorm:"type:varchar(64);index" json:"customer_id"`
	AgentID    string         `gorm:"type:varchar(64);index" json:"agent_id"`
	Total      float64        `json:"total"`
	SoldAt     time.Time      `json:"sold_at"`
	Items      []SaleItem     `gorm:"foreignKey:SaleID" json:"items,omitempty"`
	MeterIDs   []string       `gorm:"serializer:json;type:jsonb" json:"meter_ids,omitempty"`
	Metadata   datatypes.JSON `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

func (Sale) TableName() string { return "sales_transactions" }

// SaleItem is one line of a sales transaction.
type SaleItem struct {
	ID        string  `gorm:"primaryKey;type:varchar(64)" json:"id"`
	SaleID    string  `gorm:"type:varchar(64);index" json:"sale_id"`
	ProductID string  `gorm:"type:varchar(64)" json:"product_id"`
	MeterID   string  `gorm:"type:varchar(64)" json:"meter_id"`
	Quantity  int     `gorm:"default:1" json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

func (SaleItem) TableName() string { return "sales_items" }
