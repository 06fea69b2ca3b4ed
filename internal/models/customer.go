package models

import "time"

// Customer is an end customer a meter is sold or installed for.
type Customer struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Name      string    `gorm:"type:varchar(255)" json:"name"`
	Phone     string    `gorm:"type:varchar(50)" json:"phone"`
	Address   string    `gorm:"type:varchar(255)" json:"address"`
	AccountNo string    `gorm:"type:varchar(100);index" json:"account_no"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Customer) TableName() string { return "customers" }
