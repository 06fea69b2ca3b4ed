package models

import "time"

// UserAuth is an API user of the central inventory server.
type UserAuth struct {
	ID           string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Email        string    `gorm:"type:varchar(255);uniqueIndex" json:"email"`
	Name         string    `gorm:"type:varchar(255)" json:"name"`
	PasswordHash string    `gorm:"type:varchar(255)" json:"-"`
	Role         string    `gorm:"type:varchar(20);default:'agent'" json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (UserAuth) TableName() string { return "user_auth" }
