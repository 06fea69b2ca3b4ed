package models

import (
	"time"

	"gorm.io/datatypes"
)

// MeterStatus is the lifecycle state of a physical meter.
type MeterStatus string

const (
	MeterInStock   MeterStatus = "in-stock"
	MeterAllocated MeterStatus = "allocated"
	MeterSold      MeterStatus = "sold"
	MeterInstalled MeterStatus = "installed"
	MeterReturned  MeterStatus = "returned"
	MeterFaulty    MeterStatus = "faulty"
)

// meterTransitions encodes the status machine enforced by the facade:
// in-stock → allocated → sold|installed, allocated → in-stock (return),
// returned → in-stock|faulty (post-inspection), any state → faulty.
var meterTransitions = map[MeterStatus][]MeterStatus{
	MeterInStock:   {MeterAllocated, MeterFaulty},
	MeterAllocated: {MeterSold, MeterInstalled, MeterInStock, MeterFaulty},
	MeterSold:      {MeterInstalled, MeterReturned, MeterFaulty},
	MeterInstalled: {MeterReturned, MeterFaulty},
	MeterReturned:  {MeterInStock, MeterFaulty},
	MeterFaulty:    {MeterInStock, MeterReturned},
}

// CanTransition reports whether the facade allows moving a meter from
// one status to another. The conflict detector is the backstop for
// concurrent transitions; this is convention only.
func CanTransition(from, to MeterStatus) bool {
	for _, next := range meterTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ExclusiveStatus reports whether a status claims exclusive ownership of
// the physical unit. A queued operation targeting a meter the server
// already shows in one of these states is a data conflict, never an
// overwrite.
func ExclusiveStatus(s MeterStatus) bool {
	return s == MeterSold || s == MeterInstalled
}

// Meter is a physical electricity meter tracked through its lifecycle.
type Meter struct {
	ID           string         `gorm:"primaryKey;type:varchar(64)" json:"id"`
	SerialNumber string         `gorm:"type:varchar(100);uniqueIndex" json:"serial_number"`
	Model        string         `gorm:"type:varchar(100)" json:"model"`
	ProductID    string         `gorm:"type:varchar(64);index" json:"product_id"`
	Status       MeterStatus    `gorm:"type:varchar(20);index" json:"status"`
	AgentID      string         `gorm:"type:varchar(64);index" json:"agent_id"`
	Location     string         `gorm:"type:varchar(255)" json:"location"`
	Notes        string         `gorm:"type:text" json:"notes"`
	Attributes   datatypes.JSON `gorm:"type:jsonb" json:"attributes,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

func (Meter) TableName() string { return "meters" }
