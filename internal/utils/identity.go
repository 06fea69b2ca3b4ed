package utils

import (
	"strings"

	"github.com/google/uuid"
)

const tempIDPrefix = "tmp-"

// NewID returns a collision-resistant identifier for server-confirmed
// records created on the agent.
func NewID() string {
	return uuid.New().String()
}

// NewTempID returns a temporary identifier for records created while
// offline. The prefix makes unconfirmed records recognizable until the
// sync engine swaps in the server-assigned id.
func NewTempID() string {
	return tempIDPrefix + uuid.New().String()
}

// IsTempID reports whether an id was assigned locally and is still
// awaiting server confirmation.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, tempIDPrefix)
}
