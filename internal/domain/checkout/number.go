package checkout

import (
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// OrderNumberPrefix starts every generated order number.
const OrderNumberPrefix = "ORD-"

// NewOrderNumber returns an order number made of the 32 hex digits of a
// random (v4) UUID. Storage enforces uniqueness independently of the
// generator.
func NewOrderNumber() string {
	id := uuid.New()
	return OrderNumberPrefix + strings.ToUpper(hex.EncodeToString(id[:]))
}
