package product

import (
	"github.com/go-faster/errors"
)

// SellerStatus is the approval state of a provider. The zero value is not a
// valid status; obtain values from the package variables or ParseSellerStatus.
type SellerStatus struct {
	name string
}

var (
	SellerPending   = SellerStatus{"pending"}
	SellerApproved  = SellerStatus{"approved"}
	SellerSuspended = SellerStatus{"suspended"}
	SellerRejected  = SellerStatus{"rejected"}
)

var sellerStatuses = []SellerStatus{SellerPending, SellerApproved, SellerSuspended, SellerRejected}

// ErrInvalidSellerStatus is returned by ParseSellerStatus for unknown names.
var ErrInvalidSellerStatus = errors.New("invalid seller status")

// ParseSellerStatus is the guard for seller status values read from storage
// or supplied by the provider directory.
func ParseSellerStatus(s string) (SellerStatus, error) {
	for _, st := range sellerStatuses {
		if st.name == s {
			return st, nil
		}
	}
	return SellerStatus{}, errors.Wrapf(ErrInvalidSellerStatus, "%q", s)
}

func (s SellerStatus) String() string { return s.name }

// IsZero reports whether s was never assigned a valid status.
func (s SellerStatus) IsZero() bool { return s.name == "" }

// Seller is a provider as seen by the checkout core: identity, display name
// and approval status.
type Seller struct {
	ID          int64
	CompanyName string
	TaxID       string
	Status      SellerStatus
}
