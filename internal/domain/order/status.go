package order

import "github.com/go-faster/errors"

// Status is the lifecycle state of an order. Only StatusCreated is reachable
// from checkout; later states are set by fulfilment outside this service.
type Status struct {
	name string
}

var (
	StatusCreated   = Status{"created"}
	StatusConfirmed = Status{"confirmed"}
	StatusPreparing = Status{"preparing"}
	StatusShipped   = Status{"shipped"}
	StatusDelivered = Status{"delivered"}
	StatusCancelled = Status{"cancelled"}
)

var statuses = []Status{
	StatusCreated, StatusConfirmed, StatusPreparing,
	StatusShipped, StatusDelivered, StatusCancelled,
}

// ErrInvalidStatus is returned by ParseStatus for unknown names.
var ErrInvalidStatus = errors.New("invalid order status")

// ParseStatus is the guard for status values crossing a boundary.
func ParseStatus(s string) (Status, error) {
	for _, st := range statuses {
		if st.name == s {
			return st, nil
		}
	}
	return Status{}, errors.Wrapf(ErrInvalidStatus, "%q", s)
}

func (s Status) String() string { return s.name }

// IsZero reports whether s was never assigned a valid status.
func (s Status) IsZero() bool { return s.name == "" }
