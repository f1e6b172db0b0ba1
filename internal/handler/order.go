package handler

import (
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/go-faster/jx"

	"github.com/xenking/marketplace-checkout/internal/domain/checkout"
)

const (
	maxPhoneLen         = 20
	maxPaymentMethodLen = 50
)

func decodeCheckout(w http.ResponseWriter, r *http.Request, userID int64) (checkout.Request, error) {
	req := checkout.Request{UserID: userID}
	str := func(d *jx.Decoder, key string, dst *string) error {
		if d.Next() == jx.Null {
			return d.Null()
		}
		if d.Next() != jx.String {
			return invalid(key + " must be a string")
		}
		s, err := d.Str()
		*dst = strings.TrimSpace(s)
		return err
	}
	err := readObject(w, r, func(d *jx.Decoder, key string) error {
		switch key {
		case "deliveryAddress":
			return str(d, key, &req.DeliveryAddress)
		case "contactPhone":
			return str(d, key, &req.ContactPhone)
		case "paymentMethod":
			return str(d, key, &req.PaymentMethod)
		default:
			return d.Skip()
		}
	})
	switch {
	case err != nil:
		return req, err
	case req.DeliveryAddress == "":
		return req, invalid("deliveryAddress is required")
	case req.ContactPhone == "":
		return req, invalid("contactPhone is required")
	case utf8.RuneCountInString(req.ContactPhone) > maxPhoneLen:
		return req, invalid("contactPhone must be at most 20 characters")
	case utf8.RuneCountInString(req.PaymentMethod) > maxPaymentMethodLen:
		return req, invalid("paymentMethod must be at most 50 characters")
	}
	return req, nil
}

// Checkout converts the caller's cart into an order.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	req, err := decodeCheckout(w, r, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	o, err := h.checkout.Checkout(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeOrder(e, *o) })
}

// ListOrders returns the caller's orders, newest first.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	orders, err := h.orders.ListByUser(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for _, o := range orders {
			e.Obj(func(e *jx.Encoder) { encodeOrderHeader(e, o) })
		}
		e.ArrEnd()
	})
}

// GetOrder returns an owned order with its lines.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	orderID, err := pathID(r, "orderId")
	if err != nil {
		writeError(w, r, err)
		return
	}
	d, err := h.orders.GetDetail(r.Context(), orderID, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { h.encodeOrderDetail(e, d) })
}
