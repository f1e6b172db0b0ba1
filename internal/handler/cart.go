package handler

import (
	"net/http"

	"github.com/go-faster/jx"
)

type addLineRequest struct {
	ProductID int64
	Quantity  int
}

func decodeQuantity(d *jx.Decoder) (int, error) {
	if d.Next() != jx.Number {
		return 0, invalid("quantity must be an integer")
	}
	q, err := d.Int()
	if err != nil {
		return 0, invalid("quantity must be an integer")
	}
	if q < 1 {
		return 0, invalid("quantity must be at least 1")
	}
	return q, nil
}

func (req *addLineRequest) decode(w http.ResponseWriter, r *http.Request) error {
	err := readObject(w, r, func(d *jx.Decoder, key string) error {
		switch key {
		case "productId":
			if d.Next() != jx.Number {
				return invalid("productId must be an integer")
			}
			id, err := d.Int64()
			if err != nil || id <= 0 {
				return invalid("productId must be a positive integer")
			}
			req.ProductID = id
			return nil
		case "quantity":
			q, err := decodeQuantity(d)
			req.Quantity = q
			return err
		default:
			return d.Skip()
		}
	})
	switch {
	case err != nil:
		return err
	case req.ProductID == 0:
		return invalid("productId is required")
	case req.Quantity == 0:
		return invalid("quantity is required")
	}
	return nil
}

func decodeQuantityBody(w http.ResponseWriter, r *http.Request) (int, error) {
	var qty int
	err := readObject(w, r, func(d *jx.Decoder, key string) error {
		if key != "quantity" {
			return d.Skip()
		}
		q, err := decodeQuantity(d)
		qty = q
		return err
	})
	if err != nil {
		return 0, err
	}
	if qty == 0 {
		return 0, invalid("quantity is required")
	}
	return qty, nil
}

// AddCartLine adds a product to the caller's cart, merging with an
// existing line.
func (h *Handler) AddCartLine(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	var req addLineRequest
	if err := req.decode(w, r); err != nil {
		writeError(w, r, err)
		return
	}

	item, err := h.carts.AddLine(r.Context(), userID, req.ProductID, req.Quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { h.encodeCartItem(e, *item) })
}

// UpdateCartLine sets the quantity of an owned line.
func (h *Handler) UpdateCartLine(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	lineID, err := pathID(r, "lineId")
	if err != nil {
		writeError(w, r, err)
		return
	}
	qty, err := decodeQuantityBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	item, err := h.carts.UpdateQuantity(r.Context(), userID, lineID, qty)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { h.encodeCartItem(e, *item) })
}

// RemoveCartLine deletes an owned line.
func (h *Handler) RemoveCartLine(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	lineID, err := pathID(r, "lineId")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.carts.RemoveLine(r.Context(), userID, lineID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearCart deletes every line of the caller.
func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	if err := h.carts.Clear(r.Context(), userID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PurgeUnavailable deletes lines of unavailable products.
func (h *Handler) PurgeUnavailable(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	n, err := h.carts.PurgeUnavailable(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("removed", func(e *jx.Encoder) { e.Int(n) })
		})
	})
}

// ViewCart returns the caller's cart with live product data.
func (h *Handler) ViewCart(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	v, err := h.carts.View(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { h.encodeCartView(e, v) })
}

// CountCartLines returns the number of lines for badges.
func (h *Handler) CountCartLines(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	n, err := h.carts.CountLines(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("count", func(e *jx.Encoder) { e.Int(n) })
		})
	})
}
