package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/marketplace-checkout/internal/domain/auth"
)

// ListProducts returns the available catalog.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.ListAvailable(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for _, p := range products {
			h.encodeProduct(e, p)
		}
		e.ArrEnd()
	})
}

// GetProduct returns one product, available or not.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "productId")
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.products.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { h.encodeProduct(e, *p) })
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, invalid(name + " must be a positive integer")
	}
	return id, nil
}

// caller returns the verified user id. The authenticate middleware
// guarantees it on protected routes.
func caller(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, ok := auth.IdentityFrom(r.Context())
	if !ok || id.UserID <= 0 {
		writeProblem(w, http.StatusUnauthorized, kindUnauthenticated, "authentication required", nil)
		return 0, false
	}
	return id.UserID, true
}
