package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/marketplace-checkout/internal/domain/apperr"
)

const (
	kindValidation      = "validation"
	kindUnauthenticated = "unauthenticated"
	kindInternal        = "internal"

	messageInternal = "operation failed"
)

// validationError is a malformed request rejected before any service call.
type validationError struct {
	msg string
}

func (e *validationError) Error() string { return e.msg }

func invalid(msg string) error {
	return &validationError{msg: msg}
}

func statusOf(k apperr.Kind) int {
	switch k {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindUnavailable, apperr.KindBelowMinimum, apperr.KindInsufficientStock, apperr.KindEmptyCart:
		return http.StatusUnprocessableEntity
	case apperr.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps err to a status and body. Unclassified errors are logged
// and answered with a generic message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var v *validationError
	if errors.As(err, &v) {
		writeProblem(w, http.StatusBadRequest, kindValidation, v.msg, nil)
		return
	}

	ae, ok := apperr.As(err)
	if !ok || ae.Kind == apperr.KindUnknown {
		zctx.From(r.Context()).Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeProblem(w, http.StatusInternalServerError, kindInternal, messageInternal, nil)
		return
	}
	if ae.Kind == apperr.KindConflict {
		zctx.From(r.Context()).Info("Conflict", zap.Error(err))
	}

	writeProblem(w, statusOf(ae.Kind), ae.Kind.String(), ae.Error(), func(e *jx.Encoder) {
		if ae.Resource == apperr.ResourceProduct {
			e.Field("productId", func(e *jx.Encoder) { e.Int64(ae.ID) })
		}
		switch ae.Kind {
		case apperr.KindInsufficientStock:
			e.Field("available", func(e *jx.Encoder) { e.Int(ae.Available) })
			e.Field("requested", func(e *jx.Encoder) { e.Int(ae.Requested) })
		case apperr.KindBelowMinimum:
			e.Field("minimum", func(e *jx.Encoder) { e.Int(ae.Minimum) })
			e.Field("requested", func(e *jx.Encoder) { e.Int(ae.Requested) })
		}
	})
}

func writeProblem(w http.ResponseWriter, status int, kind, msg string, extra func(e *jx.Encoder)) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("code", func(e *jx.Encoder) { e.Int(status) })
			e.Field("kind", func(e *jx.Encoder) { e.Str(kind) })
			e.Field("message", func(e *jx.Encoder) { e.Str(msg) })
			if extra != nil {
				extra(e)
			}
		})
	})
}
