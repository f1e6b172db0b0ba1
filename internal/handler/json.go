package handler

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace-checkout/internal/domain/cart"
	"github.com/xenking/marketplace-checkout/internal/domain/order"
	"github.com/xenking/marketplace-checkout/internal/domain/product"
)

const maxBodyBytes = 64 << 10

func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	var e jx.Encoder
	encode(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// readObject decodes a JSON object body field by field.
func readObject(w http.ResponseWriter, r *http.Request, field func(d *jx.Decoder, key string) error) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	data, err := io.ReadAll(body)
	if err != nil {
		return invalid("request body is too large or unreadable")
	}
	if err := jx.DecodeBytes(data).Obj(field); err != nil {
		var v *validationError
		if errors.As(err, &v) {
			return v
		}
		return invalid("malformed JSON body")
	}
	return nil
}

func money(e *jx.Encoder, d decimal.Decimal) {
	e.Raw([]byte(d.StringFixed(2)))
}

func timestamp(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339))
}

func (h *Handler) imageURL(url string) string {
	if url == "" || h.imageBaseURL == "" ||
		strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		return url
	}
	return strings.TrimRight(h.imageBaseURL, "/") + "/" + strings.TrimLeft(url, "/")
}

func (h *Handler) optImage(e *jx.Encoder, url string) {
	if url = h.imageURL(url); url == "" {
		e.Null()
		return
	}
	e.Str(url)
}

func (h *Handler) encodeProduct(e *jx.Encoder, p product.Product) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Int64(p.ID) })
		e.Field("sellerId", func(e *jx.Encoder) { e.Int64(p.SellerID) })
		e.Field("sellerName", func(e *jx.Encoder) { e.Str(p.SellerName) })
		e.Field("name", func(e *jx.Encoder) { e.Str(p.Name) })
		e.Field("description", func(e *jx.Encoder) { e.Str(p.Description) })
		e.Field("unit", func(e *jx.Encoder) { e.Str(p.Unit) })
		e.Field("price", func(e *jx.Encoder) { money(e, p.Price) })
		e.Field("minQuantity", func(e *jx.Encoder) { e.Int(p.MinQuantity) })
		e.Field("stock", func(e *jx.Encoder) { e.Int(p.Stock) })
		e.Field("available", func(e *jx.Encoder) { e.Bool(p.Available) })
		e.Field("imageUrl", func(e *jx.Encoder) { h.optImage(e, p.ImageURL) })
	})
}

func (h *Handler) encodeCartItem(e *jx.Encoder, it cart.Item) {
	p := it.Product
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Int64(it.ID) })
		e.Field("productId", func(e *jx.Encoder) { e.Int64(it.ProductID) })
		e.Field("name", func(e *jx.Encoder) { e.Str(p.Name) })
		e.Field("description", func(e *jx.Encoder) { e.Str(p.Description) })
		e.Field("unit", func(e *jx.Encoder) { e.Str(p.Unit) })
		e.Field("price", func(e *jx.Encoder) { money(e, p.Price) })
		e.Field("minQuantity", func(e *jx.Encoder) { e.Int(p.MinQuantity) })
		e.Field("stock", func(e *jx.Encoder) { e.Int(p.Stock) })
		e.Field("sellerId", func(e *jx.Encoder) { e.Int64(p.SellerID) })
		e.Field("sellerName", func(e *jx.Encoder) { e.Str(p.SellerName) })
		e.Field("imageUrl", func(e *jx.Encoder) { h.optImage(e, p.ImageURL) })
		e.Field("available", func(e *jx.Encoder) { e.Bool(p.Available) })
		e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
		e.Field("subtotal", func(e *jx.Encoder) { money(e, it.Subtotal()) })
		e.Field("addedAt", func(e *jx.Encoder) { timestamp(e, it.CreatedAt) })
	})
}

func (h *Handler) encodeCartView(e *jx.Encoder, v *cart.View) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("items", func(e *jx.Encoder) {
			e.ArrStart()
			for _, it := range v.Items {
				h.encodeCartItem(e, it)
			}
			e.ArrEnd()
		})
		e.Field("summary", func(e *jx.Encoder) {
			s := v.Summary
			e.Obj(func(e *jx.Encoder) {
				e.Field("lines", func(e *jx.Encoder) { e.Int(s.Lines) })
				e.Field("quantity", func(e *jx.Encoder) { e.Int(s.Quantity) })
				e.Field("subtotal", func(e *jx.Encoder) { money(e, s.Subtotal) })
				e.Field("sellers", func(e *jx.Encoder) { e.Int(s.Sellers) })
			})
		})
	})
}

func encodeOrderHeader(e *jx.Encoder, o order.Order) {
	e.Field("id", func(e *jx.Encoder) { e.Int64(o.ID) })
	e.Field("orderNumber", func(e *jx.Encoder) { e.Str(o.Number) })
	e.Field("status", func(e *jx.Encoder) { e.Str(o.Status.String()) })
	e.Field("total", func(e *jx.Encoder) { money(e, o.Total) })
	e.Field("deliveryAddress", func(e *jx.Encoder) { e.Str(o.DeliveryAddress) })
	e.Field("contactPhone", func(e *jx.Encoder) { e.Str(o.ContactPhone) })
	e.Field("paymentMethod", func(e *jx.Encoder) { e.Str(o.PaymentMethod) })
	e.Field("createdAt", func(e *jx.Encoder) { timestamp(e, o.CreatedAt) })
}

func encodeLineFields(e *jx.Encoder, l order.Line) {
	e.Field("id", func(e *jx.Encoder) { e.Int64(l.ID) })
	e.Field("productId", func(e *jx.Encoder) { e.Int64(l.ProductID) })
	e.Field("sellerId", func(e *jx.Encoder) { e.Int64(l.SellerID) })
	e.Field("quantity", func(e *jx.Encoder) { e.Int(l.Quantity) })
	e.Field("unitPrice", func(e *jx.Encoder) { money(e, l.UnitPrice) })
	e.Field("subtotal", func(e *jx.Encoder) { money(e, l.Subtotal) })
}

func encodeOrder(e *jx.Encoder, o order.Order) {
	e.Obj(func(e *jx.Encoder) {
		encodeOrderHeader(e, o)
		e.Field("lines", func(e *jx.Encoder) {
			e.ArrStart()
			for _, l := range o.Lines {
				e.Obj(func(e *jx.Encoder) { encodeLineFields(e, l) })
			}
			e.ArrEnd()
		})
	})
}

func (h *Handler) encodeOrderDetail(e *jx.Encoder, d *order.Detail) {
	e.Obj(func(e *jx.Encoder) {
		encodeOrderHeader(e, d.Order)
		e.Field("lines", func(e *jx.Encoder) {
			e.ArrStart()
			for _, l := range d.Lines {
				e.Obj(func(e *jx.Encoder) {
					encodeLineFields(e, l.Line)
					e.Field("productName", func(e *jx.Encoder) { e.Str(l.ProductName) })
					e.Field("sellerName", func(e *jx.Encoder) { e.Str(l.SellerName) })
					e.Field("imageUrl", func(e *jx.Encoder) { h.optImage(e, l.ImageURL) })
				})
			}
			e.ArrEnd()
		})
	})
}
