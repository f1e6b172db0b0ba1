// Package handler exposes the catalog, cart, checkout and order services
// over HTTP.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/marketplace-checkout/internal/domain/cart"
	"github.com/xenking/marketplace-checkout/internal/domain/checkout"
	"github.com/xenking/marketplace-checkout/internal/domain/order"
	"github.com/xenking/marketplace-checkout/internal/domain/product"
)

// Config holds non-dependency settings for the Handler.
type Config struct {
	// ImageBaseURL is prepended to relative image paths. Empty leaves paths
	// as stored.
	ImageBaseURL string
}

// CartService is implemented by *cart.Service.
type CartService interface {
	AddLine(ctx context.Context, userID, productID int64, qty int) (*cart.Item, error)
	UpdateQuantity(ctx context.Context, userID, lineID int64, qty int) (*cart.Item, error)
	RemoveLine(ctx context.Context, userID, lineID int64) error
	Clear(ctx context.Context, userID int64) error
	PurgeUnavailable(ctx context.Context, userID int64) (int, error)
	View(ctx context.Context, userID int64) (*cart.View, error)
	CountLines(ctx context.Context, userID int64) (int, error)
}

// Checkouter is implemented by *checkout.Engine.
type Checkouter interface {
	Checkout(ctx context.Context, req checkout.Request) (*order.Order, error)
}

// OrderService is implemented by *order.Service.
type OrderService interface {
	ListByUser(ctx context.Context, userID int64) ([]order.Order, error)
	GetDetail(ctx context.Context, orderID, userID int64) (*order.Detail, error)
}

// Handler serves the /api routes.
type Handler struct {
	products     product.Repository
	carts        CartService
	checkout     Checkouter
	orders       OrderService
	imageBaseURL string
}

// New creates a Handler.
func New(
	cfg Config,
	products product.Repository,
	carts CartService,
	checkout Checkouter,
	orders OrderService,
) *Handler {
	return &Handler{
		products:     products,
		carts:        carts,
		checkout:     checkout,
		orders:       orders,
		imageBaseURL: cfg.ImageBaseURL,
	}
}

// Routes mounts the API on r. Cart and order routes are wrapped by
// authenticate, which must store an auth.Identity in the request context.
func (h *Handler) Routes(r chi.Router, authenticate func(http.Handler) http.Handler) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/products", h.ListProducts)
		r.Get("/products/{productId}", h.GetProduct)

		r.Group(func(r chi.Router) {
			r.Use(authenticate)

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", h.ViewCart)
				r.Post("/", h.AddCartLine)
				r.Delete("/", h.ClearCart)
				r.Get("/count", h.CountCartLines)
				r.Post("/purge-unavailable", h.PurgeUnavailable)
				r.Put("/{lineId}", h.UpdateCartLine)
				r.Delete("/{lineId}", h.RemoveCartLine)
			})

			r.Route("/orders", func(r chi.Router) {
				r.Get("/", h.ListOrders)
				r.Post("/checkout", h.Checkout)
				r.Get("/{orderId}", h.GetOrder)
			})
		})
	})
}
