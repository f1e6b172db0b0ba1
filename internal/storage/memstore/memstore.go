// Package memstore is an in-process implementation of the catalog, cart,
// inventory and order stores.
//
// Transactions are serialized by a single mutex and rolled back by restoring
// a snapshot, so the store suits tests and local runs rather than production
// traffic. Operations outside InTx behave as single-statement transactions.
package memstore

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/xenking/marketplace-checkout/internal/domain/apperr"
	"github.com/xenking/marketplace-checkout/internal/domain/cart"
	"github.com/xenking/marketplace-checkout/internal/domain/inventory"
	"github.com/xenking/marketplace-checkout/internal/domain/order"
	"github.com/xenking/marketplace-checkout/internal/domain/product"
)

var (
	_ cart.Repository    = (*Store)(nil)
	_ product.Repository = (*Store)(nil)
	_ inventory.Ledger   = (*Store)(nil)
	_ order.Repository   = (*Store)(nil)
	_ order.ImageLookup  = (*Store)(nil)
)

type txKey struct{}

// State is a deep copy of the stored rows, comparable with ==-style
// assertions.
type State struct {
	Products   map[int64]product.Product
	Lines      map[int64]cart.Line
	Orders     map[int64]order.Order
	OrderLines map[int64][]order.Line
}

// Store holds every table in memory.
type Store struct {
	mu  sync.Mutex
	now func() time.Time
	seq int64

	sellers map[int64]product.Seller
	images  map[int64][]string
	data    State
	numbers map[string]struct{}
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		now:     time.Now,
		sellers: make(map[int64]product.Seller),
		images:  make(map[int64][]string),
		numbers: make(map[string]struct{}),
		data: State{
			Products:   make(map[int64]product.Product),
			Lines:      make(map[int64]cart.Line),
			Orders:     make(map[int64]order.Order),
			OrderLines: make(map[int64][]order.Line),
		},
	}
}

func (s *Store) nextID() int64 {
	s.seq++
	return s.seq
}

func (s *State) clone() State {
	lines := make(map[int64][]order.Line, len(s.OrderLines))
	for k, v := range s.OrderLines {
		lines[k] = slices.Clone(v)
	}
	return State{
		Products:   maps.Clone(s.Products),
		Lines:      maps.Clone(s.Lines),
		Orders:     maps.Clone(s.Orders),
		OrderLines: lines,
	}
}

// InTx runs fn as one transaction. Nested calls join the outer transaction.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	numbers := maps.Clone(s.numbers)
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.data = snapshot
		s.numbers = numbers
		return err
	}
	return nil
}

// do runs fn under the store lock unless ctx already holds it.
func (s *Store) do(ctx context.Context, fn func() error) error {
	if ctx.Value(txKey{}) != nil {
		return fn()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

// Snapshot returns a deep copy of the current rows.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.clone()
}

// PutSeller stores a seller, assigning an ID when zero.
func (s *Store) PutSeller(sel product.Seller) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sel.ID == 0 {
		sel.ID = s.nextID()
	}
	s.sellers[sel.ID] = sel
	return sel.ID
}

// PutProduct stores a product, assigning an ID when zero. SellerName and
// ImageURL are derived on read.
func (s *Store) PutProduct(p product.Product) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		p.ID = s.nextID()
	}
	p.SellerName, p.ImageURL = "", ""
	s.data.Products[p.ID] = p
	return p.ID
}

// UpdateProduct applies fn to a stored product, as a catalog edit would.
func (s *Store) UpdateProduct(id int64, fn func(p *product.Product)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.data.Products[id]
	if !ok {
		return
	}
	fn(&p)
	s.data.Products[id] = p
}

// AddImage appends an image to a product; the first added is its first image.
func (s *Store) AddImage(productID int64, url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images[productID] = append(s.images[productID], url)
}

func (s *Store) joined(p product.Product) product.Product {
	p.SellerName = s.sellers[p.SellerID].CompanyName
	if imgs := s.images[p.ID]; len(imgs) > 0 {
		p.ImageURL = imgs[0]
	}
	return p
}

// ListAvailable implements product.Repository.
func (s *Store) ListAvailable(ctx context.Context) ([]product.Product, error) {
	var out []product.Product
	err := s.do(ctx, func() error {
		for _, p := range s.data.Products {
			if p.Available {
				out = append(out, s.joined(p))
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

// GetByID implements product.Repository.
func (s *Store) GetByID(ctx context.Context, id int64) (*product.Product, error) {
	var out *product.Product
	err := s.do(ctx, func() error {
		p, ok := s.data.Products[id]
		if !ok {
			return apperr.NotFound(apperr.ResourceProduct, id)
		}
		p = s.joined(p)
		out = &p
		return nil
	})
	return out, err
}

// Reserve implements inventory.Ledger.
func (s *Store) Reserve(ctx context.Context, productID int64, qty int) (*inventory.Reservation, error) {
	var out *inventory.Reservation
	err := s.do(ctx, func() error {
		p, ok := s.data.Products[productID]
		switch {
		case !ok:
			return apperr.NotFound(apperr.ResourceProduct, productID)
		case !p.Available:
			return apperr.Unavailable(productID)
		case p.Stock < qty:
			return apperr.InsufficientStock(productID, p.Stock, qty)
		}
		p.Stock -= qty
		p.Version++
		s.data.Products[productID] = p
		out = &inventory.Reservation{
			ProductID: productID,
			SellerID:  p.SellerID,
			Quantity:  qty,
			UnitPrice: p.Price,
			Remaining: p.Stock,
		}
		return nil
	})
	return out, err
}
