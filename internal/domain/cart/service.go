package cart

import (
	"context"
	"fmt"

	"github.com/xenking/marketplace-checkout/internal/domain/apperr"
	"github.com/xenking/marketplace-checkout/internal/domain/product"
)

// Transactor runs fn inside a storage transaction carried by the context it
// passes to fn. A non-nil error from fn rolls the transaction back.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ProductReader reads the live product a cart line refers to.
type ProductReader interface {
	GetByID(ctx context.Context, id int64) (*product.Product, error)
}

// Service implements the cart store operations on behalf of a verified user.
type Service struct {
	tx       Transactor
	products ProductReader
	lines    Repository
	counts   CountCache
}

// Option configures a Service.
type Option func(*Service)

// WithCountCache enables caching of CountLines results.
func WithCountCache(c CountCache) Option {
	return func(s *Service) { s.counts = c }
}

// NewService creates a cart Service.
func NewService(tx Transactor, products ProductReader, lines Repository, opts ...Option) *Service {
	s := &Service{
		tx:       tx,
		products: products,
		lines:    lines,
		counts:   NopCountCache{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// AddLine adds qty units of productID to the user's cart, merging into an
// existing line for the same product. The merged quantity is checked against
// current stock and the whole add is rolled back when it does not fit.
func (s *Service) AddLine(ctx context.Context, userID, productID int64, qty int) (*Item, error) {
	var lineID int64
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		p, err := s.products.GetByID(ctx, productID)
		if err != nil {
			return err
		}
		if err := p.CheckQuantity(qty); err != nil {
			return err
		}

		line, err := s.lines.Merge(ctx, userID, productID, qty)
		if err != nil {
			return fmt.Errorf("merge cart line: %w", err)
		}
		if line.Quantity > p.Stock {
			return apperr.InsufficientStock(p.ID, p.Stock, line.Quantity)
		}
		lineID = line.ID
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.counts.Invalidate(ctx, userID)

	return s.lines.Item(ctx, userID, lineID)
}

// UpdateQuantity replaces the quantity of an owned line after re-validating
// the product's minimum and stock.
func (s *Service) UpdateQuantity(ctx context.Context, userID, lineID int64, qty int) (*Item, error) {
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		line, err := s.lines.Lock(ctx, userID, lineID)
		if err != nil {
			return err
		}
		p, err := s.products.GetByID(ctx, line.ProductID)
		if err != nil {
			return err
		}
		if err := p.CheckBounds(qty); err != nil {
			return err
		}
		return s.lines.SetQuantity(ctx, userID, lineID, qty)
	})
	if err != nil {
		return nil, err
	}

	return s.lines.Item(ctx, userID, lineID)
}

// RemoveLine deletes an owned line.
func (s *Service) RemoveLine(ctx context.Context, userID, lineID int64) error {
	if err := s.lines.Delete(ctx, userID, lineID); err != nil {
		return err
	}
	s.counts.Invalidate(ctx, userID)
	return nil
}

// Clear deletes every line of the user's cart.
func (s *Service) Clear(ctx context.Context, userID int64) error {
	if _, err := s.lines.Clear(ctx, userID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	s.counts.Invalidate(ctx, userID)
	return nil
}

// PurgeUnavailable deletes the lines whose product is currently unavailable
// and returns how many were removed.
func (s *Service) PurgeUnavailable(ctx context.Context, userID int64) (int, error) {
	n, err := s.lines.PurgeUnavailable(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("purge unavailable lines: %w", err)
	}
	if n > 0 {
		s.counts.Invalidate(ctx, userID)
	}
	return n, nil
}

// View returns every line of the cart joined with live product data, plus
// the aggregate summary.
func (s *Service) View(ctx context.Context, userID int64) (*View, error) {
	items, err := s.lines.Items(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list cart items: %w", err)
	}
	return &View{Items: items, Summary: Summarize(items)}, nil
}

// CountLines returns the number of lines in the cart.
func (s *Service) CountLines(ctx context.Context, userID int64) (int, error) {
	n, gen, ok := s.counts.Get(ctx, userID)
	if ok {
		return n, nil
	}
	n, err := s.lines.Count(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("count cart lines: %w", err)
	}
	s.counts.Set(ctx, userID, n, gen)
	return n, nil
}
