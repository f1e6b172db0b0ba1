package memstore

import (
	"context"
	"fmt"
	"sort"

	"github.com/xenking/marketplace-checkout/internal/domain/apperr"
	"github.com/xenking/marketplace-checkout/internal/domain/order"
)

// Insert implements order.Repository.
func (s *Store) Insert(ctx context.Context, o *order.Order) error {
	return s.do(ctx, func() error {
		if _, taken := s.numbers[o.Number]; taken {
			return apperr.Conflict(fmt.Errorf("order number %s already taken", o.Number))
		}
		o.ID = s.nextID()
		o.CreatedAt = s.now()

		header := *o
		header.Lines = nil
		s.data.Orders[o.ID] = header
		s.numbers[o.Number] = struct{}{}
		return nil
	})
}

// InsertLine implements order.Repository.
func (s *Store) InsertLine(ctx context.Context, l *order.Line) error {
	return s.do(ctx, func() error {
		if _, ok := s.data.Orders[l.OrderID]; !ok {
			return fmt.Errorf("order %d does not exist", l.OrderID)
		}
		l.ID = s.nextID()
		s.data.OrderLines[l.OrderID] = append(s.data.OrderLines[l.OrderID], *l)
		return nil
	})
}

// ListByUser implements order.Repository.
func (s *Store) ListByUser(ctx context.Context, userID int64) ([]order.Order, error) {
	var out []order.Order
	err := s.do(ctx, func() error {
		for _, o := range s.data.Orders {
			if o.UserID == userID {
				out = append(out, o)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, err
}

// GetForUser implements order.Repository.
func (s *Store) GetForUser(ctx context.Context, orderID, userID int64) (*order.Order, error) {
	var out order.Order
	err := s.do(ctx, func() error {
		o, ok := s.data.Orders[orderID]
		if !ok || o.UserID != userID {
			return apperr.NotFound(apperr.ResourceOrder, orderID)
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DetailLines implements order.Repository.
func (s *Store) DetailLines(ctx context.Context, orderID, userID int64) ([]order.DetailLine, error) {
	var out []order.DetailLine
	err := s.do(ctx, func() error {
		if o, ok := s.data.Orders[orderID]; !ok || o.UserID != userID {
			return nil
		}
		for _, l := range s.data.OrderLines[orderID] {
			out = append(out, order.DetailLine{
				Line:        l,
				ProductName: s.data.Products[l.ProductID].Name,
				SellerName:  s.sellers[l.SellerID].CompanyName,
			})
		}
		return nil
	})
	return out, err
}

// FirstImages implements order.ImageLookup.
func (s *Store) FirstImages(ctx context.Context, productIDs []int64) (map[int64]string, error) {
	out := make(map[int64]string, len(productIDs))
	err := s.do(ctx, func() error {
		for _, id := range productIDs {
			if imgs := s.images[id]; len(imgs) > 0 {
				out[id] = imgs[0]
			}
		}
		return nil
	})
	return out, err
}
