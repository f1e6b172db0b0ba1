package memstore

import (
	"context"
	"sort"

	"github.com/xenking/marketplace-checkout/internal/domain/apperr"
	"github.com/xenking/marketplace-checkout/internal/domain/cart"
)

func (s *Store) findLine(userID, productID int64) (cart.Line, bool) {
	for _, l := range s.data.Lines {
		if l.UserID == userID && l.ProductID == productID {
			return l, true
		}
	}
	return cart.Line{}, false
}

func (s *Store) ownedLine(userID, lineID int64) (cart.Line, error) {
	l, ok := s.data.Lines[lineID]
	if !ok || l.UserID != userID {
		return cart.Line{}, apperr.NotFound(apperr.ResourceCartLine, lineID)
	}
	return l, nil
}

// Merge implements cart.Repository.
func (s *Store) Merge(ctx context.Context, userID, productID int64, qty int) (*cart.Line, error) {
	var out cart.Line
	err := s.do(ctx, func() error {
		if l, ok := s.findLine(userID, productID); ok {
			l.Quantity += qty
			s.data.Lines[l.ID] = l
			out = l
			return nil
		}
		out = cart.Line{
			ID:        s.nextID(),
			UserID:    userID,
			ProductID: productID,
			Quantity:  qty,
			CreatedAt: s.now(),
		}
		s.data.Lines[out.ID] = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Lock implements cart.Repository.
func (s *Store) Lock(ctx context.Context, userID, lineID int64) (*cart.Line, error) {
	var out cart.Line
	err := s.do(ctx, func() (err error) {
		out, err = s.ownedLine(userID, lineID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SetQuantity implements cart.Repository.
func (s *Store) SetQuantity(ctx context.Context, userID, lineID int64, qty int) error {
	return s.do(ctx, func() error {
		l, err := s.ownedLine(userID, lineID)
		if err != nil {
			return err
		}
		l.Quantity = qty
		s.data.Lines[lineID] = l
		return nil
	})
}

// Delete implements cart.Repository.
func (s *Store) Delete(ctx context.Context, userID, lineID int64) error {
	return s.do(ctx, func() error {
		if _, err := s.ownedLine(userID, lineID); err != nil {
			return err
		}
		delete(s.data.Lines, lineID)
		return nil
	})
}

// LockAll implements cart.Repository. The store lock already serializes
// transactions, so it only counts.
func (s *Store) LockAll(ctx context.Context, userID int64) (int, error) {
	return s.Count(ctx, userID)
}

// Clear implements cart.Repository.
func (s *Store) Clear(ctx context.Context, userID int64) (int, error) {
	var n int
	err := s.do(ctx, func() error {
		for id, l := range s.data.Lines {
			if l.UserID == userID {
				delete(s.data.Lines, id)
				n++
			}
		}
		return nil
	})
	return n, err
}

// PurgeUnavailable implements cart.Repository.
func (s *Store) PurgeUnavailable(ctx context.Context, userID int64) (int, error) {
	var n int
	err := s.do(ctx, func() error {
		for id, l := range s.data.Lines {
			if l.UserID == userID && !s.data.Products[l.ProductID].Available {
				delete(s.data.Lines, id)
				n++
			}
		}
		return nil
	})
	return n, err
}

// Count implements cart.Repository.
func (s *Store) Count(ctx context.Context, userID int64) (int, error) {
	var n int
	err := s.do(ctx, func() error {
		for _, l := range s.data.Lines {
			if l.UserID == userID {
				n++
			}
		}
		return nil
	})
	return n, err
}

// Item implements cart.Repository.
func (s *Store) Item(ctx context.Context, userID, lineID int64) (*cart.Item, error) {
	var out cart.Item
	err := s.do(ctx, func() error {
		l, err := s.ownedLine(userID, lineID)
		if err != nil {
			return err
		}
		out = cart.Item{Line: l, Product: s.joined(s.data.Products[l.ProductID])}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Items implements cart.Repository.
func (s *Store) Items(ctx context.Context, userID int64) ([]cart.Item, error) {
	items, err := s.items(ctx, userID, false)
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, err
}

// AvailableItems implements cart.Repository.
func (s *Store) AvailableItems(ctx context.Context, userID int64) ([]cart.Item, error) {
	items, err := s.items(ctx, userID, true)
	sort.Slice(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })
	return items, err
}

func (s *Store) items(ctx context.Context, userID int64, onlyAvailable bool) ([]cart.Item, error) {
	var out []cart.Item
	err := s.do(ctx, func() error {
		for _, l := range s.data.Lines {
			if l.UserID != userID {
				continue
			}
			p := s.data.Products[l.ProductID]
			if onlyAvailable && !p.Available {
				continue
			}
			out = append(out, cart.Item{Line: l, Product: s.joined(p)})
		}
		return nil
	})
	return out, err
}
