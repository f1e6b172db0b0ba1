package order

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Service serves order history reads for a verified user.
type Service struct {
	orders Repository
	images ImageLookup
}

// NewService creates an order Service.
func NewService(orders Repository, images ImageLookup) *Service {
	return &Service{orders: orders, images: images}
}

// ListByUser returns the user's orders, newest first.
func (s *Service) ListByUser(ctx context.Context, userID int64) ([]Order, error) {
	orders, err := s.orders.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

// GetDetail returns an owned order with its lines joined with current product
// names, seller names and first images. Images are fetched with one batched
// lookup over every product of the order.
func (s *Service) GetDetail(ctx context.Context, orderID, userID int64) (*Detail, error) {
	var (
		header *Order
		lines  []DetailLine
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		o, err := s.orders.GetForUser(gctx, orderID, userID)
		if err != nil {
			return err
		}
		header = o
		return nil
	})
	g.Go(func() error {
		ls, err := s.orders.DetailLines(gctx, orderID, userID)
		if err != nil {
			return fmt.Errorf("order lines: %w", err)
		}
		lines = ls
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(lines) > 0 {
		ids := make([]int64, 0, len(lines))
		seen := make(map[int64]struct{}, len(lines))
		for _, l := range lines {
			if _, ok := seen[l.ProductID]; ok {
				continue
			}
			seen[l.ProductID] = struct{}{}
			ids = append(ids, l.ProductID)
		}

		images, err := s.images.FirstImages(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("order images: %w", err)
		}
		for i := range lines {
			lines[i].ImageURL = images[lines[i].ProductID]
		}
	}

	header.Lines = make([]Line, len(lines))
	for i, l := range lines {
		header.Lines[i] = l.Line
	}
	return &Detail{Order: *header, Lines: lines}, nil
}
