package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"laundry-booking-backend/internal/model"
	"laundry-booking-backend/internal/store"
)

var (
	ErrLocked       = errors.New("order can no longer be edited")
	ErrInvalidItems = errors.New("order needs at least one item with a service and a positive quantity")
)

// Notifier is told when an order becomes ready for pickup.
type Notifier interface {
	Dispatch(orderID string)
}

// Service owns order records and their lifecycle.
type Service struct {
	store    store.Store
	notifier Notifier
	now      func() time.Time

	// transitionMu serializes transitions so that the status write and its
	// tracking record land in the same order for every order.
	transitionMu sync.Mutex
}

// NewService creates an order service. notifier may be nil.
func NewService(s store.Store, notifier Notifier) *Service {
	return &Service{store: s, notifier: notifier, now: time.Now}
}

// ListFilter narrows List. Zero values match everything.
type ListFilter struct {
	UserID string
	Status model.OrderStatus
}

func validateItems(items []model.LineItem) error {
	if len(items) == 0 {
		return ErrInvalidItems
	}
	for _, it := range items {
		if strings.TrimSpace(it.Service) == "" || it.Quantity <= 0 {
			return ErrInvalidItems
		}
	}
	return nil
}

// Create records a new order in the received state.
func (s *Service) Create(ctx context.Context, userID string, items []model.LineItem) (model.Order, error) {
	if err := validateItems(items); err != nil {
		return model.Order{}, err
	}
	now := s.now().UTC()
	order := model.Order{
		UserID:    userID,
		Items:     items,
		Status:    model.StatusReceived,
		CreatedAt: now,
		UpdatedAt: now,
	}
	entity, err := store.ToEntity(order)
	if err != nil {
		return model.Order{}, err
	}
	created, err := s.store.Create(ctx, store.Orders, entity)
	if err != nil {
		return model.Order{}, err
	}
	order.ID = created.ID
	return order, nil
}

// Get returns one order.
func (s *Service) Get(ctx context.Context, id string) (model.Order, error) {
	e, err := s.store.Get(ctx, store.Orders, id)
	if err != nil {
		return model.Order{}, err
	}
	var o model.Order
	if err := store.Decode(e, &o); err != nil {
		return model.Order{}, err
	}
	return o, nil
}

// List returns orders matching f in creation order.
func (s *Service) List(ctx context.Context, f ListFilter) ([]model.Order, error) {
	entities, err := s.store.List(ctx, store.Orders)
	if err != nil {
		return nil, err
	}
	out := []model.Order{}
	for _, e := range entities {
		var o model.Order
		if err := store.Decode(e, &o); err != nil {
			return nil, err
		}
		if f.UserID != "" && o.UserID != f.UserID {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

// UpdateItems replaces the line items of an order that is still received.
func (s *Service) UpdateItems(ctx context.Context, id string, items []model.LineItem) (model.Order, error) {
	if err := validateItems(items); err != nil {
		return model.Order{}, err
	}
	now := s.now().UTC()
	e, err := s.store.UpdateFunc(ctx, store.Orders, id, func(e store.Entity) (store.Fields, error) {
		var status model.OrderStatus
		if _, err := e.Field("status", &status); err != nil {
			return nil, err
		}
		if status != model.StatusReceived {
			return nil, fmt.Errorf("%w: order %s is %q", ErrLocked, id, status)
		}
		return store.Patch(map[string]any{"items": items, "updatedAt": now})
	})
	if err != nil {
		return model.Order{}, err
	}
	var o model.Order
	if err := store.Decode(e, &o); err != nil {
		return model.Order{}, err
	}
	return o, nil
}

// Delete removes an order. Its tracking records stay as audit evidence.
func (s *Service) Delete(ctx context.Context, id string) (bool, error) {
	return s.store.Delete(ctx, store.Orders, id)
}

// Board counts orders per lifecycle state.
func (s *Service) Board(ctx context.Context) (map[model.OrderStatus]int, error) {
	all, err := s.List(ctx, ListFilter{})
	if err != nil {
		return nil, err
	}
	board := make(map[model.OrderStatus]int, len(sequence))
	for _, st := range sequence {
		board[st] = 0
	}
	for _, o := range all {
		board[o.Status]++
	}
	return board, nil
}
