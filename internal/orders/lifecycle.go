package orders

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"

	"laundry-booking-backend/internal/metrics"
	"laundry-booking-backend/internal/model"
	"laundry-booking-backend/internal/store"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAuditFailed       = errors.New("tracking record append failed")
)

// sequence is the only legal path through the lifecycle.
var sequence = []model.OrderStatus{
	model.StatusReceived,
	model.StatusWashing,
	model.StatusDrying,
	model.StatusFolding,
	model.StatusReadyForPickup,
	model.StatusCompleted,
}

// Statuses returns the lifecycle states in order.
func Statuses() []model.OrderStatus {
	out := make([]model.OrderStatus, len(sequence))
	copy(out, sequence)
	return out
}

// ValidStatus reports whether s is a lifecycle state.
func ValidStatus(s model.OrderStatus) bool {
	for _, st := range sequence {
		if st == s {
			return true
		}
	}
	return false
}

// Next returns the immediate successor of s. It reports false for the
// terminal state and for unknown values.
func Next(s model.OrderStatus) (model.OrderStatus, bool) {
	for i, st := range sequence {
		if st == s && i+1 < len(sequence) {
			return sequence[i+1], true
		}
	}
	return "", false
}

// Transition is a request to move an order to its next state. An empty
// Target means "whatever comes next"; a non-empty one must be exactly that.
type Transition struct {
	OrderID string
	Target  model.OrderStatus
	Note    string
	ActorID string
}

// Advance moves the order to the successor of its current status.
func (s *Service) Advance(ctx context.Context, orderID string) (model.OrderStatus, error) {
	return s.Transition(ctx, Transition{OrderID: orderID})
}

// Transition applies t. The status write and the tracking append form one
// unit: when the append fails the status is put back and ErrAuditFailed is
// returned.
func (s *Service) Transition(ctx context.Context, t Transition) (model.OrderStatus, error) {
	s.transitionMu.Lock()
	defer s.transitionMu.Unlock()

	now := s.now().UTC()
	var prev, next model.OrderStatus
	_, err := s.store.UpdateFunc(ctx, store.Orders, t.OrderID, func(e store.Entity) (store.Fields, error) {
		if _, err := e.Field("status", &prev); err != nil {
			return nil, err
		}
		n, ok := Next(prev)
		if !ok {
			return nil, fmt.Errorf("%w: order %s is %q", ErrInvalidTransition, t.OrderID, prev)
		}
		if t.Target != "" && t.Target != n {
			return nil, fmt.Errorf("%w: %q -> %q", ErrInvalidTransition, prev, t.Target)
		}
		next = n
		return store.Patch(map[string]any{"status": next, "updatedAt": now})
	})
	if err != nil {
		return "", err
	}

	record := model.TrackingRecord{
		OrderID:   t.OrderID,
		Status:    next,
		Note:      t.Note,
		ActorID:   t.ActorID,
		Timestamp: now,
	}
	if err := s.appendTracking(ctx, record); err != nil {
		metrics.AuditFailures.Inc()
		if rbErr := s.revertStatus(ctx, t.OrderID, prev, next); rbErr != nil {
			log.Printf("FATAL: order %s is %q with no tracking record (append: %v, revert: %v)", t.OrderID, next, err, rbErr)
			return "", fmt.Errorf("%w: order %s left at %q: %v", ErrAuditFailed, t.OrderID, next, err)
		}
		log.Printf("FATAL: tracking append for order %s failed, status reverted to %q: %v", t.OrderID, prev, err)
		return "", fmt.Errorf("%w: %v", ErrAuditFailed, err)
	}

	metrics.OrderTransitions.WithLabelValues(string(next)).Inc()
	log.Printf("order %s advanced %q -> %q", t.OrderID, prev, next)
	if next == model.StatusReadyForPickup && s.notifier != nil {
		s.notifier.Dispatch(t.OrderID)
	}
	return next, nil
}

func (s *Service) appendTracking(ctx context.Context, record model.TrackingRecord) error {
	entity, err := store.ToEntity(record)
	if err != nil {
		return err
	}
	_, err = s.store.Create(ctx, store.Tracking, entity)
	return err
}

func (s *Service) revertStatus(ctx context.Context, orderID string, prev, applied model.OrderStatus) error {
	_, err := s.store.UpdateFunc(ctx, store.Orders, orderID, func(e store.Entity) (store.Fields, error) {
		var current model.OrderStatus
		if _, err := e.Field("status", &current); err != nil {
			return nil, err
		}
		if current != applied {
			return nil, fmt.Errorf("status changed to %q during revert", current)
		}
		return store.Patch(map[string]any{"status": prev})
	})
	return err
}

// CurrentStatus returns the order's status field.
func (s *Service) CurrentStatus(ctx context.Context, orderID string) (model.OrderStatus, error) {
	o, err := s.Get(ctx, orderID)
	if err != nil {
		return "", err
	}
	return o.Status, nil
}

// History returns the order's tracking records, oldest first.
func (s *Service) History(ctx context.Context, orderID string) ([]model.TrackingRecord, error) {
	if _, err := s.store.Get(ctx, store.Orders, orderID); err != nil {
		return nil, err
	}

	entities, err := s.store.List(ctx, store.Tracking)
	if err != nil {
		return nil, err
	}
	history := []model.TrackingRecord{}
	for _, e := range entities {
		var r model.TrackingRecord
		if err := store.Decode(e, &r); err != nil {
			log.Printf("skipping undecodable tracking record %s: %v", e.ID, err)
			continue
		}
		if r.OrderID == orderID {
			history = append(history, r)
		}
	}
	sort.SliceStable(history, func(i, j int) bool {
		return history[i].Timestamp.Before(history[j].Timestamp)
	})
	return history, nil
}
