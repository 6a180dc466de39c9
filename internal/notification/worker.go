package notification

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"gorm.io/gorm"

	"laundry-booking-backend/internal/model"
	"laundry-booking-backend/internal/store"
)

// queueSize bounds how many orders can wait for a worker.
const queueSize = 64

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// WorkerPool tells order owners that their laundry is ready.
type WorkerPool struct {
	size    int
	jobs    chan string
	db      *gorm.DB
	orders  store.Store
	webpush *webpush.Options
	sender  NotificationSender
}

// NewWorkerPool creates a new worker pool. Order owners are looked up in
// orders and their subscriptions in db.
func NewWorkerPool(size int, db *gorm.DB, orders store.Store, webpushOptions *webpush.Options) *WorkerPool {
	return &WorkerPool{
		size:    size,
		jobs:    make(chan string, queueSize),
		db:      db,
		orders:  orders,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
	}
}

// WithSender replaces the push transport.
func (wp *WorkerPool) WithSender(s NotificationSender) *WorkerPool {
	wp.sender = s
	return wp
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	log.Printf("Worker %d started", id)
	for {
		select {
		case orderID := <-wp.jobs:
			wp.notifyOwner(ctx, orderID)
		case <-ctx.Done():
			log.Printf("Worker %d shutting down", id)
			return
		}
	}
}

// Dispatch queues a ready-for-pickup notification for orderID. It never
// blocks; when the queue is full the notification is dropped.
func (wp *WorkerPool) Dispatch(orderID string) {
	select {
	case wp.jobs <- orderID:
	default:
		log.Printf("notification queue full, dropping ready notice for order %s", orderID)
	}
}

func (wp *WorkerPool) notifyOwner(ctx context.Context, orderID string) {
	order, err := wp.orders.Get(ctx, store.Orders, orderID)
	if err != nil {
		log.Printf("Error loading order %s for notification: %v", orderID, err)
		return
	}
	var userID string
	if ok, err := order.Field("userId", &userID); !ok || err != nil || userID == "" {
		log.Printf("Order %s has no owner to notify", orderID)
		return
	}

	var subscriptions []model.PushSubscription
	if err := wp.db.WithContext(ctx).Where("user_id = ?", userID).Find(&subscriptions).Error; err != nil {
		log.Printf("Error fetching subscriptions for user %s: %v", userID, err)
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	log.Printf("Sending %d notifications for order %s", len(subscriptions), orderID)
	message := fmt.Sprintf("Your laundry order %s is ready for pickup", orderID)
	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, []byte(message))
	}
}

func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		log.Printf("Error sending notification to %s: %v", sub.Endpoint, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		log.Printf("Subscription for endpoint %s is expired. Deleting.", sub.Endpoint)
		if err := wp.db.WithContext(ctx).Delete(&sub).Error; err != nil {
			log.Printf("Failed to delete expired subscription %s: %v", sub.Endpoint, err)
		}
	}
}
