package notification

import (
	"context"
	"fmt"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"hostel-allocation-backend/internal/model"
)

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

// WorkerPool tells staff subscribed to a hostel that a bed came free there.
type WorkerPool struct {
	size    int
	jobs    chan string
	db      *gorm.DB
	webpush *webpush.Options
	sender  NotificationSender
	log     *zap.Logger
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, db *gorm.DB, webpushOptions *webpush.Options, log *zap.Logger) *WorkerPool {
	if size < 1 {
		size = 1
	}
	return &WorkerPool{
		size:    size,
		jobs:    make(chan string, size*16),
		db:      db,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
		log:     log,
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	wp.log.Debug("notification worker started", zap.Int("worker", id))
	for {
		select {
		case hostelID := <-wp.jobs:
			wp.sendNotificationsForHostel(ctx, hostelID)
		case <-ctx.Done():
			wp.log.Debug("notification worker shutting down", zap.Int("worker", id))
			return
		}
	}
}

// BedFreed queues a notification for hostelID. It never blocks the caller:
// when the queue is full the notification is dropped.
func (wp *WorkerPool) BedFreed(hostelID string) {
	select {
	case wp.jobs <- hostelID:
	default:
		wp.log.Warn("notification queue full, dropping", zap.String("hostel_id", hostelID))
	}
}

func (wp *WorkerPool) sendNotificationsForHostel(ctx context.Context, hostelID string) {
	var subscriptions []model.PushSubscription
	err := wp.db.WithContext(ctx).
		Joins("JOIN subscription_hostel_mapping shm ON shm.push_subscription_endpoint = push_subscriptions.endpoint").
		Where("shm.hostel_id = ?", hostelID).
		Find(&subscriptions).Error
	if err != nil {
		wp.log.Error("failed to fetch subscriptions", zap.String("hostel_id", hostelID), zap.Error(err))
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	label := hostelID
	var hostel model.Hostel
	if err := wp.db.WithContext(ctx).Select("name").Where("id = ?", hostelID).First(&hostel).Error; err != nil {
		wp.log.Warn("failed to look up hostel name", zap.String("hostel_id", hostelID), zap.Error(err))
	} else if hostel.Name != "" {
		label = hostel.Name
	}

	wp.log.Info("sending bed available notifications",
		zap.String("hostel_id", hostelID),
		zap.Int("subscriptions", len(subscriptions)))

	message := fmt.Sprintf("A bed is available in %s", label)
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
		wp.log.Warn("failed to send notification", zap.String("endpoint", sub.Endpoint), zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		wp.log.Info("subscription expired, deleting", zap.String("endpoint", sub.Endpoint))
		if err := wp.db.WithContext(ctx).Select("Hostels").Delete(&sub).Error; err != nil {
			wp.log.Error("failed to delete expired subscription", zap.String("endpoint", sub.Endpoint), zap.Error(err))
		}
	}
}
