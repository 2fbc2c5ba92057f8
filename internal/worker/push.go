package worker

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	notificationTitle = "Roam"
	notificationBody  = "You have a new travel update."
	notificationIcon  = "/icons/icon-192x192.png"
	notificationBadge = "/icons/icon-72x72.png"

	ActionExplore = "explore"
	ActionClose   = "close"
)

// NotificationAction is a button shown on a notification.
type NotificationAction struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	Icon   string `json:"icon,omitempty"`
}

// Notification is what a push event turns into.
type Notification struct {
	ID        string               `json:"id"`
	Title     string               `json:"title"`
	Body      string               `json:"body"`
	Icon      string               `json:"icon"`
	Badge     string               `json:"badge"`
	Vibrate   []int                `json:"vibrate,omitempty"`
	Actions   []NotificationAction `json:"actions"`
	CreatedAt time.Time            `json:"created_at"`
}

// Notifier displays notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

type discardNotifier struct{}

func (discardNotifier) Notify(context.Context, Notification) error { return nil }

// BuildNotification returns the notification for a push payload. An empty
// payload gets the default body.
func BuildNotification(payload []byte, now time.Time) Notification {
	body := strings.TrimSpace(string(payload))
	if body == "" {
		body = notificationBody
	}
	return Notification{
		ID:      uuid.NewString(),
		Title:   notificationTitle,
		Body:    body,
		Icon:    notificationIcon,
		Badge:   notificationBadge,
		Vibrate: []int{100, 50, 100},
		Actions: []NotificationAction{
			{Action: ActionExplore, Title: "View", Icon: notificationIcon},
			{Action: ActionClose, Title: "Close"},
		},
		CreatedAt: now,
	}
}

// HandlePush builds the notification for payload and hands it to the
// notifier. Delivery runs as extended work so Retire waits for it.
func (w *Worker) HandlePush(payload []byte) Notification {
	n := BuildNotification(payload, w.now())
	w.waitUntil("push", func(ctx context.Context) {
		if err := w.notifier.Notify(ctx, n); err != nil {
			w.logger.Warn("notification delivery failed", "id", n.ID, "error", err)
		}
	})
	return n
}

// HandleNotificationClick resolves a notification action. "explore" opens
// the configured in-app route; any other action just dismisses.
func (w *Worker) HandleNotificationClick(action string) (route string, open bool) {
	if action != ActionExplore {
		return "", false
	}
	route = w.opts.NotificationRoute
	if route == "" {
		route = "/"
	}
	return route, true
}
