package store

import "time"

// Delivery statuses
const (
	DeliveryPending   = "pending"
	DeliveryRetry     = "retry"
	DeliveryDelivered = "delivered"
	DeliveryFailed    = "failed"
)

type WebhookDelivery struct {
	ID             string     `json:"id"`
	TenantID       string     `json:"tenantId"`
	SubscriptionID string     `json:"subscriptionId,omitempty"`
	EventType      string     `json:"eventType"`
	URL            string     `json:"url"`
	Secret         string     `json:"-"`
	Payload        []byte     `json:"-"`
	Status         string     `json:"status"`
	Attempts       int        `json:"attempts"`
	NextAttemptAt  *time.Time `json:"nextAttemptAt,omitempty"`
	LastError      string     `json:"lastError,omitempty"`
	ResponseCode   int        `json:"responseCode,omitempty"`
}
