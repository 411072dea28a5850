package notify

import (
	"context"
	"fmt"
	"time"

	"registration-system/models"
	"registration-system/utils"

	pubnub "github.com/pubnub/go/v7"
)

// Message is the push payload for a status change.
type Message struct {
	Type           string                    `json:"type"`
	RegistrationID string                    `json:"registration_id"`
	EventID        string                    `json:"event_id"`
	Status         models.RegistrationStatus `json:"status"`
	PreviousStatus models.RegistrationStatus `json:"previous_status"`
	Rendered
	SentAt time.Time `json:"sent_at"`
}

// Publisher pushes a message to one user.
type Publisher interface {
	Publish(ctx context.Context, userID string, msg Message) error
}

// Channel is the per-user PubNub channel clients subscribe to.
func Channel(userID string) string {
	return "user-" + userID
}

type publishFunc func(channel string, payload any) error

// PubNubPublisher publishes through PubNub behind a circuit breaker so a PubNub
// outage does not stall the outbox.
type PubNubPublisher struct {
	publish publishFunc
	breaker *utils.CircuitBreaker
}

// PubNubConfig holds the keys for the push channel.
type PubNubConfig struct {
	PublishKey   string
	SubscribeKey string
	SecretKey    string
	UserID       string
}

func NewPubNubPublisher(cfg PubNubConfig, breaker *utils.CircuitBreaker) *PubNubPublisher {
	pnCfg := pubnub.NewConfigWithUserId(pubnub.UserId(cfg.UserID))
	pnCfg.PublishKey = cfg.PublishKey
	pnCfg.SubscribeKey = cfg.SubscribeKey
	pnCfg.SecretKey = cfg.SecretKey
	pn := pubnub.NewPubNub(pnCfg)

	return &PubNubPublisher{
		publish: func(channel string, payload any) error {
			_, st, err := pn.Publish().
				Channel(channel).
				Message(payload).
				Execute()
			if err != nil {
				return err
			}
			if st.Error != nil {
				return st.Error
			}
			if st.StatusCode >= 300 {
				return fmt.Errorf("pubnub publish: status %d", st.StatusCode)
			}
			return nil
		},
		breaker: breaker,
	}
}

func (p *PubNubPublisher) Publish(ctx context.Context, userID string, msg Message) error {
	return p.breaker.Execute(ctx, func(context.Context) error {
		return p.publish(Channel(userID), msg)
	})
}

// Discard is used when no push keys are configured.
type Discard struct{}

func (Discard) Publish(context.Context, string, Message) error {
	return nil
}
