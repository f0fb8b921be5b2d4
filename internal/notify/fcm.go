package notify

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"github.com/storchat/api/internal/logging"
)

// multicastClient is the subset of *messaging.Client used by FCM.
type multicastClient interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// FCM delivers notifications through Firebase Cloud Messaging.
type FCM struct {
	client multicastClient
	log    *logging.Logger
}

const fcmBatchSize = 500

// NewFCM builds a provider from a service account credentials file.
func NewFCM(ctx context.Context, credentialsFile string, log *logging.Logger) (*FCM, error) {
	if credentialsFile == "" {
		return nil, fmt.Errorf("fcm credentials file is required")
	}
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("init firebase messaging: %w", err)
	}
	return newFCMWithClient(client, log), nil
}

func newFCMWithClient(client multicastClient, log *logging.Logger) *FCM {
	if log == nil {
		log = logging.Default()
	}
	return &FCM{client: client, log: log}
}

func (f *FCM) Name() string { return "fcm" }

// SendMessage sends msg to its tokens in batches of 500. Tokens that FCM
// reports as unregistered or malformed are passed to onInvalid.
func (f *FCM) SendMessage(ctx context.Context, msg Message, onInvalid func(token string)) (Result, error) {
	var result Result
	next := msg.Tokens
	for len(next) > 0 {
		batch := next
		if len(batch) > fcmBatchSize {
			batch = next[:fcmBatchSize]
		}
		next = next[len(batch):]

		resp, err := f.client.SendEachForMulticast(ctx, buildMulticast(msg, batch))
		if err != nil {
			return result, err
		}
		for i, r := range resp.Responses {
			if r.Error == nil {
				continue
			}
			if messaging.IsInvalidArgument(r.Error) || messaging.IsUnregistered(r.Error) {
				result.Invalid++
				if onInvalid != nil {
					onInvalid(batch[i])
				}
				continue
			}
			result.Failed++
			f.log.WithContext(ctx).WithError(r.Error).Warn("fcm returned error")
		}
		result.Sent += resp.SuccessCount
		f.log.WithContext(ctx).WithFields(map[string]interface{}{
			"success": resp.SuccessCount,
			"failure": resp.FailureCount,
		}).Info("push batch sent")
	}
	return result, nil
}

func buildMulticast(msg Message, tokens []string) *messaging.MulticastMessage {
	return &messaging.MulticastMessage{
		Tokens: tokens,
		Data:   msg.Data,
		Notification: &messaging.Notification{
			Title: msg.Title,
			Body:  msg.Body,
		},
	}
}
