// README: Senders: Firebase Cloud Messaging and a log-only fallback.
package notify

import (
	"context"

	"firebase.google.com/go/v4/messaging"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"hometaste/internal/apperr"
)

var ErrNoDeviceToken = apperr.New(apperr.KindValidation, "user has no device token")

// Messenger is the part of *messaging.Client the sender needs.
type Messenger interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
}

type FCMSender struct {
	client Messenger
	log    logrus.FieldLogger
}

func NewFCMSender(client Messenger, log logrus.FieldLogger) *FCMSender {
	return &FCMSender{client: client, log: log}
}

func (s *FCMSender) Send(ctx context.Context, token string, j Job) error {
	if token == "" {
		return ErrNoDeviceToken
	}
	msg := &messaging.Message{
		Token: token,
		Data: map[string]string{
			"type":         j.Kind,
			"order_id":     string(j.OrderID),
			"order_number": j.OrderNumber,
			"status":       j.Status,
		},
		Notification: &messaging.Notification{
			Title: j.Title,
			Body:  j.Body,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	}
	messageID, err := s.client.Send(ctx, msg)
	if err != nil {
		return errors.Wrapf(err, "send fcm for order %s", j.OrderID)
	}
	s.log.WithFields(logrus.Fields{"order_id": j.OrderID, "message_id": messageID}).Debug("fcm sent")
	return nil
}

// LogSender writes jobs to the log; used when Firebase is not configured.
type LogSender struct {
	Log logrus.FieldLogger
}

func (s LogSender) Send(_ context.Context, token string, j Job) error {
	s.Log.WithFields(logrus.Fields{
		"user_id":  j.UserID,
		"order_id": j.OrderID,
		"title":    j.Title,
		"body":     j.Body,
	}).Info("notification (log only)")
	return nil
}
