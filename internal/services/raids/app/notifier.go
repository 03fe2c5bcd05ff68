package app

import (
	"context"
	"log"
)

// Notifier forwards outcome messages to the chat front-end. Delivery
// transport is the front-end's concern; failures are reported back so
// callers can log and move on, never abort.
type Notifier interface {
	NotifyUser(ctx context.Context, userID int64, message string) error
	NotifyAdmins(ctx context.Context, message string) error
	NotifyGroup(ctx context.Context, groupID int64, message string) error
}

// NopNotifier drops all notifications.
type NopNotifier struct{}

// NotifyUser implements Notifier.
func (NopNotifier) NotifyUser(context.Context, int64, string) error { return nil }

// NotifyAdmins implements Notifier.
func (NopNotifier) NotifyAdmins(context.Context, string) error { return nil }

// NotifyGroup implements Notifier.
func (NopNotifier) NotifyGroup(context.Context, int64, string) error { return nil }

// LogNotifier writes notifications to the process log. It stands in when no
// chat front-end is attached, such as the maintenance CLI.
type LogNotifier struct{}

// NotifyUser implements Notifier.
func (LogNotifier) NotifyUser(_ context.Context, userID int64, message string) error {
	log.Printf("notify user %d: %s", userID, message)
	return nil
}

// NotifyAdmins implements Notifier.
func (LogNotifier) NotifyAdmins(_ context.Context, message string) error {
	log.Printf("notify admins: %s", message)
	return nil
}

// NotifyGroup implements Notifier.
func (LogNotifier) NotifyGroup(_ context.Context, groupID int64, message string) error {
	log.Printf("notify group %d: %s", groupID, message)
	return nil
}

func (s *Service) notifyUser(ctx context.Context, userID int64, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyUser(ctx, userID, message); err != nil {
		log.Printf("notify user %d: %v", userID, err)
	}
}

func (s *Service) notifyAdmins(ctx context.Context, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyAdmins(ctx, message); err != nil {
		log.Printf("notify admins: %v", err)
	}
}
