package service

import (
	"context"
	"errors"
)

var ErrEmailDeliveryFailed = errors.New("email delivery failed")

type SubscriptionStatus string

const (
	SubscriptionOptIn  SubscriptionStatus = "OPT_IN"
	SubscriptionOptOut SubscriptionStatus = "OPT_OUT"
)

// EmailTemplateRef selects a stored template instead of an inline body.
type EmailTemplateRef struct {
	Name string
	Data map[string]string
}

// ListRef attaches list-management headers (one-click unsubscribe) to a send.
type ListRef struct {
	ContactList string
	Topic       string
}

type EmailMessage struct {
	To             []string
	From           string
	ReplyTo        string
	Subject        string
	Text           string
	HTML           string
	Template       *EmailTemplateRef
	ListManagement *ListRef
}

type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// ContactManager mutates contact-list membership. UpsertContact must be safe
// to call repeatedly for the same address.
type ContactManager interface {
	UpsertContact(ctx context.Context, list, email, topic string) error
	Unsubscribe(ctx context.Context, list, email, topic string) error
	DeleteContact(ctx context.Context, list, email string) error
	ListSubscribers(ctx context.Context, list, topic string) ([]string, error)
}

type ContactListSpec struct {
	Name             string
	Description      string
	TopicName        string
	TopicDisplayName string
	TopicDescription string
}

type EmailTemplateSpec struct {
	Name    string
	Subject string
	HTML    string
	Text    string
}

type ContactListSummary struct {
	Name   string
	Topics []string
}

// ListAdmin provisions lists and templates for the management CLI.
type ListAdmin interface {
	EnsureContactList(ctx context.Context, spec ContactListSpec) (bool, error)
	UpsertTemplate(ctx context.Context, spec EmailTemplateSpec) (bool, error)
	ListContactLists(ctx context.Context) ([]ContactListSummary, error)
}

type EmailService interface {
	EmailSender
	ContactManager
	ListAdmin
}
