package service

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

// DevEmailService logs outgoing mail and keeps contact lists in memory.
type DevEmailService struct {
	logger *slog.Logger

	mu        sync.Mutex
	sent      []EmailMessage
	lists     map[string]map[string]map[string]SubscriptionStatus
	topics    map[string][]string
	templates map[string]EmailTemplateSpec
}

func NewDevEmailService(logger *slog.Logger) *DevEmailService {
	return &DevEmailService{
		logger:    logger,
		lists:     make(map[string]map[string]map[string]SubscriptionStatus),
		topics:    make(map[string][]string),
		templates: make(map[string]EmailTemplateSpec),
	}
}

func (s *DevEmailService) Send(ctx context.Context, msg EmailMessage) error {
	s.mu.Lock()
	s.sent = append(s.sent, msg)
	s.mu.Unlock()

	attrs := []any{"to", msg.To, "from", msg.From, "subject", msg.Subject}
	if msg.Template != nil {
		attrs = append(attrs, "template", msg.Template.Name)
	}
	if msg.Text != "" {
		attrs = append(attrs, "body", msg.Text)
	}
	s.logger.InfoContext(ctx, "email queued", attrs...)
	return nil
}

// Sent returns a copy of every message handed to Send.
func (s *DevEmailService) Sent() []EmailMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]EmailMessage(nil), s.sent...)
}

func (s *DevEmailService) UpsertContact(ctx context.Context, list, email, topic string) error {
	s.setStatus(list, email, topic, SubscriptionOptIn)
	s.logger.InfoContext(ctx, "contact subscribed", "list", list, "email", email, "topic", topic)
	return nil
}

func (s *DevEmailService) Unsubscribe(ctx context.Context, list, email, topic string) error {
	s.mu.Lock()
	_, ok := s.lists[list][email]
	s.mu.Unlock()
	if ok {
		s.setStatus(list, email, topic, SubscriptionOptOut)
	}
	s.logger.InfoContext(ctx, "contact unsubscribed", "list", list, "email", email, "topic", topic)
	return nil
}

func (s *DevEmailService) DeleteContact(ctx context.Context, list, email string) error {
	s.mu.Lock()
	delete(s.lists[list], email)
	s.mu.Unlock()
	s.logger.InfoContext(ctx, "contact deleted", "list", list, "email", email)
	return nil
}

func (s *DevEmailService) ListSubscribers(_ context.Context, list, topic string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for email, prefs := range s.lists[list] {
		if prefs[topic] == SubscriptionOptIn {
			out = append(out, email)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Status reports a contact's topic status and whether the contact exists.
func (s *DevEmailService) Status(list, email, topic string) (SubscriptionStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefs, ok := s.lists[list][email]
	if !ok {
		return "", false
	}
	return prefs[topic], true
}

func (s *DevEmailService) EnsureContactList(_ context.Context, spec ContactListSpec) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.lists[spec.Name]
	if !exists {
		s.lists[spec.Name] = make(map[string]map[string]SubscriptionStatus)
	}
	for _, t := range s.topics[spec.Name] {
		if t == spec.TopicName {
			return !exists, nil
		}
	}
	s.topics[spec.Name] = append(s.topics[spec.Name], spec.TopicName)
	return !exists, nil
}

func (s *DevEmailService) UpsertTemplate(_ context.Context, spec EmailTemplateSpec) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.templates[spec.Name]
	s.templates[spec.Name] = spec
	return !exists, nil
}

func (s *DevEmailService) ListContactLists(context.Context) ([]ContactListSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ContactListSummary, 0, len(s.lists))
	for name := range s.lists {
		out = append(out, ContactListSummary{Name: name, Topics: append([]string(nil), s.topics[name]...)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *DevEmailService) setStatus(list, email, topic string, status SubscriptionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lists[list] == nil {
		s.lists[list] = make(map[string]map[string]SubscriptionStatus)
	}
	if s.lists[list][email] == nil {
		s.lists[list][email] = make(map[string]SubscriptionStatus)
	}
	s.lists[list][email][topic] = status
}
