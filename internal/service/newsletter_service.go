package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"strings"
	"time"

	"github.com/calendarhub/intake/internal/domain"
	"github.com/calendarhub/intake/internal/observability"
	"github.com/calendarhub/intake/internal/security"
)

const SignupReceivedMessage = "Please check your email (and maybe your junk folder!) to confirm your subscription."

var (
	ErrNewsletterDisabled = errors.New("site has no newsletter configured")
	ErrInvalidFeedback    = errors.New("invalid feedback notification")
)

var confirmationEmailTemplate = template.Must(template.New("confirm").Parse(
	`<p>Thanks for signing up for the {{.SiteName}} newsletter.</p>` +
		`<p><a href="{{.URL}}">Confirm your subscription</a></p>` +
		`<p>This link expires in {{.Hours}} hours. If you did not sign up, ignore this email.</p>`,
))

type NewsletterMailer interface {
	EmailSender
	ContactManager
}

type NewsletterServiceConfig struct {
	PublicBaseURL string
	SenderEmail   string
}

// NewsletterService runs double opt-in for contact lists. Every mutation
// re-validates the signed link; a prior preview is never trusted.
type NewsletterService struct {
	links     *security.LinkProtocol
	mailer    NewsletterMailer
	validator *Validator
	cfg       NewsletterServiceConfig
	logger    *slog.Logger
	now       func() time.Time
}

func NewNewsletterService(links *security.LinkProtocol, mailer NewsletterMailer, validator *Validator, cfg NewsletterServiceConfig, logger *slog.Logger) *NewsletterService {
	if logger == nil {
		logger = slog.Default()
	}
	return &NewsletterService{links: links, mailer: mailer, validator: validator, cfg: cfg, logger: logger, now: time.Now}
}

func linkScope(site domain.Site) []string {
	return []string{site.ContactListName, site.TopicName}
}

// LinkURL renders the absolute URL of link for action ("confirm" or
// "unsubscribe") under the site's newsletter routes.
func (s *NewsletterService) LinkURL(site domain.Site, action string, link security.Link) string {
	return strings.TrimRight(s.cfg.PublicBaseURL, "/") + "/" + site.Slug + "/newsletter" + link.Path(action)
}

func (s *NewsletterService) Signup(ctx context.Context, site domain.Site, email string) error {
	if !site.HasNewsletter() {
		return ErrNewsletterDisabled
	}
	email = strings.TrimSpace(email)
	if err := s.validator.Email(email); err != nil {
		observability.RecordNewsletterEvent(ctx, "signup", "invalid")
		return err
	}

	link, err := s.links.Issue(ctx, email, linkScope(site), s.now())
	if err != nil {
		observability.RecordNewsletterEvent(ctx, "signup", "error")
		return err
	}
	url := s.LinkURL(site, "confirm", link)

	var html bytes.Buffer
	if err := confirmationEmailTemplate.Execute(&html, map[string]any{
		"SiteName": site.Name,
		"URL":      url,
		"Hours":    int(s.links.MaxAge().Hours()),
	}); err != nil {
		return fmt.Errorf("render confirmation email: %w", err)
	}

	msg := EmailMessage{
		To:      []string{email},
		From:    s.fromAddress(site),
		ReplyTo: s.replyTo(site),
		Subject: "Confirm your subscription to " + site.Name,
		Text:    "Confirm your subscription by visiting: " + url,
		HTML:    html.String(),
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		observability.RecordNewsletterEvent(ctx, "signup", "email_error")
		return fmt.Errorf("send subscription confirmation: %w", err)
	}
	observability.RecordNewsletterEvent(ctx, "signup", "success")
	s.logger.InfoContext(ctx, "newsletter signup link sent", "site", site.Slug)
	return nil
}

func (s *NewsletterService) fromAddress(site domain.Site) string {
	if site.FromEmail != "" {
		return site.FromEmail
	}
	return s.cfg.SenderEmail
}

func (s *NewsletterService) replyTo(site domain.Site) string {
	if site.ReplyToEmail != "" {
		return site.ReplyToEmail
	}
	return site.FromEmail
}

// PreviewConfirm checks a confirm link without changing anything.
func (s *NewsletterService) PreviewConfirm(ctx context.Context, site domain.Site, link security.Link) (security.Claims, error) {
	if !site.HasNewsletter() {
		return security.Claims{}, ErrNewsletterDisabled
	}
	return s.links.Validate(ctx, link, linkScope(site), s.now())
}

// Confirm re-validates the link, expiry included, and opts the address in.
func (s *NewsletterService) Confirm(ctx context.Context, site domain.Site, link security.Link) (security.Claims, error) {
	claims, err := s.PreviewConfirm(ctx, site, link)
	if err != nil {
		observability.RecordNewsletterEvent(ctx, "confirm", "rejected")
		return security.Claims{}, err
	}
	if err := s.mailer.UpsertContact(ctx, site.ContactListName, claims.Identity, site.TopicName); err != nil {
		observability.RecordNewsletterEvent(ctx, "confirm", "error")
		return security.Claims{}, fmt.Errorf("subscribe contact: %w", err)
	}
	observability.RecordNewsletterEvent(ctx, "confirm", "success")
	s.logger.InfoContext(ctx, "newsletter subscription confirmed", "site", site.Slug, "list", site.ContactListName)
	return claims, nil
}

// PreviewUnsubscribe checks an unsubscribe link. Unsubscribe links carry no
// expiry.
func (s *NewsletterService) PreviewUnsubscribe(ctx context.Context, site domain.Site, link security.Link) (security.Claims, error) {
	if !site.HasNewsletter() {
		return security.Claims{}, ErrNewsletterDisabled
	}
	return s.links.ValidateWithoutExpiry(ctx, link, linkScope(site))
}

func (s *NewsletterService) Unsubscribe(ctx context.Context, site domain.Site, link security.Link) (security.Claims, error) {
	claims, err := s.PreviewUnsubscribe(ctx, site, link)
	if err != nil {
		observability.RecordNewsletterEvent(ctx, "unsubscribe", "rejected")
		return security.Claims{}, err
	}
	if err := s.mailer.Unsubscribe(ctx, site.ContactListName, claims.Identity, site.TopicName); err != nil {
		observability.RecordNewsletterEvent(ctx, "unsubscribe", "error")
		return security.Claims{}, fmt.Errorf("unsubscribe contact: %w", err)
	}
	observability.RecordNewsletterEvent(ctx, "unsubscribe", "success")
	s.logger.InfoContext(ctx, "newsletter unsubscribe processed", "site", site.Slug, "list", site.ContactListName)
	return claims, nil
}

// FeedbackNotification is the subset of an SES bounce or complaint
// notification the service acts on.
type FeedbackNotification struct {
	NotificationType string `json:"notificationType"`
	Bounce           *struct {
		BounceType        string `json:"bounceType"`
		BouncedRecipients []struct {
			EmailAddress string `json:"emailAddress"`
		} `json:"bouncedRecipients"`
	} `json:"bounce,omitempty"`
	Complaint *struct {
		ComplainedRecipients []struct {
			EmailAddress string `json:"emailAddress"`
		} `json:"complainedRecipients"`
	} `json:"complaint,omitempty"`
}

// ParseFeedback accepts a bare SES notification or one wrapped in an SNS
// envelope whose Message field holds the notification as a string.
func ParseFeedback(body []byte) (FeedbackNotification, error) {
	var envelope struct {
		Type    string `json:"Type"`
		Message string `json:"Message"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return FeedbackNotification{}, fmt.Errorf("%w: %v", ErrInvalidFeedback, err)
	}
	if envelope.Message != "" {
		body = []byte(envelope.Message)
	}
	var n FeedbackNotification
	if err := json.Unmarshal(body, &n); err != nil {
		return FeedbackNotification{}, fmt.Errorf("%w: %v", ErrInvalidFeedback, err)
	}
	return n, nil
}

// Recipients returns the addresses to drop: permanent bounces and every
// complaint. Transient bounces are ignored.
func (n FeedbackNotification) Recipients() []string {
	var out []string
	switch n.NotificationType {
	case "Bounce":
		if n.Bounce == nil || n.Bounce.BounceType != "Permanent" {
			return nil
		}
		for _, r := range n.Bounce.BouncedRecipients {
			out = append(out, r.EmailAddress)
		}
	case "Complaint":
		if n.Complaint == nil {
			return nil
		}
		for _, r := range n.Complaint.ComplainedRecipients {
			out = append(out, r.EmailAddress)
		}
	}
	return out
}

// HandleFeedback deletes bounced and complaining contacts. A failure on one
// address does not stop the others; the count of removed contacts is
// returned with the joined errors.
func (s *NewsletterService) HandleFeedback(ctx context.Context, site domain.Site, n FeedbackNotification) (int, error) {
	if !site.HasNewsletter() {
		return 0, ErrNewsletterDisabled
	}
	var (
		removed int
		errs    []error
	)
	for _, email := range n.Recipients() {
		if err := s.mailer.DeleteContact(ctx, site.ContactListName, email); err != nil {
			s.logger.WarnContext(ctx, "remove contact after feedback failed",
				"site", site.Slug,
				"notification_type", n.NotificationType,
				"error", err,
			)
			errs = append(errs, err)
			continue
		}
		removed++
	}
	outcome := "success"
	if len(errs) > 0 {
		outcome = "partial"
	}
	observability.RecordNewsletterEvent(ctx, "feedback", outcome)
	return removed, errors.Join(errs...)
}

type BroadcastContent struct {
	HTML string
	Text string
}

type BroadcastSummary struct {
	Sent   int `json:"successful_sends"`
	Failed int `json:"failed_sends"`
}

func (b BroadcastSummary) Message() string {
	return fmt.Sprintf("Newsletter sent successfully to %d subscribers (%d failures)", b.Sent, b.Failed)
}

// Broadcast sends the site's stored template to every opted-in subscriber,
// one message per address, each with its own unsubscribe link.
func (s *NewsletterService) Broadcast(ctx context.Context, site domain.Site, content BroadcastContent) (BroadcastSummary, error) {
	if !site.HasNewsletter() {
		return BroadcastSummary{}, ErrNewsletterDisabled
	}
	if site.TemplateName == "" {
		return BroadcastSummary{}, fmt.Errorf("%w: no template for %s", ErrNewsletterDisabled, site.Slug)
	}
	subscribers, err := s.mailer.ListSubscribers(ctx, site.ContactListName, site.TopicName)
	if err != nil {
		return BroadcastSummary{}, fmt.Errorf("list subscribers: %w", err)
	}

	var summary BroadcastSummary
	for _, email := range subscribers {
		if err := s.sendIssue(ctx, site, email, content); err != nil {
			summary.Failed++
			s.logger.WarnContext(ctx, "newsletter send failed", "site", site.Slug, "error", err)
			continue
		}
		summary.Sent++
	}
	observability.RecordNewsletterEvent(ctx, "broadcast", "completed")
	s.logger.InfoContext(ctx, "newsletter broadcast completed",
		"site", site.Slug,
		"sent", summary.Sent,
		"failed", summary.Failed,
	)
	return summary, nil
}

func (s *NewsletterService) sendIssue(ctx context.Context, site domain.Site, email string, content BroadcastContent) error {
	link, err := s.links.Issue(ctx, email, linkScope(site), s.now())
	if err != nil {
		return err
	}
	return s.mailer.Send(ctx, EmailMessage{
		To:      []string{email},
		From:    s.fromAddress(site),
		ReplyTo: s.replyTo(site),
		Template: &EmailTemplateRef{
			Name: site.TemplateName,
			Data: map[string]string{
				"content":         content.HTML,
				"text_content":    content.Text,
				"unsubscribe_url": s.LinkURL(site, "unsubscribe", link),
			},
		},
		ListManagement: &ListRef{ContactList: site.ContactListName, Topic: site.TopicName},
	})
}

// NewsletterTemplate is the stored template provisioned for a site. The
// content placeholders match what Broadcast sends.
func NewsletterTemplate(site domain.Site) EmailTemplateSpec {
	return EmailTemplateSpec{
		Name:    site.TemplateName,
		Subject: site.Name + " Newsletter",
		HTML: "{{content}}<br><br>You received this email because you subscribed to " + site.Name +
			`. To unsubscribe, click <a href="{{unsubscribe_url}}">here</a> or use {{amazonSESUnsubscribeUrl}}`,
		Text: "{{text_content}}\n\nYou received this email because you subscribed to " + site.Name +
			". To unsubscribe, visit: {{unsubscribe_url}}",
	}
}

// NewsletterContactList is the contact list and topic provisioned for a site.
func NewsletterContactList(site domain.Site) ContactListSpec {
	return ContactListSpec{
		Name:             site.ContactListName,
		Description:      "Subscribers for " + site.Name,
		TopicName:        site.TopicName,
		TopicDisplayName: site.Name,
		TopicDescription: site.Name + " newsletter",
	}
}
