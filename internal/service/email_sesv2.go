package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

type sesv2API interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
	CreateContact(ctx context.Context, params *sesv2.CreateContactInput, optFns ...func(*sesv2.Options)) (*sesv2.CreateContactOutput, error)
	GetContact(ctx context.Context, params *sesv2.GetContactInput, optFns ...func(*sesv2.Options)) (*sesv2.GetContactOutput, error)
	UpdateContact(ctx context.Context, params *sesv2.UpdateContactInput, optFns ...func(*sesv2.Options)) (*sesv2.UpdateContactOutput, error)
	DeleteContact(ctx context.Context, params *sesv2.DeleteContactInput, optFns ...func(*sesv2.Options)) (*sesv2.DeleteContactOutput, error)
	ListContacts(ctx context.Context, params *sesv2.ListContactsInput, optFns ...func(*sesv2.Options)) (*sesv2.ListContactsOutput, error)
	GetContactList(ctx context.Context, params *sesv2.GetContactListInput, optFns ...func(*sesv2.Options)) (*sesv2.GetContactListOutput, error)
	CreateContactList(ctx context.Context, params *sesv2.CreateContactListInput, optFns ...func(*sesv2.Options)) (*sesv2.CreateContactListOutput, error)
	UpdateContactList(ctx context.Context, params *sesv2.UpdateContactListInput, optFns ...func(*sesv2.Options)) (*sesv2.UpdateContactListOutput, error)
	ListContactLists(ctx context.Context, params *sesv2.ListContactListsInput, optFns ...func(*sesv2.Options)) (*sesv2.ListContactListsOutput, error)
	GetEmailTemplate(ctx context.Context, params *sesv2.GetEmailTemplateInput, optFns ...func(*sesv2.Options)) (*sesv2.GetEmailTemplateOutput, error)
	CreateEmailTemplate(ctx context.Context, params *sesv2.CreateEmailTemplateInput, optFns ...func(*sesv2.Options)) (*sesv2.CreateEmailTemplateOutput, error)
	UpdateEmailTemplate(ctx context.Context, params *sesv2.UpdateEmailTemplateInput, optFns ...func(*sesv2.Options)) (*sesv2.UpdateEmailTemplateOutput, error)
}

// SESEmailService sends mail and manages contact lists through SES v2.
type SESEmailService struct {
	client sesv2API
}

func NewSESEmailService(cfg aws.Config) *SESEmailService {
	return &SESEmailService{client: sesv2.NewFromConfig(cfg)}
}

func (s *SESEmailService) Send(ctx context.Context, msg EmailMessage) error {
	in := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.From),
		Destination:      &sestypes.Destination{ToAddresses: msg.To},
		Content:          &sestypes.EmailContent{},
	}
	if msg.ReplyTo != "" {
		in.ReplyToAddresses = []string{msg.ReplyTo}
	}
	if msg.Template != nil {
		data, err := json.Marshal(msg.Template.Data)
		if err != nil {
			return fmt.Errorf("encode template data: %w", err)
		}
		in.Content.Template = &sestypes.Template{
			TemplateName: aws.String(msg.Template.Name),
			TemplateData: aws.String(string(data)),
		}
	} else {
		body := &sestypes.Body{}
		if msg.Text != "" {
			body.Text = utf8Content(msg.Text)
		}
		if msg.HTML != "" {
			body.Html = utf8Content(msg.HTML)
		}
		in.Content.Simple = &sestypes.Message{Subject: utf8Content(msg.Subject), Body: body}
	}
	if msg.ListManagement != nil {
		in.ListManagementOptions = &sestypes.ListManagementOptions{
			ContactListName: aws.String(msg.ListManagement.ContactList),
			TopicName:       aws.String(msg.ListManagement.Topic),
		}
	}
	if _, err := s.client.SendEmail(ctx, in); err != nil {
		return fmt.Errorf("%w: %v", ErrEmailDeliveryFailed, err)
	}
	return nil
}

func (s *SESEmailService) UpsertContact(ctx context.Context, list, email, topic string) error {
	_, err := s.client.CreateContact(ctx, &sesv2.CreateContactInput{
		ContactListName: aws.String(list),
		EmailAddress:    aws.String(email),
		TopicPreferences: []sestypes.TopicPreference{{
			TopicName:          aws.String(topic),
			SubscriptionStatus: sestypes.SubscriptionStatusOptIn,
		}},
	})
	if err == nil {
		return nil
	}
	var exists *sestypes.AlreadyExistsException
	if !errors.As(err, &exists) {
		return fmt.Errorf("create contact: %w", err)
	}
	return s.setTopicStatus(ctx, list, email, topic, sestypes.SubscriptionStatusOptIn)
}

func (s *SESEmailService) Unsubscribe(ctx context.Context, list, email, topic string) error {
	err := s.setTopicStatus(ctx, list, email, topic, sestypes.SubscriptionStatusOptOut)
	var notFound *sestypes.NotFoundException
	if errors.As(err, &notFound) {
		return nil
	}
	return err
}

func (s *SESEmailService) DeleteContact(ctx context.Context, list, email string) error {
	_, err := s.client.DeleteContact(ctx, &sesv2.DeleteContactInput{
		ContactListName: aws.String(list),
		EmailAddress:    aws.String(email),
	})
	var notFound *sestypes.NotFoundException
	if err != nil && !errors.As(err, &notFound) {
		return fmt.Errorf("delete contact: %w", err)
	}
	return nil
}

func (s *SESEmailService) ListSubscribers(ctx context.Context, list, topic string) ([]string, error) {
	var out []string
	var next *string
	for {
		page, err := s.client.ListContacts(ctx, &sesv2.ListContactsInput{
			ContactListName: aws.String(list),
			NextToken:       next,
		})
		if err != nil {
			return nil, fmt.Errorf("list contacts: %w", err)
		}
		for _, c := range page.Contacts {
			if c.UnsubscribeAll {
				continue
			}
			for _, pref := range c.TopicPreferences {
				if aws.ToString(pref.TopicName) == topic && pref.SubscriptionStatus == sestypes.SubscriptionStatusOptIn {
					out = append(out, aws.ToString(c.EmailAddress))
					break
				}
			}
		}
		if aws.ToString(page.NextToken) == "" {
			return out, nil
		}
		next = page.NextToken
	}
}

func (s *SESEmailService) EnsureContactList(ctx context.Context, spec ContactListSpec) (bool, error) {
	topic := sestypes.Topic{
		TopicName:                 aws.String(spec.TopicName),
		DisplayName:               aws.String(spec.TopicDisplayName),
		Description:               aws.String(spec.TopicDescription),
		DefaultSubscriptionStatus: sestypes.SubscriptionStatusOptOut,
	}
	current, err := s.client.GetContactList(ctx, &sesv2.GetContactListInput{ContactListName: aws.String(spec.Name)})
	if err != nil {
		var notFound *sestypes.NotFoundException
		if !errors.As(err, &notFound) {
			return false, fmt.Errorf("get contact list: %w", err)
		}
		if _, err := s.client.CreateContactList(ctx, &sesv2.CreateContactListInput{
			ContactListName: aws.String(spec.Name),
			Description:     aws.String(spec.Description),
			Topics:          []sestypes.Topic{topic},
		}); err != nil {
			return false, fmt.Errorf("create contact list: %w", err)
		}
		return true, nil
	}
	for _, t := range current.Topics {
		if aws.ToString(t.TopicName) == spec.TopicName {
			return false, nil
		}
	}
	if _, err := s.client.UpdateContactList(ctx, &sesv2.UpdateContactListInput{
		ContactListName: aws.String(spec.Name),
		Description:     current.Description,
		Topics:          append(current.Topics, topic),
	}); err != nil {
		return false, fmt.Errorf("update contact list: %w", err)
	}
	return false, nil
}

func (s *SESEmailService) UpsertTemplate(ctx context.Context, spec EmailTemplateSpec) (bool, error) {
	content := &sestypes.EmailTemplateContent{
		Subject: aws.String(spec.Subject),
		Html:    aws.String(spec.HTML),
		Text:    aws.String(spec.Text),
	}
	_, err := s.client.GetEmailTemplate(ctx, &sesv2.GetEmailTemplateInput{TemplateName: aws.String(spec.Name)})
	if err != nil {
		var notFound *sestypes.NotFoundException
		if !errors.As(err, &notFound) {
			return false, fmt.Errorf("get email template: %w", err)
		}
		if _, err := s.client.CreateEmailTemplate(ctx, &sesv2.CreateEmailTemplateInput{
			TemplateName:    aws.String(spec.Name),
			TemplateContent: content,
		}); err != nil {
			return false, fmt.Errorf("create email template: %w", err)
		}
		return true, nil
	}
	if _, err := s.client.UpdateEmailTemplate(ctx, &sesv2.UpdateEmailTemplateInput{
		TemplateName:    aws.String(spec.Name),
		TemplateContent: content,
	}); err != nil {
		return false, fmt.Errorf("update email template: %w", err)
	}
	return false, nil
}

func (s *SESEmailService) ListContactLists(ctx context.Context) ([]ContactListSummary, error) {
	var out []ContactListSummary
	var next *string
	for {
		page, err := s.client.ListContactLists(ctx, &sesv2.ListContactListsInput{NextToken: next})
		if err != nil {
			return nil, fmt.Errorf("list contact lists: %w", err)
		}
		for _, l := range page.ContactLists {
			name := aws.ToString(l.ContactListName)
			detail, err := s.client.GetContactList(ctx, &sesv2.GetContactListInput{ContactListName: aws.String(name)})
			if err != nil {
				return nil, fmt.Errorf("get contact list %s: %w", name, err)
			}
			summary := ContactListSummary{Name: name}
			for _, t := range detail.Topics {
				summary.Topics = append(summary.Topics, aws.ToString(t.TopicName))
			}
			out = append(out, summary)
		}
		if aws.ToString(page.NextToken) == "" {
			return out, nil
		}
		next = page.NextToken
	}
}

func (s *SESEmailService) setTopicStatus(ctx context.Context, list, email, topic string, status sestypes.SubscriptionStatus) error {
	contact, err := s.client.GetContact(ctx, &sesv2.GetContactInput{
		ContactListName: aws.String(list),
		EmailAddress:    aws.String(email),
	})
	if err != nil {
		return fmt.Errorf("get contact: %w", err)
	}
	prefs := contact.TopicPreferences
	found := false
	for i := range prefs {
		if aws.ToString(prefs[i].TopicName) == topic {
			prefs[i].SubscriptionStatus = status
			found = true
		}
	}
	if !found {
		prefs = append(prefs, sestypes.TopicPreference{TopicName: aws.String(topic), SubscriptionStatus: status})
	}
	if _, err := s.client.UpdateContact(ctx, &sesv2.UpdateContactInput{
		ContactListName:  aws.String(list),
		EmailAddress:     aws.String(email),
		TopicPreferences: prefs,
	}); err != nil {
		return fmt.Errorf("update contact: %w", err)
	}
	return nil
}

func utf8Content(data string) *sestypes.Content {
	return &sestypes.Content{Data: aws.String(data), Charset: aws.String("UTF-8")}
}
