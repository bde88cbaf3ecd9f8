package email

import (
	"context"
	"fmt"
	"sort"
	"strings"

	resend "github.com/resend/resend-go/v3"
)

type ResendProvider struct {
	from   string
	client *resend.Client
}

func NewResendProvider(apiKey, from string) *ResendProvider {
	return &ResendProvider{
		from:   from,
		client: resend.NewClient(apiKey),
	}
}

func (r *ResendProvider) SendEmail(ctx context.Context, email *Email) error {
	if err := email.validate(); err != nil {
		return err
	}

	sent, err := r.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    r.from,
		To:      []string{email.To},
		Subject: email.Subject,
		Html:    email.HTML,
		Text:    email.Text,
		Tags:    resendTags(email.Tags),
	})
	if err != nil {
		return fmt.Errorf("resend %s: %w", email.Tags["kind"], err)
	}
	if sent == nil || sent.Id == "" {
		return fmt.Errorf("resend %s: response carried no message id", email.Tags["kind"])
	}
	return nil
}

// resendTags converts tags in name order. Resend accepts only ASCII
// letters, digits, underscores and dashes in tag names and values.
func resendTags(tags map[string]string) []resend.Tag {
	names := make([]string, 0, len(tags))
	for name := range tags {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]resend.Tag, 0, len(names))
	for _, name := range names {
		value := tagSafe(tags[name])
		if value == "" {
			continue
		}
		out = append(out, resend.Tag{Name: tagSafe(name), Value: value})
	}
	return out
}

func tagSafe(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, s)
}
