package email

import (
	"context"
	"testing"
)

func TestNewProvider(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "default is log", cfg: Config{}},
		{name: "resend", cfg: Config{Provider: "resend", APIKey: "re_123", From: "orders@example.com"}},
		{name: "resend without key", cfg: Config{Provider: "resend"}, wantErr: true},
		{name: "unknown", cfg: Config{Provider: "smtp"}, wantErr: true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := NewProvider(tc.cfg, nil)
			if (err != nil) != tc.wantErr {
				t.Fatalf("NewProvider() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestLogProviderValidates(t *testing.T) {
	t.Parallel()

	p := NewLogProvider(nil)
	ctx := context.Background()

	if err := p.SendEmail(ctx, nil); err == nil {
		t.Fatal("expected error for nil email")
	}
	if err := p.SendEmail(ctx, &Email{Text: "hi"}); err == nil {
		t.Fatal("expected error without recipient")
	}
	if err := p.SendEmail(ctx, &Email{To: "ada@example.com"}); err == nil {
		t.Fatal("expected error without body")
	}
	if err := p.SendEmail(ctx, &Email{To: "ada@example.com", Text: "hi"}); err != nil {
		t.Fatalf("SendEmail() error = %v", err)
	}
}

func TestResendTags(t *testing.T) {
	t.Parallel()

	tags := resendTags(map[string]string{
		"order": "6f1c2f44-8f0e-4b8e",
		"kind":  "order shipped",
		"empty": "",
	})

	if len(tags) != 2 {
		t.Fatalf("tags = %+v, want 2", tags)
	}
	if tags[0].Name != "kind" || tags[0].Value != "order_shipped" {
		t.Fatalf("tags[0] = %+v", tags[0])
	}
	if tags[1].Name != "order" || tags[1].Value != "6f1c2f44-8f0e-4b8e" {
		t.Fatalf("tags[1] = %+v", tags[1])
	}
}
