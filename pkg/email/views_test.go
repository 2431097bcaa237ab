package email

import (
	"strings"
	"testing"
)

func TestViews_RenderEveryMailView(t *testing.T) {
	views, err := NewViews()
	if err != nil {
		t.Fatalf("new views: %v", err)
	}

	want := []string{"mail/change-email", "mail/change-email-password", "mail/change-password", "mail/confirm"}
	names := views.Names()
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Fatalf("views = %v", names)
	}

	data := ViewData{
		AppName: "Nimqueue",
		AppURL:  "https://app.example.com",
		User:    Recipient{ID: 1, Name: "Ada <Lovelace>", Email: "ada@example.com"},
		Email:   "new@example.com",
		Token:   "tok-123",
	}
	for _, name := range names {
		html, err := views.Render(name, data)
		if err != nil {
			t.Fatalf("render %s: %v", name, err)
		}
		if !strings.Contains(html, "tok-123") || !strings.Contains(html, "Nimqueue") {
			t.Fatalf("%s is missing token or app name:\n%s", name, html)
		}
		if strings.Contains(html, "<Lovelace>") {
			t.Fatalf("%s must escape user input", name)
		}
	}
}

func TestViews_UnknownView(t *testing.T) {
	views, err := NewViews()
	if err != nil {
		t.Fatalf("new views: %v", err)
	}
	if _, err := views.Render("mail/welcome", ViewData{}); err == nil {
		t.Fatal("expected unknown view error")
	}
	if _, err := views.Render("/mail/confirm", ViewData{Token: "t"}); err != nil {
		t.Fatalf("leading slash should be accepted: %v", err)
	}
}
