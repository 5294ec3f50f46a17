package pubsub

import (
	"context"
	"testing"
)

func TestTopicResourceName(t *testing.T) {
	cases := []struct {
		project, name, want string
	}{
		{"proj", "domain", "projects/proj/topics/domain"},
		{"proj", "  domain ", "projects/proj/topics/domain"},
		{"proj", "projects/other/topics/x", "projects/other/topics/x"},
		{"", "domain", ""},
		{"proj", "", ""},
	}
	for _, tc := range cases {
		if got := TopicResourceName(tc.project, tc.name); got != tc.want {
			t.Fatalf("TopicResourceName(%q,%q)=%q want %q", tc.project, tc.name, got, tc.want)
		}
	}
}

func TestNilClientIsSafe(t *testing.T) {
	var c *Client
	if c.Publisher("x") != nil {
		t.Fatal("expected nil publisher")
	}
	if c.Close() != nil {
		t.Fatal("expected nil close error")
	}
	if c.Ping(context.Background()) == nil {
		t.Fatal("expected ping error for nil client")
	}
}

func TestNilClientReportsUnordered(t *testing.T) {
	var c *Client
	if c.Ordered() {
		t.Fatal("nil client must not report ordered delivery")
	}
	if c.DomainTopic() != "" {
		t.Fatal("nil client has no topic")
	}
}
