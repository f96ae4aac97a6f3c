package analytics

import (
	"strings"
	"testing"
	"time"

	"onyx-chat/internal/storage"
)

func TestAnalyzeDailyLogs(t *testing.T) {
	testDate := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	events := []storage.Event{
		{
			Timestamp:         testDate.Add(2 * time.Hour),
			SessionID:         "s1",
			Owner:             "123",
			UserMessage:       "Hi",
			AssistantResponse: "Hello!",
			FirstExchange:     true,
		},
		{
			Timestamp:         testDate.Add(4 * time.Hour),
			SessionID:         "s1",
			Owner:             "123",
			UserMessage:       "Tell me more",
			AssistantResponse: "Connection interrupted. Please verify credentials.",
			IsError:           true,
		},
		{
			Timestamp:         testDate.Add(6 * time.Hour),
			SessionID:         "s2",
			Owner:             "456",
			UserMessage:       "Find something",
			AssistantResponse: "Found it",
			FirstExchange:     true,
		},
		// next day, not counted
		{
			Timestamp:   testDate.AddDate(0, 0, 1),
			SessionID:   "s3",
			Owner:       "789",
			UserMessage: "Tomorrow",
		},
		// no user message, not counted
		{
			Timestamp:         testDate.Add(8 * time.Hour),
			SessionID:         "s1",
			Owner:             "123",
			AssistantResponse: "[system]",
		},
	}

	stats := AnalyzeDailyLogs(events, testDate.Add(13*time.Hour))

	if stats.Date != "2024-01-15" {
		t.Errorf("Expected date '2024-01-15', got '%s'", stats.Date)
	}
	if stats.TotalMessages != 3 {
		t.Errorf("Expected 3 messages, got %d", stats.TotalMessages)
	}
	if stats.UniqueOwners != 2 {
		t.Errorf("Expected 2 owners, got %d", stats.UniqueOwners)
	}
	if stats.Sessions != 2 || stats.NewSessions != 2 {
		t.Errorf("Expected 2 sessions / 2 new, got %d / %d", stats.Sessions, stats.NewSessions)
	}
	if stats.Errors != 1 {
		t.Errorf("Expected 1 error, got %d", stats.Errors)
	}

	u := stats.OwnerStats["123"]
	if u.Messages != 2 || u.Sessions != 1 || u.Errors != 1 {
		t.Errorf("unexpected stats for 123: %+v", u)
	}
	if _, ok := stats.OwnerStats["789"]; ok {
		t.Errorf("events from another day leaked into the report")
	}
}

func TestAnalyzeDailyLogs_UnknownOwner(t *testing.T) {
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	stats := AnalyzeDailyLogs([]storage.Event{{Timestamp: day, SessionID: "x", UserMessage: "hi"}}, day)
	if stats.OwnerStats["unknown"].Messages != 1 {
		t.Fatalf("expected anonymous events under 'unknown', got %+v", stats.OwnerStats)
	}
}

func TestGenerateReportSummary(t *testing.T) {
	stats := &DailyStats{
		Date:          "2024-01-15",
		TotalMessages: 5,
		UniqueOwners:  2,
		Sessions:      3,
		NewSessions:   1,
		Errors:        1,
		OwnerStats: map[string]OwnerStats{
			"b": {Owner: "b", Messages: 2, Sessions: 1},
			"a": {Owner: "a", Messages: 3, Sessions: 2, Errors: 1},
		},
	}

	summary := stats.GenerateReportSummary()
	for _, want := range []string{"2024-01-15", "Messages: 5", "Active sessions: 3 (new: 1)", "Failed replies: 1", "a: 3 messages in 2 sessions, 1 failed"} {
		if !strings.Contains(summary, want) {
			t.Errorf("summary missing %q:\n%s", want, summary)
		}
	}
	if strings.Index(summary, "- a:") > strings.Index(summary, "- b:") {
		t.Errorf("owners should be sorted:\n%s", summary)
	}
}

func TestToJSON(t *testing.T) {
	stats := &DailyStats{Date: "2024-01-15", TotalMessages: 1, OwnerStats: map[string]OwnerStats{}}
	out, err := stats.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}
	if !strings.Contains(out, `"total_messages": 1`) {
		t.Fatalf("unexpected json: %s", out)
	}
}
