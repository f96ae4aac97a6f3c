package analytics

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"onyx-chat/internal/storage"
)

// DailyStats holds the interaction totals for one calendar day.
type DailyStats struct {
	Date          string                `json:"date"`
	TotalMessages int                   `json:"total_messages"`
	UniqueOwners  int                   `json:"unique_owners"`
	Sessions      int                   `json:"sessions"`
	NewSessions   int                   `json:"new_sessions"`
	Errors        int                   `json:"errors"`
	OwnerStats    map[string]OwnerStats `json:"owner_stats"`
}

// OwnerStats is the per-owner slice of DailyStats. The owner is the front-end
// identity that produced the exchange (a Telegram user id, "console", ...).
type OwnerStats struct {
	Owner    string `json:"owner"`
	Messages int    `json:"messages"`
	Sessions int    `json:"sessions"`
	Errors   int    `json:"errors"`
}

// AnalyzeDailyLogs aggregates the events that fall on targetDate.
func AnalyzeDailyLogs(events []storage.Event, targetDate time.Time) *DailyStats {
	startOfDay := time.Date(targetDate.Year(), targetDate.Month(), targetDate.Day(), 0, 0, 0, 0, targetDate.Location())
	endOfDay := startOfDay.AddDate(0, 0, 1)

	stats := &DailyStats{
		Date:       startOfDay.Format("2006-01-02"),
		OwnerStats: make(map[string]OwnerStats),
	}

	sessions := make(map[string]bool)
	ownerSessions := make(map[string]map[string]bool)

	for _, event := range events {
		if event.Timestamp.Before(startOfDay) || !event.Timestamp.Before(endOfDay) {
			continue
		}
		// records without a user message are not exchanges
		if event.UserMessage == "" {
			continue
		}

		stats.TotalMessages++
		sessions[event.SessionID] = true
		if event.FirstExchange {
			stats.NewSessions++
		}
		if event.IsError {
			stats.Errors++
		}

		owner := event.Owner
		if owner == "" {
			owner = "unknown"
		}
		st, ok := stats.OwnerStats[owner]
		if !ok {
			st = OwnerStats{Owner: owner}
			ownerSessions[owner] = make(map[string]bool)
		}
		st.Messages++
		if event.IsError {
			st.Errors++
		}
		ownerSessions[owner][event.SessionID] = true
		st.Sessions = len(ownerSessions[owner])
		stats.OwnerStats[owner] = st
	}

	stats.Sessions = len(sessions)
	stats.UniqueOwners = len(stats.OwnerStats)
	return stats
}

// GenerateReportSummary renders the stats as a short plain-text report.
func (ds *DailyStats) GenerateReportSummary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 Chat activity for %s\n\n", ds.Date)
	fmt.Fprintf(&b, "- Messages: %d\n", ds.TotalMessages)
	fmt.Fprintf(&b, "- Active sessions: %d (new: %d)\n", ds.Sessions, ds.NewSessions)
	fmt.Fprintf(&b, "- Failed replies: %d\n", ds.Errors)
	fmt.Fprintf(&b, "- Users: %d\n", ds.UniqueOwners)

	if len(ds.OwnerStats) == 0 {
		return b.String()
	}

	owners := make([]string, 0, len(ds.OwnerStats))
	for owner := range ds.OwnerStats {
		owners = append(owners, owner)
	}
	sort.Strings(owners)

	b.WriteString("\nPer user:\n")
	for _, owner := range owners {
		st := ds.OwnerStats[owner]
		fmt.Fprintf(&b, "- %s: %d messages in %d sessions", owner, st.Messages, st.Sessions)
		if st.Errors > 0 {
			fmt.Fprintf(&b, ", %d failed", st.Errors)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// ToJSON serializes the stats for detailed inspection.
func (ds *DailyStats) ToJSON() (string, error) {
	data, err := json.MarshalIndent(ds, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
