package batch

import (
	"sort"
	"time"

	"bsewatch/internal/model"
)

// RunGroup summarizes the run log entries sharing one run id.
type RunGroup struct {
	RunID              string              `json:"run_id"`
	Job                string              `json:"job"`
	RunAt              time.Time           `json:"run_at"`
	TotalUsers         int                 `json:"total_users"`
	ProcessedUsers     int                 `json:"processed_users"`
	SkippedUsers       int                 `json:"skipped_users"`
	TotalNotifications int                 `json:"total_notifications"`
	TotalRecipients    int                 `json:"total_recipients"`
	Items              []model.RunLogEntry `json:"items"`
}

const (
	RunsScanLimit  = 500
	MaxRunGroups   = 10
	MaxItemsPerRun = 50
)

// GroupRuns folds entries into per-run summaries, newest run first. Job and
// RunAt come from each group's newest entry; items are ordered by subscriber.
func GroupRuns(entries []model.RunLogEntry, maxGroups, maxItems int) []RunGroup {
	if maxGroups <= 0 {
		maxGroups = MaxRunGroups
	}
	if maxItems <= 0 {
		maxItems = MaxItemsPerRun
	}

	var order []string
	byRun := map[string][]model.RunLogEntry{}
	for _, e := range entries {
		if _, ok := byRun[e.RunID]; !ok {
			order = append(order, e.RunID)
		}
		byRun[e.RunID] = append(byRun[e.RunID], e)
	}

	groups := make([]RunGroup, 0, len(order))
	for _, id := range order {
		items := byRun[id]
		g := RunGroup{RunID: id}
		users := map[model.SubscriberID]struct{}{}
		for _, e := range items {
			if !e.RunAt.Before(g.RunAt) {
				g.RunAt, g.Job = e.RunAt, e.Job
			}
			if e.SubscriberID != "" {
				users[e.SubscriberID] = struct{}{}
			}
			if e.Processed {
				g.ProcessedUsers++
			} else {
				g.SkippedUsers++
			}
			g.TotalNotifications += e.NotificationsSent
			g.TotalRecipients += e.RecipientCount
		}
		g.TotalUsers = len(users)

		sorted := append([]model.RunLogEntry(nil), items...)
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].SubscriberID < sorted[j].SubscriberID })
		g.Items = sorted[:min(len(sorted), maxItems)]
		groups = append(groups, g)
	}

	sort.SliceStable(groups, func(i, j int) bool { return groups[i].RunAt.After(groups[j].RunAt) })
	return groups[:min(len(groups), maxGroups)]
}
