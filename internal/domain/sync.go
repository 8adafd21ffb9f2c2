package domain

import (
	"fmt"
	"time"
)

// SyncResults counts records pushed per collection during one sync pass.
type SyncResults struct {
	Products  int      `json:"products"`
	Purchases int      `json:"purchases"`
	Bills     int      `json:"bills"`
	Returns   int      `json:"returns"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors"`
}

func (r *SyncResults) Add(c Collection) {
	switch c {
	case CollectionProducts:
		r.Products++
	case CollectionPurchases:
		r.Purchases++
	case CollectionBills:
		r.Bills++
	case CollectionReturns:
		r.Returns++
	}
}

func (r *SyncResults) Fail(c Collection, localID string, err error) {
	r.Failed++
	r.Errors = append(r.Errors, fmt.Sprintf("%s %s sync failed: %v", c, localID, err))
}

func (r SyncResults) Total() int {
	return r.Products + r.Purchases + r.Bills + r.Returns
}

// SyncReport is handed to the UI after every sync pass.
type SyncReport struct {
	Synced      bool        `json:"synced"`
	Reason      string      `json:"reason,omitempty"`
	Results     SyncResults `json:"results"`
	Reloaded    []string    `json:"reloaded,omitempty"`
	ReloadError string      `json:"reloadError,omitempty"`
	StartedAt   time.Time   `json:"startedAt"`
	FinishedAt  time.Time   `json:"finishedAt"`
}

// Summary renders the report for a notification line.
func (r SyncReport) Summary() string {
	if !r.Synced {
		return fmt.Sprintf("sync skipped: %s", r.Reason)
	}
	attempted := r.Results.Total() + r.Results.Failed
	msg := fmt.Sprintf("%d of %d pending records synced", r.Results.Total(), attempted)
	if r.Results.Failed > 0 {
		msg += fmt.Sprintf(", %d failed", r.Results.Failed)
	}
	if r.ReloadError != "" {
		msg += "; reload incomplete: " + r.ReloadError
	}
	return msg
}

// Status is the UI-facing view of the offline cache.
type Status struct {
	Online   bool               `json:"online"`
	Syncing  bool               `json:"syncing"`
	Pending  map[Collection]int `json:"pending"`
	LastSync *SyncReport        `json:"lastSync,omitempty"`
}
