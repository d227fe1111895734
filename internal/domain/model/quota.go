package model

import "time"

// QuotaAccount holds a per-owner generation allowance.
// Committed state always satisfies 0 <= UsedQuota <= TotalQuota.
type QuotaAccount struct {
	OwnerID    string
	TotalQuota int
	UsedQuota  int
	UpdatedAt  time.Time
}

func (a *QuotaAccount) Remaining() int {
	if a.UsedQuota >= a.TotalQuota {
		return 0
	}
	return a.TotalQuota - a.UsedQuota
}

func (a *QuotaAccount) HasRemaining() bool { return a.UsedQuota < a.TotalQuota }
