package notify

import "context"

// RunAlert describes a failed or degraded table run.
type RunAlert struct {
	Table        string
	WinningModel string
	Gaps         int
	Err          error
}

// Notifier delivers run alerts.
type Notifier interface {
	Notify(ctx context.Context, alert RunAlert) error
}
