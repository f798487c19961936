// Package trigger fires the engine's periodic jobs.
//
// It wraps robfig/cron with a small bounded worker pool so a slow job (a full
// reconcile sweep against sqlite, say) never blocks the cron goroutine.
// Registered schedules survive Stop/Start cycles; Apply() restarts cron when
// the facility timezone changes so "daily at 00:05" keeps meaning local
// midnight.
package trigger
