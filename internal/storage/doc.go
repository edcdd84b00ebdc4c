// Package storage persists the system's flight log: controller session
// events, mode switches, task failures and periodic scheduler-stats
// snapshots. It is an archive, not a hot path; callers tolerate a nil
// Store when persistence is disabled.
package storage
