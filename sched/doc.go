// Package sched provides the engine's time-driven pollers, coordinated
// through cluster leader election so they run on exactly one node.
//
// Two concerns live here:
//
// # Scheduled playbooks
//
// A playbook with the scheduled trigger type carries a cron expression.
// On each due tick the scheduler expands the playbook's target segments
// into admission candidates and runs each through normal admission, so
// cooldown and concurrency limits apply to scheduled firings exactly as
// they do to signal-driven ones. The [ext.ScheduleFired] hook fires once
// per playbook firing.
//
// # Snooze expiry
//
// Snoozed runs return to pending once their deadline elapses. Read paths
// already treat an elapsed snooze as pending; the waker additionally
// persists the transition so list queries and claim scans see it without
// an operator touching the run. Staleness is bounded by one tick.
//
// Leadership is TTL-based: the poller renews its claim at half the TTL
// and every tick re-checks that it still holds it. A node that loses
// leadership simply stops firing; the new leader picks up on its next
// tick.
package sched
