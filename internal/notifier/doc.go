// Package notifier relays run reports to operators.
//
// It subscribes to run lifecycle events on the event bus, renders each
// completed or failed run as a compact text message, and delivers it
// through a Sender (the Telegram sender in production, a fake in tests).
//
// Delivery is best effort: identical reports are suppressed over a short
// window, sends are rate limited to respect chat quotas, and the queue
// drops when full. A lost report never affects the run that produced it.
package notifier
