// Package notifier delivers monitor notifications and admin alerts.
//
// Dispatch parses the rule's target, enqueues the payload and returns. A
// fixed worker pool drains the queue through a shared token-bucket limiter
// and sends each payload with a bounded timeout: text through SendText,
// images through SendImage with their caption. There is no retry; a failed
// send is logged, counted and published as notifier.failed.
//
// # History
//
// The service keeps a small in-memory history of delivered payloads for
// /steam status and debugging.
package notifier
