// Package delivery watches forms for new submissions.
//
// [PollingStrategy] lists a form's encrypted submissions periodically and
// hands each one it has not seen before to an [EventHandler]. Submissions
// are recognized by an xxhash [Fingerprint] of their ciphertext and
// creation time, and a digest over the whole list detects polls with no
// changes. A submission counts as seen once the handler accepts it, so a
// handler that fails for a passing reason sees it again on the next poll.
//
// # Backoff
//
// The interval starts at [DefaultPollingInitialInterval], grows by
// [DefaultPollingBackoffMultiplier] after each poll that failed or found
// nothing new, up to [DefaultPollingMaxBackoff], and resets when a new
// submission arrives. Jitter is added to every wait.
//
// # Thread Safety
//
// Forms can be added or removed while the strategy is running.
package delivery
