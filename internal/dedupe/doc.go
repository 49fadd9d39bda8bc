// Package dedupe remembers recently seen keys for a bounded window so that a
// retransmitted request can be recognized and dropped.
package dedupe
