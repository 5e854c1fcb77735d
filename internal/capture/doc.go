// Package capture records a bounded-duration clip by running an external capture
// process and polling it until the duration elapses or the process exits.
// Cancelling the context interrupts the recording.
package capture
