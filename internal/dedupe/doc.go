// Package dedupe drops inbound messages whose provider id was already
// processed within a configurable window.
package dedupe
