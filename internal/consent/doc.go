// Package consent hides cookie-consent overlays before a screenshot is taken.
//
// Suppression is best effort. Every strategy failure is reported through
// Result and logged, never returned to the caller as an error, so a capture
// always proceeds whether a banner was suppressed, absent or stuck.
package consent
