// Package logdedupe suppresses repeated error log entries using a
// time-based cache keyed by user and error signature.
package logdedupe
