// Package transport defines the per-user message channel contract. A
// Dialer opens one Transport per user; the session worker that dialed it
// is its only user until Close.
package transport
