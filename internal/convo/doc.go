// Package convo stores in-flight conversation sessions, one per user,
// with lazy TTL expiry.
package convo
