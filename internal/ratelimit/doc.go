// Package ratelimit provides per-user sliding-window rate limiting with
// separate budgets per action class.
package ratelimit
