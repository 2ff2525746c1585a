// Package admin exposes the runtime control API: session statistics and
// start/stop/restart actions, all behind JWT bearer authentication.
package admin
