// Package engine runs timed operations in the background. The Manager is the
// public surface: it validates requests, records operations in the registry,
// and hands each one to a runner goroutine whose wait can be interrupted
// through the operation's cancellation token.
package engine
