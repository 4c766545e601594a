// Package async provides a guarded goroutine launcher for fire-and-forget
// side effects. A background task gets a deadline and panic recovery so a
// misbehaving notifier cannot take the process down with it.
package async
