// Package logx wraps zerolog behind a small Logger value with typed,
// closure-based fields. A Service owns the sinks (console, file) and the
// level; Apply swaps them at runtime, and loggers already handed out see
// the change on their next event. That is what lets a hot config reload
// retune logging without re-plumbing loggers through every component.
package logx
