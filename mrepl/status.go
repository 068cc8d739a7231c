package mrepl

// Status values. StatusUnknownOp is the only status the core itself
// produces (via the fallback handler). StatusUnknownSession is produced
// by the dispatcher when a message names a session the store does not
// know. The rest are conventions followed by the built-in op middleware;
// third-party middleware is free to extend the vocabulary.
const (
	StatusDone           = "done"
	StatusError          = "error"
	StatusUnknownOp      = "unknown-op"
	StatusUnknownSession = "unknown-session"
	StatusNeedInput      = "need-input"
	StatusInterrupted    = "interrupted"
	StatusSessionClosed  = "session-closed"
)

// IsTerminal reports whether the status slot marks the end of processing
// for the originating request. Transports use this to close response
// streams.
func IsTerminal(m Message) bool {
	return m.HasStatus(StatusDone)
}
