// Package ops supplies the built-in operation middleware: session
// lifecycle verbs, evaluation, stdin injection, interrupt, file
// loading, the describe facility, and value printing. Each unit is a
// plain middleware.Middleware with a full descriptor; none of them is
// special to the composition core.
package ops
