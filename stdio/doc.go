// Package stdio implements a minimal single-connection transport over
// stdin/stdout. It is intended for embedding servers as subprocesses,
// editor integrations, and local development where spawning a child
// process and piping JSON is simpler than running an HTTP server.
//
// Characteristics
//
//	Connection model : 1 process <-> 1 client
//	Sessions         : whatever store the server was built with
//	Transport        : newline-delimited JSON messages
//
// Options allow supplying alternate io.Reader / io.Writer or a custom
// logger.
//
// Example:
//
//	srv, _ := server.New(server.WithMiddleware(&ops.Eval{Evaluator: evalgo.New()}))
//	h := stdio.NewHandler(srv)
//	if err := h.Serve(context.Background()); err != nil { log.Fatal(err) }
//
// For multi-client deployments prefer the streaming HTTP transport,
// which integrates with session stores shared across instances and
// authentication.
package stdio
