// Package streamhttp implements the HTTP transport: clients POST one
// JSON message per request and read the responses for that message off
// a server-sent event stream on the same connection, which closes once
// the terminal response has been written.
//
// Characteristics
//
//	Connection model : many clients, one POST per message
//	Auth             : optional bearer-token Authenticator
//	Sessions         : shared store; ids travel as signed tokens
//	Transport        : SSE frames, one response message per event
//
// When an Authenticator is configured, responses that create a session
// also carry a session-token slot: a JWS binding the session id to the
// authenticated principal. Clients present the token on later messages
// and the handler refuses tokens minted for a different principal.
package streamhttp
