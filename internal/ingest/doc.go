// Package ingest supervises one transcoder subprocess per stream.
//
// Each Supervisor is an actor: a single goroutine owns the state machine
// (Stopped, Starting, Running, Degraded, Failed) and receives API commands,
// process exits, segment notifications and timer expirations on channels,
// so transitions are strictly serialized and API callers never wait on the
// subprocess itself.
package ingest
