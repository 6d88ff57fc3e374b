// Package session keeps conversations alive across runs. A conversation is
// an ExecutionContext looked up by a caller chosen id, so history and
// metadata accumulate over several engine runs.
//
// Add durable backends in sub-packages; only the wiring layer needs to
// decide which Store to instantiate.
package session
