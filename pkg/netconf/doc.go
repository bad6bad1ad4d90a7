// Package netconf implements the NETCONF message layer (RFC 6241, RFC 6242):
// end-of-message and chunked framing, the hello exchange, rpc parsing and
// rpc-reply / rpc-error construction.
//
// The package is transport agnostic. A Framer wraps any io.ReadWriter (an SSH
// channel in production, a net.Pipe in tests) and yields whole messages. rpc
// documents are decoded into a generic Node tree so that operation parameters
// can be validated without binding to a schema.
//
// Protocol faults are values of type *RPCError. They carry the error-type,
// error-tag and error-info required on the wire and are rendered into an
// <rpc-reply> by Reply.
package netconf
