// Package wire implements the local transport framing shared by the collector
// and the user-session agent.
//
// A frame is a 4-byte big-endian length followed by exactly that many bytes of
// UTF-8 JSON:
//
//	{"kind": string, "data": object, "auth_token": string, "timestamp": number}
//
// The codec is stateless. Encode and Decode are exact inverses for every
// Envelope whose payload is representable as JSON; Decode reports MalformedFrame
// for bodies that are not valid JSON or that lack kind or auth_token.
//
// This package imports nothing internal.
package wire
