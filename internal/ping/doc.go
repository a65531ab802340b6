// Package ping runs ICMP echo sessions against a single IPv4 destination.
//
// # Session cycle
//
// A Session alternates between two phases until its sequence counter passes
// Config.MaxEchoes:
//
//  1. Sending: build an echo request with the next sequence number, wait
//     Config.Interval (armed after the previous receive completed), record
//     the send time and transmit.
//  2. AwaitingReply: block until any datagram arrives, parse IPv4 and ICMP
//     headers, and emit an EchoResult if it is an echo reply carrying the
//     session identifier.
//
// Anything else read from the socket is discarded and the cycle continues.
// A lost echo produces no output; the session moves on after the next
// datagram arrives.
//
// # Correlation
//
// Replies are matched by identifier only. The sequence number is reported as
// received and the round-trip time is measured from the most recent send, so
// a late or duplicated reply is timed against the wrong request.
//
// # Resolution
//
// NetResolver resolves a host name to its first IPv4 address and opens the
// socket the session will own. Resolution and socket errors end the attempt;
// nothing is retried.
package ping
