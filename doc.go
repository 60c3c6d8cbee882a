// Package labgate is a middleware gateway between clinical analyzers and a
// Laboratory Information System.
//
// # Architecture
//
// On one side the gateway terminates the ASTM E1381 low-level transport over
// TCP: instruments connect, establish a session with ENQ, and stream
// STX-framed records with sequence numbers and checksums. The gateway
// acknowledges frames, reassembles ETB-continued records, and lifts complete
// H-to-L messages out of the byte stream. On the other side it delivers
// those messages to the configured sinks: append-only files, an HTTP push
// endpoint on the LIS, and/or a NATS subject.
//
// The layering keeps the protocol pure and the I/O thin:
//
//   - astm: frame codec, E1394 record parser, and the receiver/sender
//     transport state machines. Pure functions and state structs, no I/O.
//   - input/astm: TCP listener and per-connection session runner executing
//     the machine's outputs against real sockets and timers.
//   - dispatch: per-sink bounded queues and workers; sink failures are
//     isolated from sessions and from each other.
//   - output/file, output/lims, output/natspub: the sinks.
//   - errors, metric, health, pkg/retry, pkg/buffer: ambient infrastructure.
//
// Entry points are cmd/labgate (the receiver gateway) and cmd/labsend (a
// sender companion that transmits a message file to any ASTM receiver).
package labgate
