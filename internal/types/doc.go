// Package types defines the telemetry data model shared by the store, the
// codec and the wire protocol.
//
// # Value
//
// A Value is a tagged union:
//
//   - Number: float64 measurement
//   - Text: string measurement
//   - Record: a nested numeric structure flattened to ordered dotted paths,
//     e.g. pose.position.x, pose.rotation.z
//
// # Sample
//
// A Sample pairs a Value with its topic and a millisecond timestamp. Time is
// unsigned and relative to whatever epoch the producer uses; the store only
// relies on its ordering.
package types
