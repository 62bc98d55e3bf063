// Package v4 implements the NetworkTables v4 wire format.
//
// v4 runs over a message-oriented transport (WebSocket). Two logical
// channels share one connection, demultiplexed by frame type:
//
//   - Control plane: TEXT frames carrying a JSON array of
//     {"method": ..., "params": {...}} objects. Client methods are
//     publish, unpublish, setproperties, subscribe, unsubscribe; the
//     server answers with announce, unannounce, properties.
//   - Data plane: BINARY frames carrying one or more MessagePack
//     arrays [topicID, timestamp, typeTag, value].
//
// A data frame referencing an id that has not been announced on that
// connection is invalid; the codec only decodes, validity is enforced
// by the session layer.
//
// # Forward compatibility
//
// Unknown control methods decode to Unknown messages rather than
// failing the whole batch, so a session can skip them. Unknown data
// type tags fail the containing frame with ErrUnknownTypeTag.
package v4
