// Package signaling serves the gateway's WebSocket signaling endpoint.
//
// Each connection becomes a room.Peer in the room named by the request. The
// read loop decodes JSON frames and hands them to the Dispatcher; responses
// and notifications for the peer are written from its outbound queue.
package signaling
