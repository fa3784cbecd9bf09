// Package overlay provides a websocket client for the streamkit voice overlay
// protocol.
//
// It runs the authorize/token/authenticate handshake, correlates requests with
// their replies by id, and fans broadcast events out to any number of
// subscribers per event kind.
package overlay
