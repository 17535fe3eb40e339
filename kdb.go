// Package kdb provides a Go client for kdb+/q processes over the IPC protocol.
//
// A Client holds one TCP connection and performs:
//  1. Handshake - credentials and capability negotiation (kdb+ 3.0 IPC at most)
//  2. Sync requests - Query, Call and Send block until the response arrives
//  3. Async messages - Async writes without waiting; Receive reads pushed messages
//  4. Recovery - a failed or cancelled round trip drops the connection, the next call redials when Reconnect is set
//
// Values are exchanged as the Go types described in package types; the wire codec lives in package ipc.
package kdb
