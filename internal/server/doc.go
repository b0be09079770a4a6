// Package server implements the collectd UDP listener and the HTTP API.
// The listener decodes datagrams on a worker pool and fans the results out to
// the sender registry and the event hub; the HTTP API reports on both and
// streams events over WebSocket.
package server
