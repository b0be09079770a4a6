// Package sender tracks the datagram sources the listener has heard from.
// Sources expire after a configurable idle period.
package sender
