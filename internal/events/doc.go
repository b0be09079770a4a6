// Package events fans decoded datagrams and listener lifecycle changes out to subscribers.
package events
