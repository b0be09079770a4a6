// Package forward posts decoded collectd datagrams to an HTTP webhook.
package forward
