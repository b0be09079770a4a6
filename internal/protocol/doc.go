// Package protocol decodes the collectd binary network protocol.
// It walks the tag-length-value records of a datagram, decodes string, number
// and value-list parts, and folds the sticky context fields into measurement
// and alert records.
package protocol
