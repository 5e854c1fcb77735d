// Package discovery advertises the ingestion server over mDNS and lets the
// recorder find it on the local network.
package discovery
