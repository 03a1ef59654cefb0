// Package server hosts the HTTP surface of the track daemon: the
// Prometheus metrics endpoint and a basic health check, served on a
// dedicated port away from any application traffic.
package server
