// Package app bootstraps the skein daemon: configuration loading, service
// wiring, and the run loop that reconciles containers, serves triggers,
// and waits for shutdown.
package app
