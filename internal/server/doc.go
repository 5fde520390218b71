// Package server implements the roomchat presence-and-broadcast hub.
//
// A single shared room is modelled by a Hub that owns the live connection set
// and the participant Registry. Connections speak JSON envelopes over a
// WebSocket; chat messages arrive over HTTP and are fanned out by the Relay.
// Configuration, logging, routing and the HTTP server live next to the hub so
// the whole service can be assembled from this package by cmd/server.
package server
