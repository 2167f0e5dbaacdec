// Package main provides volviewer, a headless receiver for volumetric
// streams.
//
// volviewer connects to one or more senders, receives and decodes their
// frames and logs them. It is meant for checking a sender setup and for
// watching stream health through Prometheus.
//
// # Usage
//
//	volviewer -sender 192.168.0.20:47498
//	volviewer -config volviewer.toml -metrics :9100 -log-level debug
//
// Flags given on the command line override the config file:
//   - -config: TOML config file (see volstream.LoadOptions)
//   - -listen: UDP address to receive on (default :0)
//   - -sender: sender address, repeatable
//   - -metrics: HTTP address serving /metrics
//   - -log-level, -log-format: logrus level and text or json output
package main
