// Package app wires configuration into the running components shared by the
// server and the command-line transcriber.
package app
