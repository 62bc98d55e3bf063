// Package config holds the YAML configuration shared by the server and
// client binaries. Defaults come from DefaultConfig; a config file and
// command line flags layer on top.
package config
