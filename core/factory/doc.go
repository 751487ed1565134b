// Package factory instantiates pluggable modules, such as metrics
// sinks, from configuration. A module is described by a type name and a
// raw settings map; the registered factory decodes the map into its own
// struct with Decode.
package factory
