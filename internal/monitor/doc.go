// Package monitor is the reading side of the status file: it decodes and
// validates published documents, follows them while a run is in progress, and
// renders them for humans.
package monitor
