// Package memory provides object pooling and live-object accounting for
// the reclamation machinery: a typed pool containers recycle nodes
// through once a grace period has passed, and a counter that reads zero
// after a drained system has reclaimed everything it allocated.
package memory
