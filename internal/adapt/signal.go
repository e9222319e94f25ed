// File: internal/adapt/signal.go
package adapt

import "fmt"

// SignalKind names a Signal variant. It is used as a metrics label.
type SignalKind string

const (
	KindNormal  SignalKind = "normal"
	KindStop    SignalKind = "stop"
	KindUnknown SignalKind = "unknown"
)

// Signal is the outcome of evaluating a single health indicator.
// Exactly one of NormalSignal, StopSignal or UnknownSignal is produced per evaluation.
type Signal interface {
	Kind() SignalKind
	String() string
	// signal seals the interface to this package's variants.
	signal()
}

// NormalSignal means no corrective action is needed.
type NormalSignal struct{}

// StopSignal means the database is under contention and the migration must pause.
type StopSignal struct {
	Reason string
}

// UnknownSignal means the indicator could not reach a conclusion.
type UnknownSignal struct {
	Indicator string
	Reason    string
}

// Normal returns a signal that allows the migration to speed up.
func Normal() Signal { return NormalSignal{} }

// Stop returns a signal that puts the migration on hold.
func Stop(reason string) Signal { return StopSignal{Reason: reason} }

// Unknown returns an inconclusive signal attributed to the given indicator.
func Unknown(indicator, reason string) Signal {
	return UnknownSignal{Indicator: indicator, Reason: reason}
}

func (NormalSignal) Kind() SignalKind  { return KindNormal }
func (StopSignal) Kind() SignalKind    { return KindStop }
func (UnknownSignal) Kind() SignalKind { return KindUnknown }

func (NormalSignal) String() string { return "normal" }

func (s StopSignal) String() string { return fmt.Sprintf("stop (%s)", s.Reason) }

func (s UnknownSignal) String() string {
	return fmt.Sprintf("unknown from %s (%s)", s.Indicator, s.Reason)
}

func (NormalSignal) signal()  {}
func (StopSignal) signal()    {}
func (UnknownSignal) signal() {}
