package sqlite

import "fmt"

// Kind tags the callback shape that produced a Call.
type Kind int

const (
	KindScalar Kind = iota + 1
	KindStep
	KindFinal
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindStep:
		return "step"
	case KindFinal:
		return "final"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Call is one engine callback, forwarded to a Dispatcher. It is exactly one
// of ScalarCall, StepCall or FinalCall.
type Call interface {
	Kind() Kind
	// Context is the handle of the engine's function context.
	Context() Handle
	// Args returns the argument value handles. A FinalCall has none.
	Args() []Handle

	call()
}

// ScalarCall asks for one function result for one row.
type ScalarCall struct {
	Ctx  Handle
	Argv []Handle
}

// StepCall feeds one row into an aggregate.
type StepCall struct {
	Ctx  Handle
	Argv []Handle
}

// FinalCall asks an aggregate for its result once all rows were stepped.
type FinalCall struct {
	Ctx Handle
}

func (c ScalarCall) Kind() Kind      { return KindScalar }
func (c ScalarCall) Context() Handle { return c.Ctx }
func (c ScalarCall) Args() []Handle  { return c.Argv }
func (ScalarCall) call()             {}

func (c StepCall) Kind() Kind      { return KindStep }
func (c StepCall) Context() Handle { return c.Ctx }
func (c StepCall) Args() []Handle  { return c.Argv }
func (StepCall) call()             {}

func (c FinalCall) Kind() Kind      { return KindFinal }
func (c FinalCall) Context() Handle { return c.Ctx }
func (c FinalCall) Args() []Handle  { return nil }
func (FinalCall) call()             {}

// Dispatcher receives every user function callback of a connection. It owns
// the mapping from a function's position (Context.UserData) to the Go code
// that runs, and must report results and failures through the Context.
type Dispatcher interface {
	Dispatch(call Call)
}

// DispatchFunc adapts a function to the Dispatcher interface.
type DispatchFunc func(call Call)

// Dispatch calls f(call).
func (f DispatchFunc) Dispatch(call Call) { f(call) }
