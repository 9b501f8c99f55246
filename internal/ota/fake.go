package ota

import "context"

// FakeService is a test double that plays scripted upload steps.
type FakeService struct {
	// Steps run one per Handle call, in order. Each receives the installed callbacks.
	Steps []func(cb Callbacks)

	// Calls counts Handle invocations.
	Calls int

	index int
	cb    Callbacks
}

// NewFakeService creates a FakeService with the given steps.
func NewFakeService(steps ...func(cb Callbacks)) *FakeService {
	return &FakeService{Steps: steps}
}

// Handle runs the next scripted step, if any. Steps are not bounded by ctx.
func (f *FakeService) Handle(ctx context.Context) {
	f.Calls++
	if f.index >= len(f.Steps) {
		return
	}
	step := f.Steps[f.index]
	f.index++
	if step != nil {
		step(f.cb)
	}
}

// SetCallbacks records the callbacks passed to steps.
func (f *FakeService) SetCallbacks(cb Callbacks) {
	f.cb = cb
}

// Succeed is a step that reports a complete upload of size bytes.
func Succeed(cmd Command, size int64) func(cb Callbacks) {
	return func(cb Callbacks) {
		cb.start(cmd)
		cb.progress(size, size)
		cb.end()
	}
}

// Fail is a step that reports an upload error of the given kind.
func Fail(kind ErrorKind) func(cb Callbacks) {
	return func(cb Callbacks) {
		cb.fail(&Error{Kind: kind})
	}
}
