package appointment

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrSubmitInProgress is returned when Submit is called while a previous
	// submission has not finished.
	ErrSubmitInProgress = errors.New("submission already in progress")
	// ErrNotEditing is returned by Cancel outside editing mode.
	ErrNotEditing = errors.New("form is not editing an appointment")
	// ErrNotFound is returned by the form and list flows when the targeted
	// record no longer exists.
	ErrNotFound = errors.New("appointment not found")
)

const (
	MsgCreated       = "Appointment scheduled successfully!"
	MsgUpdated       = "Appointment updated successfully!"
	MsgDeleted       = "Appointment removed successfully!"
	MsgCreateFailed  = "Error scheduling appointment. Please try again."
	MsgUpdateFailed  = "Error updating appointment. Please try again."
	MsgDeleteFailed  = "Error removing appointment. Please try again."
	MsgEmptySchedule = "No appointments scheduled yet."
)

// Notifier surfaces user-visible outcome messages.
type Notifier interface {
	Success(msg string)
	Failure(msg string)
}

// NopNotifier drops every message.
type NopNotifier struct{}

func (NopNotifier) Success(string) {}
func (NopNotifier) Failure(string) {}

// Submitter is the part of the store the form writes through.
type Submitter interface {
	Create(ctx context.Context, in Input) (*Appointment, error)
	Update(ctx context.Context, id string, p Patch) (*Appointment, bool, error)
}

// State is the submission state of a Form.
type State int

const (
	StateIdle State = iota
	StateSubmitting
)

func (s State) String() string {
	if s == StateSubmitting {
		return "submitting"
	}
	return "idle"
}

// SubmitResult describes a finished submission. Errors is set when the input
// failed validation and nothing was sent to the store.
type SubmitResult struct {
	Record  *Appointment
	Updated bool
	Errors  []FieldError
}

// SubmitOutcome is delivered by SubmitAsync.
type SubmitOutcome struct {
	Result SubmitResult
	Err    error
}

// Form holds the working values of the intake form and drives the
// Idle/Submitting lifecycle. With an editing record it updates that record,
// otherwise it creates a new one.
type Form struct {
	mu      sync.Mutex
	store   Submitter
	notify  Notifier
	values  Input
	editing *Appointment
	state   State
}

func NewForm(store Submitter, notify Notifier) *Form {
	if notify == nil {
		notify = NopNotifier{}
	}
	return &Form{store: store, notify: notify, values: DefaultInput()}
}

// Edit switches the form into editing mode for a, pre-populating its values.
func (f *Form) Edit(a *Appointment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.editing = clone(a)
	f.values = InputFromRecord(a)
}

// Cancel leaves editing mode and discards the edits without touching the
// store.
func (f *Form) Cancel() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.editing == nil {
		return ErrNotEditing
	}
	f.editing = nil
	f.values = DefaultInput()
	return nil
}

// Reset clears values and editing context, e.g. on logout.
func (f *Form) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.editing = nil
	f.values = DefaultInput()
}

func (f *Form) Values() Input {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.values
}

func (f *Form) SetValues(in Input) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values = in
}

// Editing returns a copy of the record being edited, or nil.
func (f *Form) Editing() *Appointment {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.editing == nil {
		return nil
	}
	return clone(f.editing)
}

func (f *Form) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Validate checks the current values without submitting.
func (f *Form) Validate() []FieldError {
	return Validate(f.Values())
}

// Submit validates the current values and, when they pass, writes them to
// the store. Validation failures are returned in the result with a nil
// error. Store failures leave the values untouched so the operator can retry.
func (f *Form) Submit(ctx context.Context) (SubmitResult, error) {
	job, res, err := f.begin()
	if job == nil {
		return res, err
	}
	return f.run(ctx, job)
}

// SubmitAsync is Submit with the store call running in the background. The
// form is already Submitting when SubmitAsync returns, unless validation
// failed or another submission is pending, in which case the outcome is
// available immediately.
func (f *Form) SubmitAsync(ctx context.Context) <-chan SubmitOutcome {
	ch := make(chan SubmitOutcome, 1)
	job, res, err := f.begin()
	if job == nil {
		ch <- SubmitOutcome{Result: res, Err: err}
		close(ch)
		return ch
	}
	go func() {
		res, err := f.run(ctx, job)
		ch <- SubmitOutcome{Result: res, Err: err}
		close(ch)
	}()
	return ch
}

type submitJob struct {
	values  Input
	editing *Appointment
}

func (f *Form) begin() (*submitJob, SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state == StateSubmitting {
		return nil, SubmitResult{}, ErrSubmitInProgress
	}
	if errs := Validate(f.values); len(errs) > 0 {
		return nil, SubmitResult{Errors: errs}, nil
	}
	f.state = StateSubmitting
	return &submitJob{values: f.values, editing: f.editing}, SubmitResult{}, nil
}

func (f *Form) run(ctx context.Context, job *submitJob) (SubmitResult, error) {
	var (
		rec   *Appointment
		err   error
		found = true
	)
	if job.editing != nil {
		rec, found, err = f.store.Update(ctx, job.editing.ID, PatchFromInput(job.values))
		if err == nil && !found {
			err = ErrNotFound
		}
	} else {
		rec, err = f.store.Create(ctx, job.values)
	}

	// The notifier runs after the lock is released so it may read or reset
	// the form.
	f.mu.Lock()
	f.state = StateIdle
	if err != nil {
		f.mu.Unlock()
		if job.editing != nil {
			f.notify.Failure(MsgUpdateFailed)
		} else {
			f.notify.Failure(MsgCreateFailed)
		}
		return SubmitResult{}, err
	}
	f.values = DefaultInput()
	f.editing = nil
	f.mu.Unlock()

	if job.editing != nil {
		f.notify.Success(MsgUpdated)
	} else {
		f.notify.Success(MsgCreated)
	}
	return SubmitResult{Record: rec, Updated: job.editing != nil}, nil
}
