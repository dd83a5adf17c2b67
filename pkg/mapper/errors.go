package mapper

import "fmt"

// ErrorKind is the taxonomy from §7. The CLI renders
// "<kind-message> while <activity>" using this and the wrapped cause.
type ErrorKind int

const (
	ErrUnknown ErrorKind = iota
	ErrIO
	ErrNotAFileSystem
	ErrCorruptStructure
	ErrNotADatabase
	ErrCorrupt
	ErrNoMemory
	ErrExists
	ErrNotFound
	ErrStore
)

func (k ErrorKind) String() string {
	switch k {
	case ErrIO:
		return "I/O error"
	case ErrNotAFileSystem:
		return "not a recognised file system"
	case ErrCorruptStructure:
		return "corrupt on-disk structure"
	case ErrNotADatabase:
		return "not a database"
	case ErrCorrupt:
		return "corrupt data"
	case ErrNoMemory:
		return "out of memory"
	case ErrExists:
		return "already exists"
	case ErrNotFound:
		return "not found"
	case ErrStore:
		return "store error"
	default:
		return "error"
	}
}

// Error wraps a cause with a kind and the activity that was in progress
// when it occurred, so it can render as "<kind-message> while <activity>".
type Error struct {
	Kind     ErrorKind
	Activity string
	Cause    error
}

func (e *Error) Error() string {
	if e.Activity == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s while %s: %v", e.Kind, e.Activity, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// Wrap builds an *Error. cause may be nil, in which case Wrap returns nil
// (mirrors the common "return Wrap(kind, activity, err)" idiom without
// forcing every call site to check err first).
func Wrap(kind ErrorKind, activity string, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Activity: activity, Cause: cause}
}

// FaultTracker implements the sticky two-channel error model from §7: an
// FS/driver channel and a store channel. Once a channel is set, later
// FailFS/FailStore calls on it keep the first error; callers check the
// Tainted accessors to turn their own work into no-ops. The tracker has
// no reset: a channel stays set for the tracker's lifetime.
type FaultTracker struct {
	fsErr    error
	storeErr error
}

// FailFS records err on the FS/driver channel if it isn't already set,
// and reports whether the channel was already tainted before this call.
func (t *FaultTracker) FailFS(err error) (alreadyTainted bool) {
	if t.fsErr != nil {
		return true
	}
	t.fsErr = err
	return false
}

// FailStore records err on the store channel if it isn't already set.
func (t *FaultTracker) FailStore(err error) (alreadyTainted bool) {
	if t.storeErr != nil {
		return true
	}
	t.storeErr = err
	return false
}

// FSErr returns the first FS/driver error recorded, or nil.
func (t *FaultTracker) FSErr() error { return t.fsErr }

// StoreErr returns the first store error recorded, or nil.
func (t *FaultTracker) StoreErr() error { return t.storeErr }

// FSTainted reports whether the FS/driver channel has failed.
func (t *FaultTracker) FSTainted() bool { return t.fsErr != nil }

// StoreTainted reports whether the store channel has failed.
func (t *FaultTracker) StoreTainted() bool { return t.storeErr != nil }

// Result returns the FS channel's error if one is recorded, otherwise
// the store channel's, for use as the process's terminal error / exit
// code. It does not record which channel failed first.
func (t *FaultTracker) Result() error {
	if t.fsErr != nil {
		return t.fsErr
	}
	return t.storeErr
}
