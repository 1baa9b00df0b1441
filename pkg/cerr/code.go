package cerr

//go:generate go run golang.org/x/tools/cmd/stringer@latest -type=Code -linecomment -output=code_string.go code.go
type Code int

const (
	OK                 = Code(0)  // ok
	Canceled           = Code(1)  // canceled
	Unknown            = Code(2)  // unknown
	InvalidArgument    = Code(3)  // invalid_argument
	DeadlineExceeded   = Code(4)  // deadline_exceeded
	NotFound           = Code(5)  // not_found
	AlreadyExists      = Code(6)  // already_exists
	PermissionDenied   = Code(7)  // permission_denied
	ResourceExhausted  = Code(8)  // resource_exhausted
	FailedPrecondition = Code(9)  // failed_precondition
	Aborted            = Code(10) // aborted
	OutOfRange         = Code(11) // out_of_range
	Unimplemented      = Code(12) // unimplemented
	Internal           = Code(13) // internal
	Unavailable        = Code(14) // unavailable
	DataLoss           = Code(15) // data_loss
	Unauthenticated    = Code(16) // unauthenticated
)

// Level maps a code onto the severity it should be logged with. Codes that
// point at a bug or at corrupted data are errors; the rest describe the
// caller's input and are informational.
func (c Code) Level() Level {
	switch c {
	case OK, Canceled, InvalidArgument, DeadlineExceeded, NotFound,
		AlreadyExists, PermissionDenied, FailedPrecondition, Aborted,
		OutOfRange, Unauthenticated:
		return LevelInfo
	case DataLoss:
		return LevelWarn
	default:
		return LevelError
	}
}

type Level int

const (
	LevelDebug Level = iota + 1
	LevelInfo
	LevelWarn
	LevelError
)
