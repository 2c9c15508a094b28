package pb

// Profile is one CommandProfile sample (C4).
type Profile struct {
	MemoryUsedBytes uint64
	CPULoad         float64
}

func (p Profile) marshal() []byte {
	var b []byte
	b = putVarint(b, 1, p.MemoryUsedBytes)
	b = putFixed64Float(b, 2, p.CPULoad)
	return b
}

func unmarshalProfile(buf []byte) (Profile, error) {
	var p Profile
	fields, err := parseFields(buf)
	if err != nil {
		return p, err
	}
	for _, f := range fields {
		switch f.num {
		case 1:
			p.MemoryUsedBytes = f.u64
		case 2:
			p.CPULoad = f.float()
		}
	}
	return p, nil
}

// Finished is the terminal payload of a command that ran to completion,
// whatever its exit code.
type Finished struct {
	ExitCode    int32
	Outputs     []string
	CommandType string
}

func (f Finished) marshal() []byte {
	var b []byte
	b = putInt32(b, 1, f.ExitCode)
	for _, o := range f.Outputs {
		b = putString(b, 2, o)
	}
	b = putString(b, 3, f.CommandType)
	return b
}

func unmarshalFinished(buf []byte) (Finished, error) {
	var fin Finished
	fields, err := parseFields(buf)
	if err != nil {
		return fin, err
	}
	for _, f := range fields {
		switch f.num {
		case 1:
			fin.ExitCode = f.i32()
		case 2:
			fin.Outputs = append(fin.Outputs, f.str())
		case 3:
			fin.CommandType = f.str()
		}
	}
	return fin, nil
}

// CommandEventVariant is the oneof discriminant of a CommandEvent.
type CommandEventVariant int

const (
	CmdScheduled CommandEventVariant = iota
	CmdStarted
	CmdStdout
	CmdProfile
	CmdFinished
	CmdCancelled
	CmdSkipped
)

// CommandEvent reports one lifecycle transition of a single command.
type CommandEvent struct {
	Ref     string
	Variant CommandEventVariant

	Stdout   []byte   // set iff Variant == CmdStdout
	Profile  Profile  // set iff Variant == CmdProfile
	Finished Finished // set iff Variant == CmdFinished
}

func (e CommandEvent) marshal() []byte {
	var b []byte
	b = putString(b, 1, e.Ref)
	switch e.Variant {
	case CmdScheduled:
		b = putBool(b, 2, true)
	case CmdStarted:
		b = putBool(b, 3, true)
	case CmdStdout:
		b = putBytes(b, 4, e.Stdout)
	case CmdProfile:
		b = putMessage(b, 5, e.Profile.marshal())
	case CmdFinished:
		b = putMessage(b, 6, e.Finished.marshal())
	case CmdCancelled:
		b = putBool(b, 7, true)
	case CmdSkipped:
		b = putBool(b, 8, true)
	}
	return b
}

func unmarshalCommandEvent(buf []byte) (CommandEvent, error) {
	var e CommandEvent
	fields, err := parseFields(buf)
	if err != nil {
		return e, err
	}
	for _, f := range fields {
		switch f.num {
		case 1:
			e.Ref = f.str()
		case 2:
			e.Variant = CmdScheduled
		case 3:
			e.Variant = CmdStarted
		case 4:
			e.Variant = CmdStdout
			e.Stdout = f.buf
		case 5:
			e.Variant = CmdProfile
			p, err := unmarshalProfile(f.buf)
			if err != nil {
				return e, err
			}
			e.Profile = p
		case 6:
			e.Variant = CmdFinished
			fin, err := unmarshalFinished(f.buf)
			if err != nil {
				return e, err
			}
			e.Finished = fin
		case 7:
			e.Variant = CmdCancelled
		case 8:
			e.Variant = CmdSkipped
		}
	}
	return e, nil
}

// Start is the InvokeEvent payload recorded once a run begins.
type Start struct {
	Root      string
	User      string
	Host      string
	GitHash   string
	GitRepo   string
	GitBranch string
}

func (s Start) marshal() []byte {
	var b []byte
	b = putString(b, 1, s.Root)
	b = putString(b, 2, s.User)
	b = putString(b, 3, s.Host)
	b = putString(b, 4, s.GitHash)
	b = putString(b, 5, s.GitRepo)
	b = putString(b, 6, s.GitBranch)
	return b
}

func unmarshalStart(buf []byte) (Start, error) {
	var s Start
	fields, err := parseFields(buf)
	if err != nil {
		return s, err
	}
	for _, f := range fields {
		switch f.num {
		case 1:
			s.Root = f.str()
		case 2:
			s.User = f.str()
		case 3:
			s.Host = f.str()
		case 4:
			s.GitHash = f.str()
		case 5:
			s.GitRepo = f.str()
		case 6:
			s.GitBranch = f.str()
		}
	}
	return s, nil
}

// InvokeEventVariant is the oneof discriminant of an InvokeEvent.
type InvokeEventVariant int

const (
	InvokeStart InvokeEventVariant = iota
	InvokeDone
	InvokeSetGraph
)

// InvokeEvent reports a run-wide (rather than per-command) lifecycle
// transition.
type InvokeEvent struct {
	Variant InvokeEventVariant
	Start   Start // set iff Variant == InvokeStart
}

func (e InvokeEvent) marshal() []byte {
	var b []byte
	switch e.Variant {
	case InvokeStart:
		b = putMessage(b, 1, e.Start.marshal())
	case InvokeDone:
		b = putBool(b, 2, true)
	case InvokeSetGraph:
		b = putBool(b, 3, true)
	}
	return b
}

func unmarshalInvokeEvent(buf []byte) (InvokeEvent, error) {
	var e InvokeEvent
	fields, err := parseFields(buf)
	if err != nil {
		return e, err
	}
	for _, f := range fields {
		switch f.num {
		case 1:
			e.Variant = InvokeStart
			s, err := unmarshalStart(f.buf)
			if err != nil {
				return e, err
			}
			e.Start = s
		case 2:
			e.Variant = InvokeDone
		case 3:
			e.Variant = InvokeSetGraph
		}
	}
	return e, nil
}

// ErrorKind classifies a SmeltError; see spec.md §7.
type ErrorKind int32

const (
	ClientError ErrorKind = iota
	InternalError
	InternalWarn
)

func (k ErrorKind) String() string {
	switch k {
	case ClientError:
		return "ClientError"
	case InternalError:
		return "InternalError"
	case InternalWarn:
		return "InternalWarn"
	default:
		return "UnknownError"
	}
}

// SmeltError is a reported failure crossing the client/server boundary.
type SmeltError struct {
	Kind    ErrorKind
	Payload string
}

func (e SmeltError) Error() string { return e.Kind.String() + ": " + e.Payload }

func (e SmeltError) marshal() []byte {
	var b []byte
	b = putVarint(b, 1, uint64(e.Kind))
	b = putString(b, 2, e.Payload)
	return b
}

func unmarshalSmeltError(buf []byte) (SmeltError, error) {
	var e SmeltError
	fields, err := parseFields(buf)
	if err != nil {
		return e, err
	}
	for _, f := range fields {
		switch f.num {
		case 1:
			e.Kind = ErrorKind(f.i32())
		case 2:
			e.Payload = f.str()
		}
	}
	return e, nil
}

// EventBody is the oneof discriminant of Event: exactly one of
// CommandEvent/InvokeEvent/SmeltError is set.
type EventBody int

const (
	BodyCommandEvent EventBody = iota
	BodyInvokeEvent
	BodySmeltError
)

// Event is the tagged union every lifecycle transition is delivered as
// (spec.md §3), carrying a trace id and wall-clock timestamp.
type Event struct {
	TraceID           string
	TimestampUnixNano int64

	Body         EventBody
	CommandEvent CommandEvent
	InvokeEvent  InvokeEvent
	SmeltError   SmeltError
}

// Marshal encodes e into Smelt's wire format.
func (e Event) Marshal() []byte {
	var b []byte
	b = putString(b, 1, e.TraceID)
	b = putInt64(b, 2, e.TimestampUnixNano)
	switch e.Body {
	case BodyCommandEvent:
		b = putMessage(b, 3, e.CommandEvent.marshal())
	case BodyInvokeEvent:
		b = putMessage(b, 4, e.InvokeEvent.marshal())
	case BodySmeltError:
		b = putMessage(b, 5, e.SmeltError.marshal())
	}
	return b
}

// UnmarshalEvent decodes buf into an Event.
func UnmarshalEvent(buf []byte) (Event, error) {
	var e Event
	fields, err := parseFields(buf)
	if err != nil {
		return e, err
	}
	for _, f := range fields {
		switch f.num {
		case 1:
			e.TraceID = f.str()
		case 2:
			e.TimestampUnixNano = f.i64()
		case 3:
			e.Body = BodyCommandEvent
			ce, err := unmarshalCommandEvent(f.buf)
			if err != nil {
				return e, err
			}
			e.CommandEvent = ce
		case 4:
			e.Body = BodyInvokeEvent
			ie, err := unmarshalInvokeEvent(f.buf)
			if err != nil {
				return e, err
			}
			e.InvokeEvent = ie
		case 5:
			e.Body = BodySmeltError
			se, err := unmarshalSmeltError(f.buf)
			if err != nil {
				return e, err
			}
			e.SmeltError = se
		}
	}
	return e, nil
}
