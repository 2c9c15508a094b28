package pb

// Outputs is the per-test artifact/exit-code payload of a TestResult.
type Outputs struct {
	Artifacts []string
	ExitCode  int32
}

func (o Outputs) marshal() []byte {
	var b []byte
	for _, a := range o.Artifacts {
		b = putString(b, 1, a)
	}
	b = putInt32(b, 2, o.ExitCode)
	return b
}

func unmarshalOutputs(buf []byte) (Outputs, error) {
	var o Outputs
	fields, err := parseFields(buf)
	if err != nil {
		return o, err
	}
	for _, f := range fields {
		switch f.num {
		case 1:
			o.Artifacts = append(o.Artifacts, f.str())
		case 2:
			o.ExitCode = f.i32()
		}
	}
	return o, nil
}

// TestResult is one finished command's recorded outcome.
type TestResult struct {
	Name        string
	Outputs     Outputs
	InputDigest string // §4.2a, informational; empty if unavailable
}

func (t TestResult) marshal() []byte {
	var b []byte
	b = putString(b, 1, t.Name)
	b = putMessage(b, 2, t.Outputs.marshal())
	b = putString(b, 3, t.InputDigest)
	return b
}

func unmarshalTestResult(buf []byte) (TestResult, error) {
	var t TestResult
	fields, err := parseFields(buf)
	if err != nil {
		return t, err
	}
	for _, f := range fields {
		switch f.num {
		case 1:
			t.Name = f.str()
		case 2:
			o, err := unmarshalOutputs(f.buf)
			if err != nil {
				return t, err
			}
			t.Outputs = o
		case 3:
			t.InputDigest = f.str()
		}
	}
	return t, nil
}

// Invocation is the end-of-run record persisted by the invocation recorder
// (C7) to smelt_root/smelt-out/invocation.bin.
type Invocation struct {
	InvokeID      string
	Rundate       int64 // unix seconds
	User          string
	Repo          string
	Branch        string
	Hostname      string
	SmeltRoot     string
	ExecutedTests []TestResult
	SmeltVersion  string
}

// Marshal encodes inv into Smelt's wire format.
func (inv Invocation) Marshal() []byte {
	var b []byte
	b = putString(b, 1, inv.InvokeID)
	b = putInt64(b, 2, inv.Rundate)
	b = putString(b, 3, inv.User)
	b = putString(b, 4, inv.Repo)
	b = putString(b, 5, inv.Branch)
	b = putString(b, 6, inv.Hostname)
	b = putString(b, 7, inv.SmeltRoot)
	for _, t := range inv.ExecutedTests {
		b = putMessage(b, 8, t.marshal())
	}
	b = putString(b, 9, inv.SmeltVersion)
	return b
}

// UnmarshalInvocation decodes buf into an Invocation.
func UnmarshalInvocation(buf []byte) (Invocation, error) {
	var inv Invocation
	fields, err := parseFields(buf)
	if err != nil {
		return inv, err
	}
	for _, f := range fields {
		switch f.num {
		case 1:
			inv.InvokeID = f.str()
		case 2:
			inv.Rundate = f.i64()
		case 3:
			inv.User = f.str()
		case 4:
			inv.Repo = f.str()
		case 5:
			inv.Branch = f.str()
		case 6:
			inv.Hostname = f.str()
		case 7:
			inv.SmeltRoot = f.str()
		case 8:
			t, err := unmarshalTestResult(f.buf)
			if err != nil {
				return inv, err
			}
			inv.ExecutedTests = append(inv.ExecutedTests, t)
		case 9:
			inv.SmeltVersion = f.str()
		}
	}
	return inv, nil
}
