package pb

import (
	"bytes"
	"io"
	"os"
	"sync"
)

// bufPool amortizes the buffer allocations of ReadInvocationFile the same
// way the teacher's pb.ReadBuildFile pools *bytes.Buffer across repeated
// textproto reads.
var bufPool = sync.Pool{
	New: func() interface{} { return &bytes.Buffer{} },
}

// WriteInvocationFile persists inv's wire encoding to path.
func WriteInvocationFile(path string, inv Invocation) error {
	return os.WriteFile(path, inv.Marshal(), 0644)
}

// ReadInvocationFile reads and decodes an invocation.bin written by
// WriteInvocationFile.
func ReadInvocationFile(path string) (Invocation, error) {
	var inv Invocation
	b := bufPool.Get().(*bytes.Buffer)
	b.Reset()
	defer bufPool.Put(b)
	f, err := os.Open(path)
	if err != nil {
		return inv, err
	}
	defer f.Close()
	if _, err := io.Copy(b, f); err != nil {
		return inv, err
	}
	return UnmarshalInvocation(b.Bytes())
}
