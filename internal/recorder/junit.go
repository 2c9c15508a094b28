package recorder

import (
	"encoding/xml"
	"os"
	"strconv"

	"github.com/silogy-io/smelt/pb"
)

// junitSuite/junitCase mirror the JUnit XML schema every CI dashboard
// already consumes; there is no JUnit-writing library anywhere in the
// retrieval pack (the teacher has no test-report concept at all), so this
// is a direct encoding/xml serializer rather than an adapted teacher file.
type junitSuite struct {
	XMLName  xml.Name    `xml:"testsuite"`
	Name     string      `xml:"name,attr"`
	Tests    int         `xml:"tests,attr"`
	Failures int         `xml:"failures,attr"`
	Cases    []junitCase `xml:"testcase"`
}

type junitCase struct {
	Name    string        `xml:"name,attr"`
	Failure *junitFailure `xml:"failure,omitempty"`
	Skipped *junitSkipped `xml:"skipped,omitempty"`
}

type junitFailure struct {
	Message string `xml:"message,attr"`
}

type junitSkipped struct{}

func writeJUnit(path string, inv pb.Invocation) error {
	suite := junitSuite{Name: inv.InvokeID}
	for _, t := range inv.ExecutedTests {
		c := junitCase{Name: t.Name}
		switch {
		case t.Outputs.ExitCode == -2:
			c.Skipped = &junitSkipped{}
		case t.Outputs.ExitCode != 0:
			suite.Failures++
			c.Failure = &junitFailure{Message: exitCodeMessage(t.Outputs.ExitCode)}
		}
		suite.Tests++
		suite.Cases = append(suite.Cases, c)
	}

	out, err := xml.MarshalIndent(suite, "", "  ")
	if err != nil {
		return err
	}
	out = append([]byte(xml.Header), out...)
	return os.WriteFile(path, out, 0644)
}

func exitCodeMessage(code int32) string {
	if code == -9 {
		return "cancelled"
	}
	return "exit status " + strconv.Itoa(int(code))
}
