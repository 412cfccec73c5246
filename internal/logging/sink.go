package logging

import "os"

func newStdoutSink() *os.File {
	return os.Stdout
}
