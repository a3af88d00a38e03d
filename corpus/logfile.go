package corpus

import (
	"os"

	"github.com/pkg/errors"
)

// A LogFile appends lines of text to a file.
type LogFile struct {
	Path string
}

// AppendText appends a line to the file, creating it if
// necessary.
func (l *LogFile) AppendText(line string) error {
	f, err := os.OpenFile(l.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrap(err, "open log file")
	}
	if _, err := f.WriteString(line + "\n"); err != nil {
		f.Close()
		return errors.Wrap(err, "append log file")
	}
	return errors.Wrap(f.Close(), "close log file")
}
