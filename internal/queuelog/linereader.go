package queuelog

import (
	"bufio"
	"errors"
	"io"
)

const (
	initialBufSize = 64 * 1024
	// MaxLineLen bounds a single queue_log line. Longer lines are
	// skipped.
	MaxLineLen = 64 * 1024
)

// lineReader reads a queue_log line by line, skipping lines that
// exceed maxLen rather than aborting, and counts the bytes it has
// consumed so imports can resume where they stopped.
type lineReader struct {
	r      *bufio.Reader
	maxLen int
	buf    []byte
	err    error
	// offset counts bytes of fully consumed lines.
	offset int64
	// requireNewline leaves an unterminated final line unread.
	// Set when the file may still be being written.
	requireNewline bool
}

func newLineReader(r io.Reader, maxLen int) *lineReader {
	return &lineReader{
		r:      bufio.NewReaderSize(r, initialBufSize),
		maxLen: maxLen,
		buf:    make([]byte, 0, initialBufSize),
	}
}

// next returns the next non-blank line (without line terminator)
// and true, or ("", false) at EOF or on a read error. Lines
// exceeding maxLen are silently skipped.
func (lr *lineReader) next() (string, bool) {
	for {
		line, err := lr.readLine()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				lr.err = err
			}
			return "", false
		}
		if line != "" {
			return line, true
		}
	}
}

// Err returns the first non-EOF read error.
func (lr *lineReader) Err() error {
	return lr.err
}

// Offset returns the number of bytes consumed by returned or
// skipped lines.
func (lr *lineReader) Offset() int64 {
	return lr.offset
}

// readLine reads a full line, returning "" for blank/oversized
// lines and a non-nil error only at EOF or read failure.
func (lr *lineReader) readLine() (string, error) {
	lr.buf = lr.buf[:0]
	oversized := false
	var n int64

	for {
		chunk, err := lr.r.ReadSlice('\n')
		n += int64(len(chunk))
		if !oversized {
			lr.buf = append(lr.buf, chunk...)
			if len(trimEOL(lr.buf)) > lr.maxLen {
				oversized = true
				lr.buf = lr.buf[:0]
			}
		}

		switch {
		case err == nil:
			lr.offset += n
			if oversized {
				return "", nil
			}
			return string(trimEOL(lr.buf)), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && n > 0 && !lr.requireNewline:
			lr.offset += n
			if oversized {
				return "", nil
			}
			return string(trimEOL(lr.buf)), nil
		default:
			return "", err
		}
	}
}

func trimEOL(b []byte) []byte {
	if len(b) > 0 && b[len(b)-1] == '\n' {
		b = b[:len(b)-1]
	}
	if len(b) > 0 && b[len(b)-1] == '\r' {
		b = b[:len(b)-1]
	}
	return b
}
