package protocol

import (
	"bufio"
	"errors"
	"io"
	"unicode/utf8"
)

const (
	// DefaultMaxLineLength is the longest line a LineReader accepts unless configured otherwise
	DefaultMaxLineLength = 4096

	// Terminator ends every line on the wire
	Terminator = '\n'
)

var (
	ErrLineTooLong = errors.New("line exceeds maximum length")
	ErrInvalidUTF8 = errors.New("line is not valid UTF-8")
)

// LineReader splits a byte stream into newline-terminated lines.
// Partial reads are buffered until a terminator arrives.
type LineReader struct {
	r       *bufio.Reader
	maxLine int
}

// NewLineReader wraps r. maxLine <= 0 selects DefaultMaxLineLength.
func NewLineReader(r io.Reader, maxLine int) *LineReader {
	if maxLine <= 0 {
		maxLine = DefaultMaxLineLength
	}
	return &LineReader{
		r:       bufio.NewReaderSize(r, maxLine+2),
		maxLine: maxLine,
	}
}

// ReadLine returns the next line without its terminator ("\n" or "\r\n").
// An unterminated fragment before EOF is returned as a line; the following
// call returns io.EOF. A line that does not decode as UTF-8 is an error,
// ErrInvalidUTF8, like any other transport failure.
func (lr *LineReader) ReadLine() (string, error) {
	var buf []byte
	for {
		chunk, isPrefix, err := lr.r.ReadLine()
		if err != nil {
			if len(buf) > 0 && errors.Is(err, io.EOF) {
				return decode(buf)
			}
			return "", err
		}
		if len(buf)+len(chunk) > lr.maxLine {
			return "", ErrLineTooLong
		}
		buf = append(buf, chunk...)
		if !isPrefix {
			return decode(buf)
		}
	}
}

func decode(buf []byte) (string, error) {
	if !utf8.Valid(buf) {
		return "", ErrInvalidUTF8
	}
	return string(buf), nil
}

// ReadRawLine returns the next line including its terminator, byte for byte.
// Used by the relay, which must forward the client's name line unaltered
// apart from the marker prefix.
func (lr *LineReader) ReadRawLine() ([]byte, error) {
	var buf []byte
	for {
		chunk, err := lr.r.ReadSlice(Terminator)
		if len(buf)+len(chunk) > lr.maxLine+2 {
			return nil, ErrLineTooLong
		}
		buf = append(buf, chunk...)
		switch {
		case err == nil:
			return buf, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		default:
			return nil, err
		}
	}
}

// Reader exposes the buffered reader so callers can drain it once line
// framing is no longer needed
func (lr *LineReader) Reader() io.Reader {
	return lr.r
}

// Line returns s with exactly one trailing newline
func Line(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s + "\n"
}

// WriteLine writes s as a single newline-terminated line
func WriteLine(w io.Writer, s string) error {
	_, err := io.WriteString(w, Line(s))
	return err
}
