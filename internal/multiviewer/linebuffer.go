package multiviewer

import "bytes"

// lineBuffer accumulates raw bytes and hands out '\n'-terminated lines.
type lineBuffer struct {
	buf []byte
}

func (lb *lineBuffer) write(p []byte) {
	lb.buf = append(lb.buf, p...)
}

// next returns the next complete line, decoded and trimmed.
func (lb *lineBuffer) next() (string, bool) {
	i := bytes.IndexByte(lb.buf, '\n')
	if i < 0 {
		return "", false
	}
	line := decodeLine(lb.buf[:i])
	lb.buf = lb.buf[i+1:]
	return line, true
}

func (lb *lineBuffer) pending() bool {
	return len(lb.buf) > 0
}

// flush returns whatever partial line is buffered.
func (lb *lineBuffer) flush() string {
	line := decodeLine(lb.buf)
	lb.buf = nil
	return line
}
