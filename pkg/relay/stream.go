package relay

import (
	"bufio"
	"io"
	"net/http"
)

// copyStream relays an SSE body to the client line by line, flushing
// after each line and feeding every line to the usage scanner. The
// bytes delivered to the client are exactly the upstream bytes.
//
// A scan failure never interrupts the copy; a client write failure does,
// since there is nobody left to deliver to.
func copyStream(w http.ResponseWriter, body io.Reader, scan *usageScanner) (int64, error) {
	flusher, _ := w.(http.Flusher)
	reader := bufio.NewReader(body)

	var written int64
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			scan.ScanLine(line)
			n, werr := w.Write(line)
			written += int64(n)
			if werr != nil {
				return written, &clientWriteError{cause: werr}
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err == io.EOF {
			return written, nil
		}
		if err != nil {
			return written, err
		}
	}
}

// clientWriteError marks a failure writing to the client connection,
// distinguishing client aborts from upstream read failures.
type clientWriteError struct {
	cause error
}

func (e *clientWriteError) Error() string {
	return "client connection lost: " + e.cause.Error()
}

func (e *clientWriteError) Unwrap() error {
	return e.cause
}
