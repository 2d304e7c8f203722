package stream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"modelrelay/internal/transform"
	"modelrelay/internal/types"
)

// DefaultIdleTimeout bounds the wait for the next complete SSE event on a
// streaming body; bytes of a partly received event do not reset it. The
// per-attempt total timeout only covers the headers.
const DefaultIdleTimeout = 120 * time.Second

var (
	lf         = []byte("\n")
	eventDelim = []byte("\n\n")
	crlfDelim  = []byte("\r\n\r\n")
	dataPrefix = []byte("data:")
	doneMarker = []byte("[DONE]")
)

// FrameReader assembles blank-line-delimited SSE events from a byte stream.
// An event may span multiple reads and contain multiple field lines; the
// reader never assumes line-sized chunks.
type FrameReader struct {
	r   io.Reader
	buf []byte
	err error
}

// NewFrameReader wraps an upstream response body.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: r}
}

// Next returns the next complete event, without its trailing blank line.
// At stream end a partial trailing frame is discarded and the reader
// surfaces the underlying error (io.EOF on clean close).
func (f *FrameReader) Next() ([]byte, error) {
	for {
		if frame, rest, ok := cutFrame(f.buf); ok {
			f.buf = rest
			// The frame is handed out past this reader's lifetime for the
			// current event, so detach it from the shared buffer.
			return append([]byte(nil), frame...), nil
		}
		if f.err != nil {
			return nil, f.err
		}

		chunk := make([]byte, 4096)
		n, err := f.r.Read(chunk)
		if n > 0 {
			f.buf = append(f.buf, chunk[:n]...)
		}
		if err != nil {
			f.err = err
		}
	}
}

// cutFrame splits buf at the earliest event delimiter, tolerating CRLF
// framing.
func cutFrame(buf []byte) (frame, rest []byte, ok bool) {
	i := bytes.Index(buf, eventDelim)
	j := bytes.Index(buf, crlfDelim)
	switch {
	case j >= 0 && (i < 0 || j < i):
		return buf[:j], buf[j+len(crlfDelim):], true
	case i >= 0:
		return buf[:i], buf[i+len(eventDelim):], true
	}
	return nil, buf, false
}

// TransformEvent applies per-event response transforms to one SSE frame.
// Only the data payload is a transform target; event/id/retry lines pass
// through untouched, and the [DONE] sentinel is forwarded verbatim. When
// nothing changes the original frame bytes are returned.
func TransformEvent(frame []byte, p *transform.Pipeline) []byte {
	if p == nil || p.Empty() {
		return frame
	}

	lines := bytes.Split(frame, lf)
	var payloads [][]byte
	for _, line := range lines {
		if payload, ok := dataPayload(line); ok {
			payloads = append(payloads, payload)
		}
	}
	if len(payloads) == 0 {
		return frame
	}

	joined := bytes.Join(payloads, lf)
	if bytes.Equal(joined, doneMarker) {
		return frame
	}

	out := p.RunEvent(joined)
	if bytes.Equal(out, joined) {
		return frame
	}

	// Rebuild the frame: non-data lines keep their positions, the data
	// block is replaced in place at the first data line.
	var b bytes.Buffer
	wroteData := false
	for i, line := range lines {
		if _, ok := dataPayload(line); ok {
			if wroteData {
				continue
			}
			wroteData = true
			for _, dl := range bytes.Split(out, lf) {
				b.WriteString("data: ")
				b.Write(dl)
				b.Write(lf)
			}
			continue
		}
		b.Write(line)
		if i < len(lines)-1 {
			b.Write(lf)
		}
	}
	return bytes.TrimSuffix(b.Bytes(), lf)
}

// dataPayload extracts the payload of a data line, stripping the optional
// single leading space and a trailing CR.
func dataPayload(line []byte) ([]byte, bool) {
	line = bytes.TrimSuffix(line, []byte("\r"))
	if !bytes.HasPrefix(line, dataPrefix) {
		return nil, false
	}
	payload := line[len(dataPrefix):]
	if len(payload) > 0 && payload[0] == ' ' {
		payload = payload[1:]
	}
	return payload, true
}

// Forwarder streams SSE events from an upstream body to the downstream
// client, applying per-event transforms and flushing after every event. It
// never buffers the whole response.
type Forwarder struct {
	IdleTimeout time.Duration
	Log         *zap.Logger
}

type frameResult struct {
	frame []byte
	err   error
}

// Forward copies events until upstream EOF, idle timeout, or downstream
// disconnect. It writes the streaming headers and the status before the
// first byte, returns the number of bytes written downstream, and reports
// StreamAborted when the client went away mid-stream.
func (f *Forwarder) Forward(ctx context.Context, w http.ResponseWriter, status int, upstream io.Reader, p *transform.Pipeline) (int64, *types.ProxyError) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return 0, types.Transport("response writer does not support flushing")
	}

	idle := f.IdleTimeout
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	flusher.Flush()

	frames := make(chan frameResult, 1)
	go func() {
		fr := NewFrameReader(upstream)
		for {
			frame, err := fr.Next()
			select {
			case frames <- frameResult{frame: frame, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	var written int64
	timer := time.NewTimer(idle)
	defer timer.Stop()

	for {
		timer.Reset(idle)
		select {
		case <-ctx.Done():
			return written, &types.ProxyError{Kind: types.KindStreamAborted, Message: "client disconnected mid-stream"}

		case <-timer.C:
			return written, types.Timeout(fmt.Sprintf("no upstream bytes within %s", idle))

		case res := <-frames:
			if res.err != nil {
				if res.err == io.EOF {
					return written, nil
				}
				if ctx.Err() != nil {
					return written, &types.ProxyError{Kind: types.KindStreamAborted, Message: "client disconnected mid-stream"}
				}
				return written, types.Transport(res.err.Error())
			}

			out := TransformEvent(res.frame, p)
			n, err := w.Write(append(out, eventDelim...))
			written += int64(n)
			if err != nil {
				return written, &types.ProxyError{Kind: types.KindStreamAborted, Message: "client disconnected mid-stream"}
			}
			flusher.Flush()
		}
	}
}
