package api

import (
	"bytes"
	"encoding/json"
	"sync"
)

// maxPooledBody caps the buffers kept for reuse; bodies carrying base64
// images are dropped after use.
const maxPooledBody = 64 << 10

var bodyPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// encodeBody JSON-encodes v into a pooled buffer. The returned release
// func must be called once the bytes are no longer referenced.
func encodeBody(v any) ([]byte, func(), error) {
	buf := bodyPool.Get().(*bytes.Buffer)
	buf.Reset()
	release := func() {
		if buf.Cap() <= maxPooledBody {
			bodyPool.Put(buf)
		}
	}
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		release()
		return nil, nil, err
	}
	return buf.Bytes(), release, nil
}
