// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// Compression selects transport compression for the gateway
// connection. With transport compression every binary message is a
// slice of one long compressed stream that lives as long as the
// connection.
type Compression string

const (
	CompressionNone       Compression = ""
	CompressionZlibStream Compression = "zlib-stream"
	CompressionZstdStream Compression = "zstd-stream"
)

// ParseCompression accepts the query-parameter spellings plus "none".
func ParseCompression(value string) (Compression, error) {
	switch value {
	case "", "none":
		return CompressionNone, nil
	case string(CompressionZlibStream):
		return CompressionZlibStream, nil
	case string(CompressionZstdStream):
		return CompressionZstdStream, nil
	default:
		return "", fmt.Errorf("gateway: unknown compression %q", value)
	}
}

// zlibSuffix terminates every complete zlib-stream message (the
// Z_SYNC_FLUSH marker).
var zlibSuffix = []byte{0x00, 0x00, 0xff, 0xff}

var errInflaterClosed = errors.New("gateway: inflater closed")

// inflater turns compressed binary messages back into JSON documents.
// Compressed bytes are written into a pipe in arrival order; a decode
// goroutine reads the decompressed stream and emits one document per
// JSON value.
type inflater struct {
	kind      Compression
	chunks    chan []byte
	values    chan inflated
	done      chan struct{}
	closeOnce sync.Once
}

type inflated struct {
	data []byte
	err  error
}

func newInflater(kind Compression) *inflater {
	reader, writer := io.Pipe()
	inf := &inflater{
		kind:   kind,
		chunks: make(chan []byte, 16),
		values: make(chan inflated, 1),
		done:   make(chan struct{}),
	}
	go inf.write(writer)
	go inf.decode(reader)
	return inf
}

func (inf *inflater) write(writer *io.PipeWriter) {
	defer writer.Close()
	for {
		select {
		case chunk := <-inf.chunks:
			if _, err := writer.Write(chunk); err != nil {
				// The decoder failed and has already reported why.
				return
			}
		case <-inf.done:
			return
		}
	}
}

func (inf *inflater) decode(reader *io.PipeReader) {
	defer reader.Close()
	fail := func(err error) {
		reader.CloseWithError(err)
		select {
		case inf.values <- inflated{err: err}:
		case <-inf.done:
		}
	}

	var source io.Reader
	switch inf.kind {
	case CompressionZlibStream:
		zr, err := zlib.NewReader(reader)
		if err != nil {
			fail(fmt.Errorf("gateway: zlib-stream header: %w", err))
			return
		}
		defer zr.Close()
		source = zr
	case CompressionZstdStream:
		zr, err := zstd.NewReader(reader, zstd.WithDecoderConcurrency(1), zstd.WithDecoderLowmem(true))
		if err != nil {
			fail(fmt.Errorf("gateway: zstd-stream decoder: %w", err))
			return
		}
		defer zr.Close()
		source = zr
	default:
		fail(fmt.Errorf("gateway: no inflater for compression %q", inf.kind))
		return
	}

	decoder := json.NewDecoder(source)
	for {
		var document json.RawMessage
		if err := decoder.Decode(&document); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				err = errInflaterClosed
			}
			fail(err)
			return
		}
		select {
		case inf.values <- inflated{data: document}:
		case <-inf.done:
			return
		}
	}
}

// feed consumes one binary message. It returns the decoded document
// when message completes one, or nil when more fragments are needed.
func (inf *inflater) feed(ctx context.Context, message []byte) ([]byte, error) {
	chunk := bytes.Clone(message)
	select {
	case inf.chunks <- chunk:
	case <-inf.done:
		return nil, errInflaterClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if inf.kind == CompressionZlibStream && !bytes.HasSuffix(message, zlibSuffix) {
		return nil, nil
	}

	select {
	case value := <-inf.values:
		return value.data, value.err
	case <-inf.done:
		return nil, errInflaterClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// close stops both goroutines. The inflater cannot be reused.
func (inf *inflater) close() {
	inf.closeOnce.Do(func() { close(inf.done) })
}
