// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"nhooyr.io/websocket"
)

func TestConnectURL(t *testing.T) {
	tests := []struct {
		base        string
		compression Compression
		want        string
	}{
		{"wss://gateway.discord.gg", CompressionNone, "wss://gateway.discord.gg/?encoding=json&v=10"},
		{"wss://gateway.discord.gg/", CompressionZlibStream, "wss://gateway.discord.gg/?compress=zlib-stream&encoding=json&v=10"},
		{"wss://resume.example/?v=9&compress=zlib-stream", CompressionNone, "wss://resume.example/?encoding=json&v=10"},
	}
	for _, test := range tests {
		got, err := ConnectURL(test.base, test.compression)
		if err != nil {
			t.Errorf("ConnectURL(%q): %v", test.base, err)
			continue
		}
		if got != test.want {
			t.Errorf("ConnectURL(%q, %q) = %q, want %q", test.base, test.compression, got, test.want)
		}
	}
	if _, err := ConnectURL("https://discord.com", CompressionNone); err == nil {
		t.Error("https URL accepted")
	}
}

func TestParseCompression(t *testing.T) {
	for input, want := range map[string]Compression{
		"":            CompressionNone,
		"none":        CompressionNone,
		"zlib-stream": CompressionZlibStream,
		"zstd-stream": CompressionZstdStream,
	} {
		got, err := ParseCompression(input)
		if err != nil || got != want {
			t.Errorf("ParseCompression(%q) = %q, %v", input, got, err)
		}
	}
	if _, err := ParseCompression("gzip"); err == nil {
		t.Error("gzip accepted")
	}
}

// zlibMessages compresses documents as one zlib stream with a sync
// flush after each, the way the gateway frames zlib-stream messages.
func zlibMessages(t *testing.T, documents ...string) [][]byte {
	t.Helper()
	var stream bytes.Buffer
	writer := zlib.NewWriter(&stream)
	var messages [][]byte
	for _, document := range documents {
		if _, err := writer.Write([]byte(document)); err != nil {
			t.Fatalf("compressing: %v", err)
		}
		if err := writer.Flush(); err != nil {
			t.Fatalf("flushing: %v", err)
		}
		messages = append(messages, bytes.Clone(stream.Bytes()))
		stream.Reset()
	}
	return messages
}

func zstdMessages(t *testing.T, documents ...string) [][]byte {
	t.Helper()
	var stream bytes.Buffer
	writer, err := zstd.NewWriter(&stream, zstd.WithEncoderConcurrency(1))
	if err != nil {
		t.Fatalf("zstd writer: %v", err)
	}
	var messages [][]byte
	for _, document := range documents {
		if _, err := writer.Write([]byte(document)); err != nil {
			t.Fatalf("compressing: %v", err)
		}
		if err := writer.Flush(); err != nil {
			t.Fatalf("flushing: %v", err)
		}
		messages = append(messages, bytes.Clone(stream.Bytes()))
		stream.Reset()
	}
	return messages
}

func TestZlibInflaterSharesContextAcrossMessages(t *testing.T) {
	documents := []string{
		`{"op":10,"d":{"heartbeat_interval":41250}}`,
		`{"op":0,"s":1,"t":"READY","d":{"session_id":"abc"}}`,
		`{"op":0,"s":2,"t":"READY","d":{"session_id":"abc"}}`,
	}
	messages := zlibMessages(t, documents...)
	if !bytes.HasSuffix(messages[0], zlibSuffix) {
		t.Fatalf("flushed message does not end with the sync marker: %x", messages[0])
	}

	inf := newInflater(CompressionZlibStream)
	defer inf.close()
	ctx, cancel := context.WithTimeout(context.Background(), receiveTimeout)
	defer cancel()

	for index, message := range messages {
		got, err := inf.feed(ctx, message)
		if err != nil {
			t.Fatalf("message %d: %v", index, err)
		}
		if string(got) != documents[index] {
			t.Errorf("message %d = %s, want %s", index, got, documents[index])
		}
	}
}

func TestZlibInflaterJoinsFragments(t *testing.T) {
	document := `{"op":0,"s":1,"t":"GUILD_CREATE","d":{"name":"` + strings.Repeat("x", 4096) + `"}}`
	message := zlibMessages(t, document)[0]
	split := len(message) / 2

	inf := newInflater(CompressionZlibStream)
	defer inf.close()
	ctx, cancel := context.WithTimeout(context.Background(), receiveTimeout)
	defer cancel()

	partial, err := inf.feed(ctx, message[:split])
	if err != nil || partial != nil {
		t.Fatalf("first fragment = %q, %v; want nothing yet", partial, err)
	}
	got, err := inf.feed(ctx, message[split:])
	if err != nil {
		t.Fatalf("second fragment: %v", err)
	}
	if string(got) != document {
		t.Errorf("joined document has %d bytes, want %d", len(got), len(document))
	}
}

func TestZstdInflater(t *testing.T) {
	documents := []string{`{"op":10,"d":{"heartbeat_interval":41250}}`, `{"op":11,"d":null}`}
	messages := zstdMessages(t, documents...)

	inf := newInflater(CompressionZstdStream)
	defer inf.close()
	ctx, cancel := context.WithTimeout(context.Background(), receiveTimeout)
	defer cancel()

	for index, message := range messages {
		got, err := inf.feed(ctx, message)
		if err != nil {
			t.Fatalf("message %d: %v", index, err)
		}
		if string(got) != documents[index] {
			t.Errorf("message %d = %s, want %s", index, got, documents[index])
		}
	}
}

func TestInflaterReportsCorruptStream(t *testing.T) {
	inf := newInflater(CompressionZlibStream)
	defer inf.close()
	ctx, cancel := context.WithTimeout(context.Background(), receiveTimeout)
	defer cancel()

	garbage := append([]byte("definitely not zlib"), zlibSuffix...)
	if _, err := inf.feed(ctx, garbage); err == nil {
		t.Error("corrupt stream decoded")
	}
}

// gatewayServer accepts one websocket and runs script against it.
func gatewayServer(t *testing.T, script func(ctx context.Context, r *http.Request, conn *websocket.Conn)) string {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer conn.CloseNow()
		script(r.Context(), r, conn)
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestWebSocketDialerReadsTextAndCloseCodes(t *testing.T) {
	queries := make(chan string, 1)
	url := gatewayServer(t, func(ctx context.Context, r *http.Request, conn *websocket.Conn) {
		queries <- r.URL.RawQuery
		conn.Write(ctx, websocket.MessageText, []byte(`{"op":10,"d":{"heartbeat_interval":1000}}`))
		_, data, err := conn.Read(ctx)
		if err != nil || !strings.Contains(string(data), `"op":2`) {
			t.Errorf("server read %s, %v", data, err)
		}
		conn.Close(websocket.StatusCode(CloseAuthenticationFailed), "Authentication failed.")
	})

	dialer := &WebSocketDialer{}
	ctx, cancel := context.WithTimeout(context.Background(), receiveTimeout)
	defer cancel()
	conn, err := dialer.Dial(ctx, url)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close(CloseNormal, "")

	if query := <-queries; query != "encoding=json&v=10" {
		t.Errorf("query = %q", query)
	}
	data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	frame, err := DecodeFrame(data)
	if err != nil || frame.Op != OpHello {
		t.Fatalf("first frame = %+v, %v", frame, err)
	}

	identify, _ := encodeFrame(OpIdentify, Identify{Token: "t"})
	if err := conn.Write(ctx, identify); err != nil {
		t.Fatalf("Write: %v", err)
	}

	_, err = conn.Read(ctx)
	var closed *CloseError
	if !errors.As(err, &closed) || closed.Code != CloseAuthenticationFailed {
		t.Fatalf("Read after close = %v, want close code 4004", err)
	}
	if closed.Class() != FatalClose {
		t.Errorf("class = %s", closed.Class())
	}
}

func TestWebSocketDialerInflatesZlibStream(t *testing.T) {
	documents := []string{`{"op":10,"d":{"heartbeat_interval":1000}}`, `{"op":11,"d":null}`}
	messages := zlibMessages(t, documents...)
	url := gatewayServer(t, func(ctx context.Context, r *http.Request, conn *websocket.Conn) {
		if got := r.URL.Query().Get("compress"); got != "zlib-stream" {
			t.Errorf("compress = %q", got)
		}
		for _, message := range messages {
			conn.Write(ctx, websocket.MessageBinary, message)
		}
		// Hold the connection open until the client goes away.
		conn.Read(ctx)
	})

	dialer := &WebSocketDialer{Compression: CompressionZlibStream}
	ctx, cancel := context.WithTimeout(context.Background(), receiveTimeout)
	defer cancel()
	conn, err := dialer.Dial(ctx, url)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close(CloseNormal, "")

	for index, want := range documents {
		got, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("Read %d: %v", index, err)
		}
		if string(got) != want {
			t.Errorf("Read %d = %s, want %s", index, got, want)
		}
	}
}

func TestWebSocketDialerRejectsBadURL(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := (&WebSocketDialer{}).Dial(ctx, "http://example.com"); err == nil {
		t.Error("http URL accepted")
	}
}
