// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
)

// maxTokenFileSize bounds a token file. Bot tokens are under 100 bytes;
// anything much larger is the wrong file.
const maxTokenFileSize = 4096

// ReadToken reads a bot token from path, or the first line of stdin
// when path is "-". Surrounding whitespace and an optional "Bot "
// prefix are removed. Every intermediate copy is zeroed.
func ReadToken(path string) (*Buffer, error) {
	var data []byte
	if path == "-" {
		line, err := bufio.NewReader(io.LimitReader(os.Stdin, maxTokenFileSize)).ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			Zero(line)
			return nil, fmt.Errorf("reading token from stdin: %w", err)
		}
		data = line
	} else {
		file, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		data, err = io.ReadAll(io.LimitReader(file, maxTokenFileSize+1))
		file.Close()
		if err != nil {
			Zero(data)
			return nil, fmt.Errorf("reading token file: %w", err)
		}
		if len(data) > maxTokenFileSize {
			Zero(data)
			return nil, fmt.Errorf("token file %s is larger than %d bytes", path, maxTokenFileSize)
		}
	}
	return TokenFromBytes(data)
}

// TokenFromBytes normalizes data the way ReadToken does and moves the
// result into a Buffer. data is zeroed.
func TokenFromBytes(data []byte) (*Buffer, error) {
	defer Zero(data)
	token := bytes.TrimSpace(data)
	token = bytes.TrimPrefix(token, []byte("Bot "))
	token = bytes.TrimSpace(token)
	if len(token) == 0 {
		return nil, errors.New("token is empty")
	}
	if bytes.ContainsAny(token, " \t\r\n") {
		return nil, errors.New("token contains whitespace")
	}
	return FromBytes(token)
}
