// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package region

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
)

// ReadLocked reads a secret from path into a Locked region, trimming
// surrounding whitespace. A path of "-" reads one line from stdin. The
// heap copy of the file contents is zeroed before returning.
func ReadLocked(path string) (*Locked, error) {
	var data []byte
	if path == "-" {
		line, err := readLine(os.Stdin)
		if err != nil {
			return nil, err
		}
		data = line
	} else {
		contents, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		data = contents
	}
	defer clear(data)

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("region: secret at %s is empty", path)
	}
	return LockedFromBytes(trimmed)
}

func readLine(reader io.Reader) ([]byte, error) {
	scanner := bufio.NewScanner(reader)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
		return nil, fmt.Errorf("stdin is empty")
	}
	return bytes.Clone(scanner.Bytes()), nil
}
