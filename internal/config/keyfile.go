package config

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
)

// LoadKeyHexFile loads raw key bytes from a .hex file containing one line
// of hex characters. Unlike a fixed-length loader tied to one key size,
// the length here is caller-checked against the configured KeyType.
func LoadKeyHexFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		key, err := hex.DecodeString(line)
		if err != nil {
			return nil, fmt.Errorf("invalid hex key: %v", err)
		}
		return key, nil
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return nil, errors.New("key file is empty")
}
