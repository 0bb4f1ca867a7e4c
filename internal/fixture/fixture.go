// Package fixture loads JSON5 protocol test fixtures: named test cases
// giving a byte sequence and the field values it should decode to (or
// vice versa for encode fixtures), used by codec's fixture-driven
// decode tests alongside hand-built ir.Entry trees.
//
// Two conventions keep the fixture files portable across language
// harnesses: a trailing "n" suffix marks a BigInt literal too large to
// round-trip safely through a JSON number, and a 0/1 bit array may
// stand in for a byte array when a case is easier to author bit by
// bit.
package fixture

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/aeolun/json5"
)

// Suite is a named group of Cases sharing a bit order convention.
type Suite struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	BitOrder    string `json:"bit_order,omitempty"`
	Cases       []Case `json:"cases"`
}

// Case is one test vector: Bytes (or Bits, converted to Bytes at load
// time) paired with Fields, the expected decoded field map, or Value
// for scalar entries. ExpectError, if set, names the ErrorKind a
// decode of Bytes is expected to fail with.
type Case struct {
	Description string                 `json:"description"`
	Bytes       []byte                 `json:"bytes"`
	Bits        []int                  `json:"bits,omitempty"`
	Fields      map[string]interface{} `json:"fields,omitempty"`
	Value       interface{}            `json:"value,omitempty"`
	ExpectError string                 `json:"expect_error,omitempty"`
}

// Load reads and parses a single JSON5 fixture file.
func Load(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("fixture: reading %s: %w", path, err)
	}

	var suite Suite
	if err := json5.Unmarshal(data, &suite); err != nil {
		return nil, fmt.Errorf("fixture: parsing %s: %w", path, err)
	}

	bitOrder := suite.BitOrder
	if bitOrder == "" {
		bitOrder = "msb_first"
	}

	for i := range suite.Cases {
		suite.Cases[i].Fields = processBigIntMap(suite.Cases[i].Fields)
		suite.Cases[i].Value = processBigIntValue(suite.Cases[i].Value)
		if len(suite.Cases[i].Bits) > 0 && len(suite.Cases[i].Bytes) == 0 {
			suite.Cases[i].Bytes = bitsToBytes(suite.Cases[i].Bits, bitOrder)
		}
	}

	return &suite, nil
}

// LoadAll reads every *.fixture.json5 file under rootDir, recursively.
func LoadAll(rootDir string) ([]*Suite, error) {
	var suites []*Suite
	err := filepath.Walk(rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(path, ".fixture.json5") {
			return nil
		}
		suite, err := Load(path)
		if err != nil {
			return err
		}
		suites = append(suites, suite)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return suites, nil
}

func processBigIntMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = processBigIntValue(v)
	}
	return out
}

// processBigIntValue converts a trailing-"n" BigInt string (the
// "123n" convention JSON5 test fixtures use for values too large to
// round-trip safely through a JSON number) into an int64 or uint64,
// recursing through nested maps and slices.
func processBigIntValue(val interface{}) interface{} {
	switch v := val.(type) {
	case string:
		if strings.HasSuffix(v, "n") {
			numStr := strings.TrimSuffix(v, "n")
			if num, err := strconv.ParseInt(numStr, 10, 64); err == nil {
				return num
			}
			if num, err := strconv.ParseUint(numStr, 10, 64); err == nil {
				return num
			}
		}
		return v
	case map[string]interface{}:
		return processBigIntMap(v)
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, elem := range v {
			out[i] = processBigIntValue(elem)
		}
		return out
	default:
		return v
	}
}

// bitsToBytes packs a 0/1 bit array into bytes, respecting bitOrder
// ("msb_first" or "lsb_first").
func bitsToBytes(bits []int, bitOrder string) []byte {
	if len(bits) == 0 {
		return []byte{}
	}
	out := make([]byte, (len(bits)+7)/8)
	for i, bit := range bits {
		if bit == 0 {
			continue
		}
		byteIdx := i / 8
		var bitIdx int
		if bitOrder == "lsb_first" {
			bitIdx = i % 8
		} else {
			bitIdx = 7 - (i % 8)
		}
		out[byteIdx] |= 1 << uint(bitIdx)
	}
	return out
}
