package config

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/zeebo/blake3"
)

// ChecksumFileName holds BLAKE3 digests of config files, one "<hex>  <name>"
// line per file, as written by b3sum.
const ChecksumFileName = ".checksums"

// HashBytes returns the hex BLAKE3-256 digest of data.
func HashBytes(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ComputeBlake3Hash computes the BLAKE3 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	return HashBytes(data), nil
}

// LoadChecksums reads the manifest in dir. A missing manifest yields nil.
func LoadChecksums(dir string) (map[string]string, error) {
	data, err := os.ReadFile(filepath.Join(dir, ChecksumFileName))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checksums: %w", err)
	}

	hashes := make(map[string]string)
	sc := bufio.NewScanner(bytes.NewReader(data))
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("%s:%d: want \"<hash>  <file>\"", ChecksumFileName, n)
		}
		if _, err := hex.DecodeString(fields[0]); err != nil || len(fields[0]) != 64 {
			return nil, fmt.Errorf("%s:%d: invalid BLAKE3 digest", ChecksumFileName, n)
		}
		hashes[filepath.Base(fields[1])] = strings.ToLower(fields[0])
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to parse checksums: %w", err)
	}
	return hashes, nil
}

// verifyChecksum checks data, the content of dir/name, against the manifest
// in dir. Without a manifest nothing is checked.
func verifyChecksum(dir, name string, data []byte) error {
	hashes, err := LoadChecksums(dir)
	if err != nil {
		return err
	}
	if hashes == nil {
		return nil
	}

	expected, ok := hashes[name]
	if !ok {
		return fmt.Errorf("config file %s has no hash in %s (run 'simdispatch --hash-update')", name, ChecksumFileName)
	}
	if actual := HashBytes(data); actual != expected {
		return fmt.Errorf("hash mismatch for %s: expected %s, got %s\n"+
			"If you edited this file intentionally, run: simdispatch --hash-update", name, expected, actual)
	}
	return nil
}

// WriteChecksums records the digests of files in dir's manifest, replacing
// the manifest. Files are given by name relative to dir.
func WriteChecksums(dir string, files ...string) error {
	sorted := append([]string{}, files...)
	sort.Strings(sorted)

	var buf bytes.Buffer
	for _, name := range sorted {
		hash, err := ComputeBlake3Hash(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("failed to hash %s: %w", name, err)
		}
		fmt.Fprintf(&buf, "%s  %s\n", hash, name)
	}

	// Restrictive permissions: the manifest is what makes edits detectable.
	if err := os.WriteFile(filepath.Join(dir, ChecksumFileName), buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write checksums: %w", err)
	}
	return nil
}
