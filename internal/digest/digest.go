// Package digest computes deterministic content digests over files and
// directory trees for lockfile integrity checks.
package digest

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// File returns the lowercase hex sha256 of a single file's content.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Directory returns a digest over an entire directory tree.
//
// The digest depends only on content: all regular files are collected
// recursively, sorted by their slash-normalized path relative to root, and fed
// as (relative path, content) pairs into a single running hash. Every field is
// length-prefixed so the boundary between a filename and its content is
// unambiguous; without the prefix, trees like {"ab": "c"} and {"a": "bc"}
// would collide. Two byte-identical trees produce the same digest regardless
// of filesystem enumeration order or where on disk they live.
func Directory(root string) (string, error) {
	files, err := regularFiles(root)
	if err != nil {
		return "", err
	}

	h := sha256.New()
	var lenBuf [8]byte
	writeLen := func(n uint64) {
		binary.BigEndian.PutUint64(lenBuf[:], n)
		h.Write(lenBuf[:])
	}

	for _, rel := range files {
		writeLen(uint64(len(rel)))
		h.Write([]byte(rel))

		f, err := os.Open(filepath.Join(root, filepath.FromSlash(rel)))
		if err != nil {
			return "", fmt.Errorf("opening %s: %w", rel, err)
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return "", fmt.Errorf("sizing %s: %w", rel, err)
		}
		writeLen(uint64(info.Size()))
		_, err = io.Copy(h, f)
		f.Close()
		if err != nil {
			return "", fmt.Errorf("hashing %s: %w", rel, err)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// DirectoryFiles returns per-file digests keyed by slash-normalized path
// relative to root.
func DirectoryFiles(root string) (map[string]string, error) {
	files, err := regularFiles(root)
	if err != nil {
		return nil, err
	}

	digests := make(map[string]string, len(files))
	for _, rel := range files {
		d, err := File(filepath.Join(root, filepath.FromSlash(rel)))
		if err != nil {
			return nil, err
		}
		digests[rel] = d
	}
	return digests, nil
}

// Bytes returns the lowercase hex sha256 of raw bytes.
func Bytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// regularFiles lists all regular files under root as sorted relative slash
// paths.
func regularFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}
	sort.Strings(files)
	return files, nil
}
