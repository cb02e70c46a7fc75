package transform

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// MapSuffix is appended to a destination path to name its source map.
const MapSuffix = ".map"

// EnsureDir creates the parent directory of path. It is idempotent.
func EnsureDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}

// atomicWrite writes data next to filename and renames it into place, so
// readers never observe a partially written destination.
func atomicWrite(filename string, data []byte) error {
	if err := EnsureDir(filename); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(filename), "."+filepath.Base(filename)+".*.tmp")
	if err != nil {
		return err
	}
	tempFile := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tempFile)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tempFile)
		return err
	}
	if err := os.Chmod(tempFile, 0o644); err != nil {
		os.Remove(tempFile)
		return err
	}
	return os.Rename(tempFile, filename)
}

// writeStream copies r into filename and returns only after every byte has
// been flushed, synced and the file closed.
func writeStream(filename string, r io.Reader) (int64, error) {
	if err := EnsureDir(filename); err != nil {
		return 0, err
	}
	f, err := os.Create(filename)
	if err != nil {
		return 0, err
	}

	bw := bufio.NewWriterSize(f, 32*1024)
	n, err := io.Copy(bw, r)
	if err == nil {
		err = bw.Flush()
	}
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return n, err
}

// sameFile reports whether dst names the already opened src.
func sameFile(src *os.File, dst string) bool {
	si, err := src.Stat()
	if err != nil {
		return false
	}
	di, err := os.Stat(dst)
	if err != nil {
		return false
	}
	return os.SameFile(si, di)
}

// writeWithMap writes code to dst and, when sourceMap is non-nil, the map to
// dst+".map" followed by a reference comment at the end of dst.
func writeWithMap(dst string, code, sourceMap []byte, comment func(string) string) error {
	if sourceMap != nil {
		mapPath := dst + MapSuffix
		if err := atomicWrite(mapPath, sourceMap); err != nil {
			return err
		}
		code = append(code, comment(filepath.Base(mapPath))...)
	}
	return atomicWrite(dst, code)
}

func cssMapComment(name string) string {
	return fmt.Sprintf("\n\n/*# sourceMappingURL=%s */", name)
}

func jsMapComment(name string) string {
	return fmt.Sprintf("\n//# sourceMappingURL=%s", name)
}
