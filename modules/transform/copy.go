package transform

import (
	"context"
	"os"
)

// CopyOptions is empty; copies take no options.
type CopyOptions struct{}

// Copy writes the source bytes to the destination unchanged.
type Copy struct{}

func NewCopy(CopyOptions) *Copy { return &Copy{} }

func (c *Copy) Kind() Kind { return KindCopy }

func (c *Copy) Run(_ context.Context, srcs []string, dst string) error {
	src, err := single(KindCopy, srcs, dst)
	if err != nil {
		return err
	}

	f, err := os.Open(src)
	if err != nil {
		return ioErr(KindCopy, src, dst, err)
	}
	defer f.Close()

	// Copying a file onto itself would truncate it before reading.
	if sameFile(f, dst) {
		return nil
	}

	if _, err := writeStream(dst, f); err != nil {
		return ioErr(KindCopy, src, dst, err)
	}
	return nil
}
