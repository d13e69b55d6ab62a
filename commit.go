// Copyright 2026 Conductor OSS
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with
// the License. You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
// an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
// specific language governing permissions and limitations under the License.

package transmute

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// ObjectStore receives outputs addressed as s3://bucket/key. A Put must be
// all or nothing: the object is either fully written or not visible.
type ObjectStore interface {
	Put(ctx context.Context, bucket, key string, body io.ReadSeeker, size int64, contentType string) error
}

const objectScheme = "s3://"

// IsObjectURL reports whether dest addresses the object store.
func IsObjectURL(dest string) bool {
	return strings.HasPrefix(dest, objectScheme)
}

// ParseObjectURL splits s3://bucket/key.
func ParseObjectURL(dest string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(dest, objectScheme)
	if !ok {
		return "", "", fmt.Errorf("not an object url: %q", dest)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" || strings.HasSuffix(key, "/") {
		return "", "", fmt.Errorf("object url %q needs a bucket and a key", dest)
	}
	return bucket, key, nil
}

// tempName is unique per request so concurrent conversions to the same
// destination never share a temp file.
func tempName(requestID, dest string) string {
	base := filepath.Base(dest)
	if IsObjectURL(dest) {
		_, key, _ := strings.Cut(strings.TrimPrefix(dest, objectScheme), "/")
		base = filepath.Base(key)
	}
	return fmt.Sprintf(".transmute-%s-%s.tmp", requestID, base)
}

func createTemp(dir, name string) (*os.File, error) {
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	return f, nil
}

// commitLocal moves the finished temp file onto dest. When the temp lives
// on another filesystem it is first copied next to dest and renamed from
// there, so dest only ever sees a complete file.
func commitLocal(tmpPath, dest string) error {
	err := os.Rename(tmpPath, dest)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return fmt.Errorf("rename into place: %w", err)
	}

	sibling := filepath.Join(filepath.Dir(dest), filepath.Base(tmpPath)+".part")
	if err := copyFile(tmpPath, sibling); err != nil {
		os.Remove(sibling)
		return err
	}
	if err := os.Rename(sibling, dest); err != nil {
		os.Remove(sibling)
		return fmt.Errorf("rename into place: %w", err)
	}
	os.Remove(tmpPath)
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open temp file: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create staging file: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy to staging file: %w", err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return fmt.Errorf("sync staging file: %w", err)
	}
	return out.Close()
}

// commitObject uploads the finished temp file with a single PUT.
func commitObject(ctx context.Context, store ObjectStore, tmpPath, dest string, format Format) error {
	if store == nil {
		return fmt.Errorf("no object store configured for %s", dest)
	}
	bucket, key, err := ParseObjectURL(dest)
	if err != nil {
		return err
	}
	f, err := os.Open(tmpPath)
	if err != nil {
		return fmt.Errorf("open temp file: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat temp file: %w", err)
	}
	if err := store.Put(ctx, bucket, key, f, info.Size(), ContentType(format)); err != nil {
		return fmt.Errorf("upload %s: %w", dest, err)
	}
	return nil
}

// ContentType returns the MIME type for f, or application/octet-stream.
func ContentType(f Format) string {
	for _, s := range sniffedFormats {
		if s.format == f {
			return s.mime
		}
	}
	switch f {
	case FormatMD:
		return "text/markdown"
	case FormatYAML:
		return "application/yaml"
	case FormatIPYNB:
		return "application/x-ipynb+json"
	}
	return "application/octet-stream"
}

// cancelWriter refuses writes once ctx is done. Every chunk a plugin
// writes is a cancellation point.
type cancelWriter struct {
	ctx context.Context
	w   io.Writer
	n   int64
}

func (c *cancelWriter) Write(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, cancelled("write", err)
	}
	n, err := c.w.Write(p)
	c.n += int64(n)
	if err != nil {
		return n, ioFailure("write", err)
	}
	return n, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// countingReadSeeker tracks the furthest offset read, which stays
// meaningful when plugins seek back and re-read.
type countingReadSeeker struct {
	rs   io.ReadSeeker
	pos  int64
	high int64
}

func (c *countingReadSeeker) Read(p []byte) (int, error) {
	n, err := c.rs.Read(p)
	c.pos += int64(n)
	if c.pos > c.high {
		c.high = c.pos
	}
	return n, err
}

func (c *countingReadSeeker) Seek(offset int64, whence int) (int64, error) {
	pos, err := c.rs.Seek(offset, whence)
	if err == nil {
		c.pos = pos
	}
	return pos, err
}

// ReadAt lets plugins that need random access (xlsx, pdf) avoid buffering
// when the underlying input supports it.
func (c *countingReadSeeker) ReadAt(p []byte, off int64) (int, error) {
	ra, ok := c.rs.(io.ReaderAt)
	if !ok {
		return 0, errors.New("input does not support ReadAt")
	}
	n, err := ra.ReadAt(p, off)
	if end := off + int64(n); end > c.high {
		c.high = end
	}
	return n, err
}
