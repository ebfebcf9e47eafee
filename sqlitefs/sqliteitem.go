package sqlitefs

import (
	"bytes"
	"io"
	"os"
	"path"

	"crawshaw.io/sqlite"
	"github.com/klauspost/compress/flate"
	"github.com/pkg/errors"

	"github.com/forensicanalysis/evidencefs/sqlitefs/spooled"
)

var ErrNotImplemented = errors.New("not implemented")

type item struct {
	fs   *FS
	path string

	// reader item
	info     os.FileInfo
	data     *spooled.TemporaryFile
	children []os.FileInfo

	// writer item
	id     int64
	buf    *bytes.Buffer
	writer *flate.Writer
	size   int64
}

func newWriteItem(fs *FS, id int64, path string) (*item, error) {
	i := &item{fs: fs, id: id, path: path, buf: &bytes.Buffer{}}

	var err error
	i.writer, err = flate.NewWriter(i.buf, flate.DefaultCompression)

	return i, err
}

func newReadItem(fs *FS, conn *sqlite.Conn, id int64, path string, info os.FileInfo, children []os.FileInfo) (*item, error) {
	i := &item{fs: fs, id: id, path: path, info: info, children: children}
	if info.IsDir() {
		return i, nil
	}

	i.data, _ = spooled.New(fs.SpoolSize)
	if info.Size() == 0 {
		return i, nil
	}

	blob, err := conn.OpenBlob("", "sqlar", "data", id, false)
	if err != nil {
		return nil, errors.Wrapf(err, "open blob %s", path)
	}
	defer blob.Close()

	r := flate.NewReader(blob)
	defer r.Close()

	if _, err := io.Copy(i.data, r); err != nil {
		_ = i.data.Close()
		return nil, errors.Wrapf(err, "decompress %s", path)
	}
	return i, nil
}

func (i *item) Name() string {
	return path.Base(i.path)
}

func (i *item) Read(p []byte) (n int, err error) {
	if i.data == nil {
		return 0, ErrNotImplemented
	}
	return i.data.Read(p)
}

func (i *item) ReadAt(p []byte, off int64) (n int, err error) {
	if i.data == nil {
		return 0, ErrNotImplemented
	}
	return i.data.ReadAt(p, off)
}

func (i *item) Seek(offset int64, whence int) (int64, error) {
	if i.data == nil {
		return 0, ErrNotImplemented
	}
	return i.data.Seek(offset, whence)
}

func (i *item) Readdir(count int) ([]os.FileInfo, error) {
	n := len(i.children)
	if count > 0 && count < n {
		n = count
	}
	return i.children[:n], nil
}

func (i *item) Readdirnames(n int) ([]string, error) {
	var names []string
	for c, child := range i.children {
		if c >= n && n > 0 {
			break
		}
		names = append(names, child.Name())
	}
	return names, nil
}

func (i *item) Stat() (os.FileInfo, error) {
	if i.info == nil {
		return i.fs.Stat(i.path)
	}
	return i.info, nil
}

func (i *item) Write(p []byte) (n int, err error) {
	if i.writer == nil {
		return 0, ErrNotImplemented
	}
	i.size += int64(len(p))
	return i.writer.Write(p)
}

func (i *item) WriteAt(p []byte, off int64) (n int, err error) {
	return 0, ErrNotImplemented
}

func (i *item) WriteString(s string) (ret int, err error) {
	return i.Write([]byte(s))
}

func (i *item) Close() error {
	if i.data != nil {
		return i.data.Close()
	}
	if i.writer == nil {
		return nil
	}

	if err := i.writer.Close(); err != nil {
		return err
	}
	i.writer = nil

	conn, put, err := i.fs.conn()
	if err != nil {
		return err
	}
	defer put()

	stmt := conn.Prep(`UPDATE sqlar SET sz = $sz, data = $data WHERE rowid = $id`)
	stmt.SetInt64("$id", i.id)
	stmt.SetZeroBlob("$data", int64(i.buf.Len()))
	stmt.SetInt64("$sz", i.size)
	if err := exec(stmt); err != nil {
		return err
	}

	data, err := conn.OpenBlob("", "sqlar", "data", i.id, true)
	if err != nil {
		return err
	}

	if _, err = io.Copy(data, i.buf); err != nil {
		_ = data.Close()
		return err
	}
	return data.Close()
}

func (i *item) Truncate(size int64) error {
	return ErrNotImplemented
}

func (i *item) Sync() error {
	if i.writer != nil {
		return i.writer.Flush()
	}
	return nil
}
