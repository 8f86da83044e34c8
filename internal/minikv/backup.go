package minikv

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ulikunitz/xz"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const backupChunkPages = 64

var xzMagic = []byte{0xFD, '7', 'z', 'X', 'Z', 0x00}

// Backup streams a consistent copy of the current snapshot to w. The
// copy is a valid data file whose two metas both describe the snapshot.
func (d *Database) Backup(ctx context.Context, w io.Writer) error {
	tx, err := d.BeginRead()
	if err != nil {
		return err
	}
	defer tx.Close()

	meta := tx.meta
	for idx := PageIndex(0); idx < metaPages; idx++ {
		buf, err := meta.marshalAt(idx, nil)
		if err != nil {
			return err
		}
		if _, err := w.Write(buf); err != nil {
			return fmt.Errorf("write meta page %d: %w", idx, err)
		}
	}

	buf := make([]byte, backupChunkPages*PageSize)
	for idx := PageIndex(metaPages); idx < meta.NextPage; {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := min(uint32(backupChunkPages), uint32(meta.NextPage-idx))
		if err := d.pager.CopyPages(buf, idx, n); err != nil {
			return err
		}
		if _, err := w.Write(buf[:n*PageSize]); err != nil {
			return fmt.Errorf("write pages %d+%d: %w", idx, n, err)
		}
		idx += PageIndex(n)
	}

	d.logger.Debug("backup written",
		zap.Uint64("tx_id", uint64(meta.TxID)),
		zap.Uint32("pages", uint32(meta.NextPage)),
	)

	return nil
}

// BackupFile writes a backup to a new file at path, xz compressed when
// compress is set. A partially written file is removed.
func (d *Database) BackupFile(ctx context.Context, path string, compress bool) (err error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return ioError("create "+path, err)
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, os.Remove(path))
		}
	}()

	bw := bufio.NewWriterSize(f, backupChunkPages*PageSize)
	var (
		w  io.Writer = bw
		xw *xz.Writer
	)
	if compress {
		xw, err = xz.NewWriter(bw)
		if err != nil {
			return multierr.Append(err, f.Close())
		}
		w = xw
	}

	err = d.Backup(ctx, w)
	if xw != nil {
		err = multierr.Append(err, xw.Close())
	}
	err = multierr.Append(err, bw.Flush())
	err = multierr.Append(err, f.Sync())
	err = multierr.Append(err, f.Close())

	return err
}

// Restore rebuilds a data file at dst from a plain or xz compressed
// backup. dst must not exist yet.
func Restore(ctx context.Context, src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return ioError("open "+src, err)
	}
	defer in.Close()

	br := bufio.NewReader(in)
	var r io.Reader = br
	if head, _ := br.Peek(len(xzMagic)); bytes.Equal(head, xzMagic) {
		xr, err := xz.NewReader(br)
		if err != nil {
			return fmt.Errorf("open xz stream: %w", err)
		}
		r = xr
	}

	metas := make([]byte, metaPages*PageSize)
	if _, err := io.ReadFull(r, metas); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return corruptedf("backup %s shorter than the meta pages", src)
		}
		return fmt.Errorf("read backup: %w", err)
	}
	meta, err := pickMeta(metas[:PageSize], metas[PageSize:])
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return ioError("create "+filepath.Dir(dst), err)
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: %w", ErrExists, ioError("create "+dst, err))
		}
		return ioError("create "+dst, err)
	}
	defer func() {
		err = multierr.Append(err, out.Close())
		if err != nil {
			err = multierr.Append(err, os.Remove(dst))
		}
	}()

	if _, err := out.Write(metas); err != nil {
		return ioError("write "+dst, err)
	}

	want := (int64(meta.NextPage) - metaPages) * PageSize
	buf := make([]byte, backupChunkPages*PageSize)
	for copied := int64(0); copied < want; {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := io.ReadFull(r, buf[:min(int64(len(buf)), want-copied)])
		if err != nil {
			return corruptedf("backup %s truncated after %d of %d bytes", src, copied, want)
		}
		if _, err := out.Write(buf[:n]); err != nil {
			return ioError("write "+dst, err)
		}
		copied += int64(n)
	}

	return out.Sync()
}
