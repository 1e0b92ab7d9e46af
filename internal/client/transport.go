package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Hello-LuckyHuang/lan-file-transfer-hub/internal/filestore"
	"github.com/Hello-LuckyHuang/lan-file-transfer-hub/internal/models"
	"github.com/Hello-LuckyHuang/lan-file-transfer-hub/internal/transferstate"
)

// ErrNotConnected means the hub session is currently down; status emission
// is best-effort and the caller may simply retry later.
var ErrNotConnected = errors.New("not connected to hub")

// tickInterval throttles progress broadcasts so a fast transfer does not
// flood every connected client.
const tickInterval = 500 * time.Millisecond

// transferOp is one in-flight local upload or download.
type transferOp struct {
	id         string
	fileName   string
	fileSize   int64
	opCtx      context.Context
	cancel     context.CancelFunc
	userCancel atomic.Bool
}

// Upload streams the file at path to the hub and returns the transfer id.
// Progress ticks go to the local merger and over the wire simultaneously.
func (c *Client) Upload(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return "", fmt.Errorf("stat upload: %w", err)
	}

	op := c.startOp(ctx, "upload", filepath.Base(path), stat.Size())
	c.reportStatus(models.TransferStatusRecord{
		TransferID: op.id,
		FileName:   op.fileName,
		FileSize:   op.fileSize,
		Status:     models.StatusUploading,
		Progress:   0,
		SpeedText:  models.UnknownSpeed,
	})

	go c.runUpload(op, f)
	return op.id, nil
}

func (c *Client) runUpload(op *transferOp, f *os.File) {
	defer f.Close()
	defer c.finishOp(op.id)

	ctx := op.opCtx

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreatePart(uploadPartHeader(op.fileName))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		counted := &progressReader{r: f, op: op, client: c, status: models.StatusUploading}
		if _, err := io.Copy(part, counted); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/files/upload", pr)
	if err != nil {
		c.finishWithStatus(op, models.StatusFailed)
		return
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpc.Do(req)
	if err != nil {
		// The request is already aborted by the time the cancelled status
		// goes out; no further ticks can follow it.
		if op.userCancel.Load() || ctx.Err() != nil {
			c.finishCancelled(op)
			return
		}
		logrus.WithError(err).WithField("transfer", op.id).Warn("Upload failed")
		c.finishWithStatus(op, models.StatusFailed)
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		logrus.WithFields(logrus.Fields{
			"transfer": op.id,
			"status":   resp.StatusCode,
		}).Warn("Upload rejected")
		c.finishWithStatus(op, models.StatusFailed)
		return
	}
	c.finishWithStatus(op, models.StatusCompleted)
}

// Download fetches a stored file from the hub into the download directory
// and returns the transfer id.
func (c *Client) Download(ctx context.Context, name string) (string, error) {
	if err := os.MkdirAll(c.downloadDir, 0o755); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}

	op := c.startOp(ctx, "download", filestore.SanitizeFileName(name), 0)
	c.reportStatus(models.TransferStatusRecord{
		TransferID: op.id,
		FileName:   op.fileName,
		Status:     models.StatusDownloading,
		Progress:   0,
		SpeedText:  models.UnknownSpeed,
	})

	go c.runDownload(op, name)
	return op.id, nil
}

func (c *Client) runDownload(op *transferOp, remoteName string) {
	defer c.finishOp(op.id)

	ctx := op.opCtx
	dlURL := c.baseURL + "/api/files/download/" + url.PathEscape(remoteName)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, dlURL, nil)
	if err != nil {
		c.finishWithStatus(op, models.StatusFailed)
		return
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		if op.userCancel.Load() || ctx.Err() != nil {
			c.finishCancelled(op)
			return
		}
		c.finishWithStatus(op, models.StatusFailed)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.finishWithStatus(op, models.StatusFailed)
		return
	}
	op.fileSize = resp.ContentLength

	target := filepath.Join(c.downloadDir, op.fileName)
	out, err := os.Create(target)
	if err != nil {
		c.finishWithStatus(op, models.StatusFailed)
		return
	}

	counted := &progressReader{r: resp.Body, op: op, client: c, status: models.StatusDownloading}
	_, copyErr := io.Copy(out, counted)
	closeErr := out.Close()
	if copyErr != nil || closeErr != nil {
		os.Remove(target)
		if op.userCancel.Load() || ctx.Err() != nil {
			c.finishCancelled(op)
			return
		}
		c.finishWithStatus(op, models.StatusFailed)
		return
	}
	c.finishWithStatus(op, models.StatusCompleted)
}

// Cancel aborts a local in-flight transfer. The transport is torn down
// before the cancelled status is emitted, and the suppression token makes
// sure the hub's echo of that status is not re-applied as foreign state.
func (c *Client) Cancel(transferID string) bool {
	c.mu.Lock()
	op, ok := c.transfers[transferID]
	c.mu.Unlock()
	if !ok {
		return false
	}
	op.userCancel.Store(true)
	c.merger.Suppress(transferID)
	op.cancel()
	return true
}

func (c *Client) startOp(parent context.Context, kind, fileName string, size int64) *transferOp {
	ctx, cancel := context.WithCancel(parent)
	op := &transferOp{
		id:       fmt.Sprintf("%s-%s", kind, uuid.NewString()),
		fileName: fileName,
		fileSize: size,
		opCtx:    ctx,
		cancel:   cancel,
	}
	c.mu.Lock()
	c.transfers[op.id] = op
	c.mu.Unlock()
	return op
}

func (c *Client) finishOp(id string) {
	c.mu.Lock()
	op, ok := c.transfers[id]
	delete(c.transfers, id)
	c.mu.Unlock()
	if ok {
		op.cancel()
	}
}

func (c *Client) finishWithStatus(op *transferOp, status string) {
	progress := 0.0
	if status == models.StatusCompleted {
		progress = 100
	}
	c.reportStatus(models.TransferStatusRecord{
		TransferID: op.id,
		FileName:   op.fileName,
		FileSize:   op.fileSize,
		Status:     status,
		Progress:   progress,
		SpeedText:  models.UnknownSpeed,
	})
}

// finishCancelled handles a user cancel: the activity entry was already
// dropped locally, so only the wire notification and the file-table row
// remain to be written.
func (c *Client) finishCancelled(op *transferOp) {
	c.merger.CancelLocal(op.id, op.fileName, op.fileSize)
	if err := c.sendEnvelope(models.MsgTransferStatusUpdate, models.TransferStatusRecord{
		TransferID: op.id,
		FileName:   op.fileName,
		FileSize:   op.fileSize,
		Status:     models.StatusCancelled,
		Progress:   0,
		SpeedText:  models.UnknownSpeed,
	}); err != nil {
		logrus.WithError(err).WithField("transfer", op.id).Debug("Cancel emit failed")
	}
	c.changed()
}

// uploadPartHeader declares the file part with the MIME type implied by its
// extension. Unknown extensions send no type at all; the hub's policy treats
// a declared-but-unlisted type as a rejection.
func uploadPartHeader(fileName string) textproto.MIMEHeader {
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, fileName))
	if t := mime.TypeByExtension(filepath.Ext(fileName)); t != "" {
		if media, _, err := mime.ParseMediaType(t); err == nil {
			t = media
		}
		hdr.Set("Content-Type", t)
	}
	return hdr
}

// progressReader counts bytes through a transfer and reports throttled
// progress ticks.
type progressReader struct {
	r      io.Reader
	op     *transferOp
	client *Client
	status string

	loaded   int64
	meter    speedMeter
	lastTick time.Time
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 {
		p.loaded += int64(n)
		now := time.Now()
		if now.Sub(p.lastTick) >= tickInterval {
			p.lastTick = now
			p.tick(now)
		}
	}
	return n, err
}

func (p *progressReader) tick(now time.Time) {
	if p.op.userCancel.Load() {
		return
	}
	progress := 0.0
	if p.op.fileSize > 0 {
		progress = transferstate.NormalizeProgress(float64(p.loaded) / float64(p.op.fileSize) * 100)
	}
	p.client.reportStatus(models.TransferStatusRecord{
		TransferID: p.op.id,
		FileName:   p.op.fileName,
		FileSize:   p.op.fileSize,
		Status:     p.status,
		Progress:   progress,
		SpeedText:  FormatSpeed(p.meter.sample(p.loaded, now)),
	})
}
