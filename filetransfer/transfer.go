// Package filetransfer moves files in and out of the server over its
// companion binary protocol. Every transfer is negotiated on the control
// connection (ftinitupload / ftinitdownload), which hands back an opaque
// transfer key and a port; the bytes themselves then flow over a fresh
// data connection that is authorised by writing the key first and
// carries no framing at all, just the declared number of bytes.
//
// Transfer sessions are independent: each call gets its own transfer id
// and its own data connection, so concurrent uploads and downloads on
// one client never share mutable state.
package filetransfer

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"net"
	"strings"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/tsq/client"
	"github.com/luma/tsq/protocol"
	"github.com/luma/tsq/transport"
)

const copyBlockSize = 4096

var (
	ErrNoAddress  = errors.New("transfer was granted but the response carried no usable address")
	ErrNoSize     = errors.New("download was granted but the response carried no size")
	ErrNeedSeeker = errors.New("the server requested a resume offset but the source cannot seek")
)

// Direction of a transfer, from the client's point of view.
type Direction string

const (
	Upload   Direction = "upload"
	Download Direction = "download"
)

// IntegrityError reports a transfer that ended before the declared size
// was reached. It is a data-integrity failure, distinct from transport
// errors: the connection did its job, the bytes just are not all there.
type IntegrityError struct {
	Direction   Direction
	Transferred int64
	Expected    int64
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s is incomplete: %d of %d bytes transferred",
		e.Direction, e.Transferred, e.Expected)
}

// Result describes a finished transfer. Checksum is the CRC-32 (IEEE)
// of the bytes that crossed the data connection, computed locally;
// compare it against whatever the server or the file's origin reports.
type Result struct {
	Size     int64
	Checksum uint32
}

// Progress is called after every copied block with the running byte
// count and the declared total.
type Progress func(transferred, total int64)

// UploadRequest describes one upload.
type UploadRequest struct {
	// Name is the target path inside the channel, e.g. "/backup.tar".
	Name string

	// ChannelID of the channel holding the file, with its password if
	// the channel has one.
	ChannelID       int
	ChannelPassword string

	// Size is the exact number of bytes Source will deliver.
	Size int64

	// Overwrite replaces an existing file; Resume continues a partial
	// upload instead. When resuming, Source must implement io.Seeker so
	// it can be positioned at the offset the server asks for.
	Overwrite bool
	Resume    bool

	Source   io.Reader
	Progress Progress
}

// DownloadRequest describes one download.
type DownloadRequest struct {
	Name            string
	ChannelID       int
	ChannelPassword string

	// Seek is the byte offset to resume the download from.
	Seek int64

	Sink     io.Writer
	Progress Progress
}

// Transfer negotiates and runs file transfers on behalf of one control
// connection.
type Transfer struct {
	conn *client.Conn
	log  *zap.Logger
	dial transport.DialFunc

	// nextID hands out the clientftfid values. The server only needs
	// them unique per connection; monotonically increasing is the
	// cheapest way to get that.
	nextID uint32
}

// Option configures a Transfer.
type Option func(*Transfer)

// WithDialFunc swaps out the transport used for data connections, which
// is independent of the control connection's transport.
func WithDialFunc(dial transport.DialFunc) Option {
	return func(t *Transfer) {
		t.dial = dial
	}
}

func New(conn *client.Conn, log *zap.Logger, options ...Option) *Transfer {
	t := &Transfer{
		conn: conn,
		log:  log,
		dial: transport.Dial,
	}

	for _, option := range options {
		option(t)
	}

	return t
}

// Upload streams req.Source to the server. The returned Result carries
// the byte count and local checksum even though the error path reports
// incompleteness itself, so callers can log both.
func (t *Transfer) Upload(ctx context.Context, req UploadRequest) (*Result, error) {
	ftid := t.transferID()

	resp, err := t.conn.Exec(ctx, protocol.NewQuery("ftinitupload").
		Param("clientftfid", ftid).
		Param("name", req.Name).
		Param("cid", req.ChannelID).
		Param("cpw", req.ChannelPassword).
		Param("size", req.Size).
		Param("overwrite", req.Overwrite).
		Param("resume", req.Resume))
	if err != nil {
		return nil, err
	}
	// A control-channel rejection means no data connection is ever
	// attempted.
	if err := resp.Status.Err(); err != nil {
		return nil, err
	}

	grant := resp.First()
	addr, key, err := t.grantTarget(grant)
	if err != nil {
		return nil, err
	}

	seekpos, _ := grant.Int64("seekpos")
	if seekpos > 0 {
		seeker, ok := req.Source.(io.Seeker)
		if !ok {
			return nil, ErrNeedSeeker
		}
		if _, err := seeker.Seek(seekpos, io.SeekStart); err != nil {
			return nil, fmt.Errorf("failed to seek to resume offset %d: %w", seekpos, err)
		}
	}

	t.log.Debug("Upload granted",
		zap.Uint32("clientftfid", ftid),
		zap.String("addr", addr),
		zap.Int64("seekpos", seekpos),
		zap.Int64("size", req.Size))

	data, err := t.dial(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to open the data connection: %w", err)
	}

	result, copyErr := t.push(data, key, req, seekpos)
	closeErr := data.Close()

	if err := multierr.Combine(copyErr, closeErr); err != nil {
		return result, err
	}

	if result.Size < req.Size {
		return result, &IntegrityError{
			Direction:   Upload,
			Transferred: result.Size,
			Expected:    req.Size,
		}
	}
	return result, nil
}

func (t *Transfer) push(data net.Conn, key string, req UploadRequest, seekpos int64) (*Result, error) {
	if _, err := data.Write([]byte(key)); err != nil {
		return &Result{Size: seekpos}, fmt.Errorf("failed to send the transfer key: %w", err)
	}

	sum := crc32.NewIEEE()
	sent := seekpos
	buf := make([]byte, copyBlockSize)

	for {
		n, rerr := req.Source.Read(buf)
		if n > 0 {
			sum.Write(buf[:n])
			if _, werr := data.Write(buf[:n]); werr != nil {
				return &Result{Size: sent, Checksum: sum.Sum32()},
					fmt.Errorf("upload failed after %d bytes: %w", sent, werr)
			}
			sent += int64(n)
			if req.Progress != nil {
				req.Progress(sent, req.Size)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return &Result{Size: sent, Checksum: sum.Sum32()},
				fmt.Errorf("failed to read the upload source: %w", rerr)
		}
	}

	return &Result{Size: sent, Checksum: sum.Sum32()}, nil
}

// Download streams the remote file into req.Sink until the server
// closes the data connection, then verifies the byte count against the
// size the server declared in the grant.
func (t *Transfer) Download(ctx context.Context, req DownloadRequest) (*Result, error) {
	ftid := t.transferID()

	resp, err := t.conn.Exec(ctx, protocol.NewQuery("ftinitdownload").
		Param("clientftfid", ftid).
		Param("name", req.Name).
		Param("cid", req.ChannelID).
		Param("cpw", req.ChannelPassword).
		Param("seekpos", req.Seek))
	if err != nil {
		return nil, err
	}
	if err := resp.Status.Err(); err != nil {
		return nil, err
	}

	grant := resp.First()
	addr, key, err := t.grantTarget(grant)
	if err != nil {
		return nil, err
	}

	// The declared size is what the end-of-stream byte count is verified
	// against; without it the integrity check would be a no-op.
	total, err := grant.Int64("size")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoSize, err)
	}

	t.log.Debug("Download granted",
		zap.Uint32("clientftfid", ftid),
		zap.String("addr", addr),
		zap.Int64("size", total))

	data, err := t.dial(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to open the data connection: %w", err)
	}

	result, copyErr := t.pull(data, key, req, total)
	closeErr := data.Close()

	if err := multierr.Combine(copyErr, closeErr); err != nil {
		return result, err
	}

	if result.Size < total {
		return result, &IntegrityError{
			Direction:   Download,
			Transferred: result.Size,
			Expected:    total,
		}
	}
	return result, nil
}

func (t *Transfer) pull(data net.Conn, key string, req DownloadRequest, total int64) (*Result, error) {
	if _, err := data.Write([]byte(key)); err != nil {
		return &Result{Size: req.Seek}, fmt.Errorf("failed to send the transfer key: %w", err)
	}

	sum := crc32.NewIEEE()
	read := req.Seek
	buf := make([]byte, copyBlockSize)

	for {
		n, err := data.Read(buf)
		if n > 0 {
			read += int64(n)
			sum.Write(buf[:n])
			if _, werr := req.Sink.Write(buf[:n]); werr != nil {
				return &Result{Size: read, Checksum: sum.Sum32()},
					fmt.Errorf("failed to write downloaded bytes: %w", werr)
			}
			if req.Progress != nil {
				req.Progress(read, total)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return &Result{Size: read, Checksum: sum.Sum32()},
				fmt.Errorf("download failed after %d bytes: %w", read, err)
		}
	}

	return &Result{Size: read, Checksum: sum.Sum32()}, nil
}

// grantTarget extracts the data-connection address and transfer key
// from an init response record. The ip field is a comma separated list;
// 0.0.0.0 (or a missing field) means "same host as the control
// connection".
func (t *Transfer) grantTarget(grant protocol.Record) (addr, key string, err error) {
	if grant == nil {
		return "", "", ErrNoAddress
	}

	host := ""
	if ip, ok := grant.Lookup("ip"); ok {
		host = strings.SplitN(ip, ",", 2)[0]
	}
	if host == "" || host == "0.0.0.0" {
		host = t.conn.RemoteHost()
	}
	if host == "" {
		return "", "", ErrNoAddress
	}

	port, err := grant.Int("port")
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrNoAddress, err)
	}

	key, ok := grant.Lookup("ftkey")
	if !ok {
		return "", "", fmt.Errorf("%w: no transfer key", ErrNoAddress)
	}

	return net.JoinHostPort(host, fmt.Sprint(port)), key, nil
}

func (t *Transfer) transferID() uint32 {
	return atomic.AddUint32(&t.nextID, 1)
}
