package filetransfer

import (
	"context"

	"github.com/luma/tsq/protocol"
)

// Remote file management. These ride the control connection only; no
// data connection is involved.

func (t *Transfer) execOK(ctx context.Context, q *protocol.Query) (*protocol.Response, error) {
	resp, err := t.conn.Exec(ctx, q)
	if err != nil {
		return nil, err
	}
	return resp, resp.Status.Err()
}

// List returns the transfers currently running on the server.
func (t *Transfer) List(ctx context.Context) ([]protocol.Record, error) {
	resp, err := t.execOK(ctx, protocol.NewQuery("ftlist"))
	if err != nil {
		return nil, err
	}
	return resp.All(), nil
}

// Stop aborts a running transfer by its server-side id, optionally
// deleting the partial file.
func (t *Transfer) Stop(ctx context.Context, serverTransferID int, deletePartial bool) error {
	_, err := t.execOK(ctx, protocol.NewQuery("ftstop").
		Param("serverftfid", serverTransferID).
		Param("delete", deletePartial))
	return err
}

// FileList lists the files under path in the given channel.
func (t *Transfer) FileList(ctx context.Context, channelID int, channelPassword, path string) ([]protocol.Record, error) {
	resp, err := t.execOK(ctx, protocol.NewQuery("ftgetfilelist").
		Param("cid", channelID).
		Param("cpw", channelPassword).
		Param("path", path))
	if err != nil {
		return nil, err
	}
	return resp.All(), nil
}

// FileInfo returns size and modification data for one file.
func (t *Transfer) FileInfo(ctx context.Context, channelID int, channelPassword, name string) (protocol.Record, error) {
	resp, err := t.execOK(ctx, protocol.NewQuery("ftgetfileinfo").
		Param("cid", channelID).
		Param("cpw", channelPassword).
		Param("name", name))
	if err != nil {
		return nil, err
	}
	return resp.First(), nil
}

// DeleteFile removes files from a channel.
func (t *Transfer) DeleteFile(ctx context.Context, channelID int, channelPassword string, names ...string) error {
	values := make([]interface{}, len(names))
	for i, name := range names {
		values[i] = name
	}

	_, err := t.execOK(ctx, protocol.NewQuery("ftdeletefile").
		Param("cid", channelID).
		Param("cpw", channelPassword).
		ParamList("name", values...))
	return err
}

// CreateDir creates a directory inside a channel's file repository.
func (t *Transfer) CreateDir(ctx context.Context, channelID int, channelPassword, dirname string) error {
	_, err := t.execOK(ctx, protocol.NewQuery("ftcreatedir").
		Param("cid", channelID).
		Param("cpw", channelPassword).
		Param("dirname", dirname))
	return err
}

// RenameFile renames or moves a file, optionally across channels.
func (t *Transfer) RenameFile(ctx context.Context, channelID int, channelPassword, oldName, newName string) error {
	_, err := t.execOK(ctx, protocol.NewQuery("ftrenamefile").
		Param("cid", channelID).
		Param("cpw", channelPassword).
		Param("oldname", oldName).
		Param("newname", newName))
	return err
}
