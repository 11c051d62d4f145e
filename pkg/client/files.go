package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strconv"

	"github.com/cloudvault/cloudvault/internal/protocol"
	"github.com/cloudvault/cloudvault/internal/storage"
)

// FileInfo describes a stored file as reported by the server.
type FileInfo = storage.FileMetadata

// ListFiles returns every file the user owns, across all directories.
func (c *Client) ListFiles(ctx context.Context) ([]*FileInfo, error) {
	if err := c.requireAuth(); err != nil {
		return nil, err
	}
	resp, err := c.roundTrip(ctx, c.request(protocol.CmdFileListRequest))
	if err != nil {
		return nil, err
	}
	var files []*FileInfo
	if err := json.Unmarshal(resp.Payload, &files); err != nil {
		return nil, fmt.Errorf("decoding file list: %w", err)
	}
	return files, nil
}

// DeleteFile removes a file's content and metadata.
func (c *Client) DeleteFile(ctx context.Context, fileID string) error {
	if err := c.requireAuth(); err != nil {
		return err
	}
	_, err := c.roundTrip(ctx, c.request(protocol.CmdFileDeleteRequest).
		WithMeta(protocol.MetaFileID, fileID))
	return err
}

// MoveFile reparents a file to targetDirectoryID ("" = the user's root).
func (c *Client) MoveFile(ctx context.Context, fileID, targetDirectoryID string) error {
	if err := c.requireAuth(); err != nil {
		return err
	}
	payload, err := json.Marshal(protocol.MovePayload{
		FileID:            fileID,
		TargetDirectoryID: targetDirectoryID,
	})
	if err != nil {
		return err
	}
	_, err = c.roundTrip(ctx, c.request(protocol.CmdFileMoveRequest).WithPayload(payload))
	return err
}

// Upload streams size bytes from r into a new file. The server assigns the
// file id. directoryID "" places the file in the user's root.
func (c *Client) Upload(ctx context.Context, name string, size int64, contentType, directoryID string, r io.Reader) (string, error) {
	if err := c.requireAuth(); err != nil {
		return "", err
	}

	initPayload, err := json.Marshal(protocol.UploadInitPayload{
		FileName:    name,
		FileSize:    size,
		ContentType: contentType,
	})
	if err != nil {
		return "", err
	}
	initReq := c.request(protocol.CmdFileUploadInitRequest).WithPayload(initPayload)
	if directoryID != "" {
		initReq.WithMeta(protocol.MetaDirectoryID, directoryID)
	}
	resp, err := c.roundTrip(ctx, initReq)
	if err != nil {
		return "", err
	}
	var init protocol.UploadInitResult
	if err := json.Unmarshal(resp.Payload, &init); err != nil {
		return "", fmt.Errorf("decoding upload init response: %w", err)
	}

	buf := make([]byte, c.opts.ChunkSize)
	var sent int64
	for index := 0; sent < size; index++ {
		want := size - sent
		if want > int64(len(buf)) {
			want = int64(len(buf))
		}
		if _, err := io.ReadFull(r, buf[:want]); err != nil {
			return init.FileID, fmt.Errorf("reading chunk %d: %w", index, err)
		}
		sent += want
		isLast := sent == size

		chunk := c.request(protocol.CmdFileUploadChunkRequest).
			WithMeta(protocol.MetaFileID, init.FileID).
			WithMeta(protocol.MetaChunkIndex, strconv.Itoa(index)).
			WithMeta(protocol.MetaIsLastChunk, strconv.FormatBool(isLast)).
			WithPayload(buf[:want])
		if _, err := c.roundTrip(ctx, chunk); err != nil {
			return init.FileID, fmt.Errorf("uploading chunk %d: %w", index, err)
		}
	}

	_, err = c.roundTrip(ctx, c.request(protocol.CmdFileUploadCompleteRequest).
		WithMeta(protocol.MetaFileID, init.FileID))
	if err != nil {
		return init.FileID, err
	}
	return init.FileID, nil
}

// UploadFile uploads a local file, deriving name, size, and content type
// from the path.
func (c *Client) UploadFile(ctx context.Context, path, directoryID string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stating %s: %w", path, err)
	}
	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return c.Upload(ctx, filepath.Base(path), info.Size(), contentType, directoryID, f)
}

// Download streams the file's content into w and returns its metadata as
// reported by the server.
func (c *Client) Download(ctx context.Context, fileID string, w io.Writer) (*protocol.DownloadInitResult, error) {
	if err := c.requireAuth(); err != nil {
		return nil, err
	}

	resp, err := c.roundTrip(ctx, c.request(protocol.CmdFileDownloadInitRequest).
		WithMeta(protocol.MetaFileID, fileID))
	if err != nil {
		return nil, err
	}
	var init protocol.DownloadInitResult
	if err := json.Unmarshal(resp.Payload, &init); err != nil {
		return nil, fmt.Errorf("decoding download init response: %w", err)
	}

	for index := 0; index < init.TotalChunks; index++ {
		chunk, err := c.roundTrip(ctx, c.request(protocol.CmdFileDownloadChunkRequest).
			WithMeta(protocol.MetaFileID, fileID).
			WithMeta(protocol.MetaChunkIndex, strconv.Itoa(index)))
		if err != nil {
			return &init, fmt.Errorf("downloading chunk %d: %w", index, err)
		}
		if _, err := w.Write(chunk.Payload); err != nil {
			return &init, fmt.Errorf("writing chunk %d: %w", index, err)
		}
	}

	if _, err := c.roundTrip(ctx, c.request(protocol.CmdFileDownloadCompleteRequest).
		WithMeta(protocol.MetaFileID, fileID)); err != nil {
		return &init, err
	}
	return &init, nil
}

// DownloadFile downloads a file to path, writing through a temporary file
// so a failed transfer never leaves a truncated result.
func (c *Client) DownloadFile(ctx context.Context, fileID, path string) (*protocol.DownloadInitResult, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".cloudvault-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	info, err := c.Download(ctx, fileID, tmp)
	if err != nil {
		return info, err
	}
	if err := tmp.Close(); err != nil {
		return info, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return info, fmt.Errorf("moving download into place: %w", err)
	}
	return info, nil
}
