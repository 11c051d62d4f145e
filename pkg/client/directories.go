package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/cloudvault/cloudvault/internal/protocol"
	"github.com/cloudvault/cloudvault/internal/storage"
)

// DirectoryInfo describes a directory as reported by the server.
type DirectoryInfo = storage.DirectoryMetadata

// CreateDirectory creates a directory under parentDirectoryID ("" = the
// user's root) and returns its id.
func (c *Client) CreateDirectory(ctx context.Context, name, parentDirectoryID string) (string, error) {
	if err := c.requireAuth(); err != nil {
		return "", err
	}
	payload, err := json.Marshal(protocol.DirectoryCreatePayload{
		DirectoryName:     name,
		ParentDirectoryID: parentDirectoryID,
	})
	if err != nil {
		return "", err
	}
	resp, err := c.roundTrip(ctx, c.request(protocol.CmdDirectoryCreateRequest).WithPayload(payload))
	if err != nil {
		return "", err
	}
	var result protocol.DirectoryOpResult
	if err := json.Unmarshal(resp.Payload, &result); err != nil {
		return "", fmt.Errorf("decoding directory create response: %w", err)
	}
	return result.DirectoryID, nil
}

// ListDirectories returns the child directories of parentDirectoryID
// ("" = the user's root).
func (c *Client) ListDirectories(ctx context.Context, parentDirectoryID string) ([]*DirectoryInfo, error) {
	if err := c.requireAuth(); err != nil {
		return nil, err
	}
	req := c.request(protocol.CmdDirectoryListRequest)
	if parentDirectoryID != "" {
		req.WithMeta(protocol.MetaParentDirectoryID, parentDirectoryID)
	}
	resp, err := c.roundTrip(ctx, req)
	if err != nil {
		return nil, err
	}
	var dirs []*DirectoryInfo
	if err := json.Unmarshal(resp.Payload, &dirs); err != nil {
		return nil, fmt.Errorf("decoding directory list: %w", err)
	}
	return dirs, nil
}

// DirectoryContents returns the files and subdirectories of directoryID
// ("" = the user's root).
func (c *Client) DirectoryContents(ctx context.Context, directoryID string) (*protocol.DirectoryContentsResult, error) {
	if err := c.requireAuth(); err != nil {
		return nil, err
	}
	req := c.request(protocol.CmdDirectoryContentsRequest)
	if directoryID != "" {
		req.WithMeta(protocol.MetaDirectoryID, directoryID)
	}
	resp, err := c.roundTrip(ctx, req)
	if err != nil {
		return nil, err
	}
	var contents protocol.DirectoryContentsResult
	if err := json.Unmarshal(resp.Payload, &contents); err != nil {
		return nil, fmt.Errorf("decoding directory contents: %w", err)
	}
	return &contents, nil
}

// RenameDirectory renames a directory in place.
func (c *Client) RenameDirectory(ctx context.Context, directoryID, newName string) error {
	if err := c.requireAuth(); err != nil {
		return err
	}
	payload, err := json.Marshal(protocol.DirectoryRenamePayload{
		DirectoryID: directoryID,
		NewName:     newName,
	})
	if err != nil {
		return err
	}
	_, err = c.roundTrip(ctx, c.request(protocol.CmdDirectoryRenameRequest).WithPayload(payload))
	return err
}

// DeleteDirectory deletes a directory. Without recursive the server
// refuses when the directory has any contents.
func (c *Client) DeleteDirectory(ctx context.Context, directoryID string, recursive bool) error {
	if err := c.requireAuth(); err != nil {
		return err
	}
	_, err := c.roundTrip(ctx, c.request(protocol.CmdDirectoryDeleteRequest).
		WithMeta(protocol.MetaDirectoryID, directoryID).
		WithMeta(protocol.MetaRecursive, strconv.FormatBool(recursive)))
	return err
}
