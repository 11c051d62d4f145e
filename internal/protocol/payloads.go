package protocol

import "github.com/cloudvault/cloudvault/internal/storage"

// JSON payload shapes carried in Packet.Payload. Binary chunk data is the
// only non-JSON payload on the wire.

// LoginPayload is the LOGIN_REQUEST payload.
type LoginPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// CreateAccountPayload is the CREATE_ACCOUNT_REQUEST payload.
type CreateAccountPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email,omitempty"`
}

// AccountResult is the LOGIN_RESPONSE / CREATE_ACCOUNT_RESPONSE payload.
type AccountResult struct {
	Success bool   `json:"success"`
	UserID  string `json:"userId,omitempty"`
	Message string `json:"message,omitempty"`
}

// UploadInitPayload is the FILE_UPLOAD_INIT_REQUEST payload. The target
// directory travels in metadata (DirectoryId).
type UploadInitPayload struct {
	FileName    string `json:"fileName"`
	FileSize    int64  `json:"fileSize"`
	ContentType string `json:"contentType"`
}

// UploadInitResult is the FILE_UPLOAD_INIT_RESPONSE payload.
type UploadInitResult struct {
	Success     bool   `json:"success"`
	FileID      string `json:"fileId,omitempty"`
	TotalChunks int    `json:"totalChunks"`
	Message     string `json:"message,omitempty"`
}

// DownloadInitResult is the FILE_DOWNLOAD_INIT_RESPONSE payload.
type DownloadInitResult struct {
	Success     bool   `json:"success"`
	FileID      string `json:"fileId,omitempty"`
	FileName    string `json:"fileName,omitempty"`
	FileSize    int64  `json:"fileSize"`
	ContentType string `json:"contentType,omitempty"`
	TotalChunks int    `json:"totalChunks"`
	Message     string `json:"message,omitempty"`
}

// FileOpResult is the payload of FILE_DELETE_RESPONSE and
// FILE_MOVE_RESPONSE.
type FileOpResult struct {
	Success bool   `json:"success"`
	FileID  string `json:"fileId,omitempty"`
	Message string `json:"message,omitempty"`
}

// MovePayload is the FILE_MOVE_REQUEST payload. An empty
// TargetDirectoryID moves the file to the user's root.
type MovePayload struct {
	FileID            string `json:"fileId"`
	TargetDirectoryID string `json:"targetDirectoryId,omitempty"`
}

// DirectoryCreatePayload is the DIRECTORY_CREATE_REQUEST payload.
type DirectoryCreatePayload struct {
	DirectoryName     string `json:"directoryName"`
	ParentDirectoryID string `json:"parentDirectoryId,omitempty"`
}

// DirectoryRenamePayload is the DIRECTORY_RENAME_REQUEST payload.
type DirectoryRenamePayload struct {
	DirectoryID string `json:"directoryId"`
	NewName     string `json:"newName"`
}

// DirectoryOpResult is the payload of DIRECTORY_CREATE_RESPONSE,
// DIRECTORY_RENAME_RESPONSE and DIRECTORY_DELETE_RESPONSE.
type DirectoryOpResult struct {
	Success       bool   `json:"success"`
	DirectoryID   string `json:"directoryId,omitempty"`
	DirectoryName string `json:"directoryName,omitempty"`
	Message       string `json:"message,omitempty"`
}

// DirectoryContentsResult is the DIRECTORY_CONTENTS_RESPONSE payload.
type DirectoryContentsResult struct {
	Files       []*storage.FileMetadata      `json:"files"`
	Directories []*storage.DirectoryMetadata `json:"directories"`
	DirectoryID string                       `json:"directoryId"`
}
