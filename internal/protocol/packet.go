// Package protocol implements the cloudvault wire protocol: the Packet
// model, the command code enumeration, the JSON codec and the
// length-prefixed framing.
package protocol

import (
	"strconv"
	"time"
)

// Wire limits. The last chunk of a packet may be smaller than ChunkSize;
// no serialized packet may exceed MaxPacketSize including framing.
const (
	MaxPacketSize = 25 << 20 // 25 MiB
	ChunkSize     = 1 << 20  // 1 MiB
	frameHeader   = 4        // little-endian uint32 length prefix
)

// Command identifies a request or response kind.
type Command uint16

// Command codes. Values are part of the wire contract and never reorder.
const (
	CmdLoginRequest Command = iota + 1
	CmdLoginResponse
	CmdLogoutRequest
	CmdLogoutResponse
	CmdCreateAccountRequest
	CmdCreateAccountResponse
	CmdFileListRequest
	CmdFileListResponse
	CmdFileUploadInitRequest
	CmdFileUploadInitResponse
	CmdFileUploadChunkRequest
	CmdFileUploadChunkResponse
	CmdFileUploadCompleteRequest
	CmdFileUploadCompleteResponse
	CmdFileDownloadInitRequest
	CmdFileDownloadInitResponse
	CmdFileDownloadChunkRequest
	CmdFileDownloadChunkResponse
	CmdFileDownloadCompleteRequest
	CmdFileDownloadCompleteResponse
	CmdFileDeleteRequest
	CmdFileDeleteResponse
	CmdFileMoveRequest
	CmdFileMoveResponse
	CmdDirectoryCreateRequest
	CmdDirectoryCreateResponse
	CmdDirectoryListRequest
	CmdDirectoryListResponse
	CmdDirectoryContentsRequest
	CmdDirectoryContentsResponse
	CmdDirectoryRenameRequest
	CmdDirectoryRenameResponse
	CmdDirectoryDeleteRequest
	CmdDirectoryDeleteResponse
	CmdError
)

var commandNames = map[Command]string{
	CmdLoginRequest:                 "LOGIN_REQUEST",
	CmdLoginResponse:                "LOGIN_RESPONSE",
	CmdLogoutRequest:                "LOGOUT_REQUEST",
	CmdLogoutResponse:               "LOGOUT_RESPONSE",
	CmdCreateAccountRequest:         "CREATE_ACCOUNT_REQUEST",
	CmdCreateAccountResponse:        "CREATE_ACCOUNT_RESPONSE",
	CmdFileListRequest:              "FILE_LIST_REQUEST",
	CmdFileListResponse:             "FILE_LIST_RESPONSE",
	CmdFileUploadInitRequest:        "FILE_UPLOAD_INIT_REQUEST",
	CmdFileUploadInitResponse:       "FILE_UPLOAD_INIT_RESPONSE",
	CmdFileUploadChunkRequest:       "FILE_UPLOAD_CHUNK_REQUEST",
	CmdFileUploadChunkResponse:      "FILE_UPLOAD_CHUNK_RESPONSE",
	CmdFileUploadCompleteRequest:    "FILE_UPLOAD_COMPLETE_REQUEST",
	CmdFileUploadCompleteResponse:   "FILE_UPLOAD_COMPLETE_RESPONSE",
	CmdFileDownloadInitRequest:      "FILE_DOWNLOAD_INIT_REQUEST",
	CmdFileDownloadInitResponse:     "FILE_DOWNLOAD_INIT_RESPONSE",
	CmdFileDownloadChunkRequest:     "FILE_DOWNLOAD_CHUNK_REQUEST",
	CmdFileDownloadChunkResponse:    "FILE_DOWNLOAD_CHUNK_RESPONSE",
	CmdFileDownloadCompleteRequest:  "FILE_DOWNLOAD_COMPLETE_REQUEST",
	CmdFileDownloadCompleteResponse: "FILE_DOWNLOAD_COMPLETE_RESPONSE",
	CmdFileDeleteRequest:            "FILE_DELETE_REQUEST",
	CmdFileDeleteResponse:           "FILE_DELETE_RESPONSE",
	CmdFileMoveRequest:              "FILE_MOVE_REQUEST",
	CmdFileMoveResponse:             "FILE_MOVE_RESPONSE",
	CmdDirectoryCreateRequest:       "DIRECTORY_CREATE_REQUEST",
	CmdDirectoryCreateResponse:      "DIRECTORY_CREATE_RESPONSE",
	CmdDirectoryListRequest:         "DIRECTORY_LIST_REQUEST",
	CmdDirectoryListResponse:        "DIRECTORY_LIST_RESPONSE",
	CmdDirectoryContentsRequest:     "DIRECTORY_CONTENTS_REQUEST",
	CmdDirectoryContentsResponse:    "DIRECTORY_CONTENTS_RESPONSE",
	CmdDirectoryRenameRequest:       "DIRECTORY_RENAME_REQUEST",
	CmdDirectoryRenameResponse:      "DIRECTORY_RENAME_RESPONSE",
	CmdDirectoryDeleteRequest:       "DIRECTORY_DELETE_REQUEST",
	CmdDirectoryDeleteResponse:      "DIRECTORY_DELETE_RESPONSE",
	CmdError:                        "ERROR",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return "UNKNOWN(" + strconv.Itoa(int(c)) + ")"
}

// Valid reports whether c is a known command code.
func (c Command) Valid() bool {
	_, ok := commandNames[c]
	return ok
}

// Response returns the paired response code for a request command.
// Commands without a pair map to CmdError.
func (c Command) Response() Command {
	switch c {
	case CmdLoginRequest, CmdLogoutRequest, CmdCreateAccountRequest,
		CmdFileListRequest, CmdFileUploadInitRequest, CmdFileUploadChunkRequest,
		CmdFileUploadCompleteRequest, CmdFileDownloadInitRequest,
		CmdFileDownloadChunkRequest, CmdFileDownloadCompleteRequest,
		CmdFileDeleteRequest, CmdFileMoveRequest, CmdDirectoryCreateRequest,
		CmdDirectoryListRequest, CmdDirectoryContentsRequest,
		CmdDirectoryRenameRequest, CmdDirectoryDeleteRequest:
		return c + 1
	}
	return CmdError
}

// Metadata keys carried in Packet.Metadata.
const (
	MetaFileID            = "FileId"
	MetaChunkIndex        = "ChunkIndex"
	MetaIsLastChunk       = "IsLastChunk"
	MetaDirectoryID       = "DirectoryId"
	MetaParentDirectoryID = "ParentDirectoryId"
	MetaRecursive         = "Recursive"
	MetaSuccess           = "Success"
	MetaMessage           = "Message"
	MetaTotalChunks       = "TotalChunks"
)

// RootDirectoryID is the sentinel metadata value naming the user's root.
const RootDirectoryID = "root"

// Packet is the sole wire unit exchanged between client and server.
// Payload is either raw chunk bytes or JSON-encoded structured data.
type Packet struct {
	Command   Command           `json:"commandCode"`
	UserID    string            `json:"userId,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Payload   []byte            `json:"payload,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// New creates a packet for the given command and user.
func New(cmd Command, userID string) *Packet {
	return &Packet{
		Command:   cmd,
		UserID:    userID,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UTC(),
	}
}

// WithMeta sets a metadata key and returns the packet for chaining.
func (p *Packet) WithMeta(key, value string) *Packet {
	if p.Metadata == nil {
		p.Metadata = make(map[string]string)
	}
	p.Metadata[key] = value
	return p
}

// WithPayload sets the payload and returns the packet for chaining.
func (p *Packet) WithPayload(payload []byte) *Packet {
	p.Payload = payload
	return p
}

// Meta returns the metadata value for key, or "".
func (p *Packet) Meta(key string) string {
	return p.Metadata[key]
}

// MetaInt parses the metadata value for key as an integer.
func (p *Packet) MetaInt(key string) (int, bool) {
	v, ok := p.Metadata[key]
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// MetaBool parses the metadata value for key as a boolean. Missing or
// unparsable values report false.
func (p *Packet) MetaBool(key string) bool {
	v, err := strconv.ParseBool(p.Metadata[key])
	return err == nil && v
}

// Success reports whether the packet carries Success=true metadata.
func (p *Packet) Success() bool {
	return p.MetaBool(MetaSuccess)
}

// Message returns the human-readable message metadata, if any.
func (p *Packet) Message() string {
	return p.Meta(MetaMessage)
}

// OK builds a success response paired with the request command.
func OK(req *Packet, message string) *Packet {
	return New(req.Command.Response(), req.UserID).
		WithMeta(MetaSuccess, "true").
		WithMeta(MetaMessage, message)
}

// Fail builds a failure response paired with the request command.
func Fail(req *Packet, message string) *Packet {
	return New(req.Command.Response(), req.UserID).
		WithMeta(MetaSuccess, "false").
		WithMeta(MetaMessage, message)
}

// ErrorPacket builds an ERROR response carrying the given message.
func ErrorPacket(userID, message string) *Packet {
	return New(CmdError, userID).
		WithMeta(MetaSuccess, "false").
		WithMeta(MetaMessage, message)
}
