package protocol

// MediaType enumerates the kind of payload a file transfer carries.
type MediaType uint8

const (
	MediaAudio MediaType = 0
	MediaFile  MediaType = 1
	MediaImage MediaType = 2
	MediaVideo MediaType = 3
)

func (m MediaType) String() string {
	switch m {
	case MediaAudio:
		return "Audio"
	case MediaFile:
		return "File"
	case MediaImage:
		return "Image"
	case MediaVideo:
		return "Video"
	default:
		return "Unknown"
	}
}

// MediaFileMeta announces a file transfer before the stream switches to raw
// bytes (spec.md §4.7, §6). Named MediaFileMeta to avoid colliding with the
// MediaType constant MediaFile; the wire field is still "file".
type MediaFileMeta struct {
	UUID      string    `json:"uuid"`
	LenBytes  int64     `json:"len_bytes"`
	LenChunks int64     `json:"len_chunks"`
	Name      string    `json:"name"`
	MediaType MediaType `json:"media_type"`
	Secret    bool      `json:"secret"`
	Sender    string    `json:"sender"`
	CreatedAt int64     `json:"created_at"`
}

// FileRequest wraps a MediaFileMeta for the File command body.
type FileRequest struct {
	File      MediaFileMeta `json:"file"`
	CreatedAt int64         `json:"created_at"`
}
