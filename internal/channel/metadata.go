package channel

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/luminetv/tsproxy/internal/stream"
)

// Metadata is the fixed schema of the metadata:{channel} hash. Every field
// is stored as a string; timestamps are unix milliseconds.
type Metadata struct {
	URL         string
	UserAgent   string
	State       stream.State
	Owner       string
	BufferIndex int64
	CreatedAt   int64
	UpdatedAt   int64
	Transcode   []string
}

func metadataFromMap(fields map[string]string) Metadata {
	md := Metadata{
		URL:         fields["url"],
		UserAgent:   fields["user_agent"],
		State:       stream.State(fields["state"]),
		Owner:       fields["owner"],
		BufferIndex: -1,
	}
	if v, err := strconv.ParseInt(fields["buffer_index"], 10, 64); err == nil {
		md.BufferIndex = v
	}
	if v, err := strconv.ParseInt(fields["created_at"], 10, 64); err == nil {
		md.CreatedAt = v
	}
	if v, err := strconv.ParseInt(fields["updated_at"], 10, 64); err == nil {
		md.UpdatedAt = v
	}
	if raw := fields["transcode_cmd"]; raw != "" && raw != "null" {
		var cmd []string
		if err := json.Unmarshal([]byte(raw), &cmd); err == nil {
			md.Transcode = cmd
		}
	}
	return md
}

func (md Metadata) toMap() map[string]string {
	transcode := "null"
	if len(md.Transcode) > 0 {
		if raw, err := json.Marshal(md.Transcode); err == nil {
			transcode = string(raw)
		}
	}
	return map[string]string{
		"url":           md.URL,
		"user_agent":    md.UserAgent,
		"state":         string(md.State),
		"owner":         md.Owner,
		"buffer_index":  strconv.FormatInt(md.BufferIndex, 10),
		"created_at":    strconv.FormatInt(md.CreatedAt, 10),
		"updated_at":    strconv.FormatInt(md.UpdatedAt, 10),
		"transcode_cmd": transcode,
	}
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
