package coordinator

import "fmt"

// Key layout in the coordination store. Prefixes are stable; other workers
// and operational tooling depend on them.
const (
	metadataPrefix = "metadata:"
	ownerPrefix    = "owner:"
	chunkPrefix    = "chunk:"
	clientsPrefix  = "clients:"
	clientPrefix   = "client:"
	switchPrefix   = "switch_request:"
)

// MetadataKey is the hash holding a channel's url, user_agent, state, owner,
// buffer_index, created_at, updated_at and transcode_cmd.
func MetadataKey(channelID string) string {
	return metadataPrefix + channelID
}

// MetadataScanPrefix matches every channel metadata hash.
func MetadataScanPrefix() string {
	return metadataPrefix + "*"
}

// ChannelFromMetadataKey strips the metadata prefix from a scanned key.
func ChannelFromMetadataKey(key string) string {
	if len(key) <= len(metadataPrefix) {
		return ""
	}
	return key[len(metadataPrefix):]
}

// OwnerKey is the exclusive ownership lock for a channel.
func OwnerKey(channelID string) string {
	return ownerPrefix + channelID
}

// ChunkKey addresses one immutable chunk blob.
func ChunkKey(channelID string, index int64) string {
	return fmt.Sprintf("%s%s:%d", chunkPrefix, channelID, index)
}

// ClientSetKey is the set of client IDs connected to a channel, fleet-wide.
func ClientSetKey(channelID string) string {
	return clientsPrefix + channelID
}

// ClientKey is the per-client hash with a TTL refreshed while the client
// handler runs.
func ClientKey(channelID, clientID string) string {
	return clientPrefix + channelID + ":" + clientID
}

// SwitchRequestKey is the short-lived cross-worker hint that a URL switch
// was requested. Advisory only; the event bus carries the real request.
func SwitchRequestKey(channelID string) string {
	return switchPrefix + channelID
}
