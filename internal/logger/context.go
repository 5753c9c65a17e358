package logger

import "context"

// WithChannelID adds a channel UUID to the context.
func WithChannelID(ctx context.Context, channelID string) context.Context {
	return context.WithValue(ctx, ContextKeyChannelID, channelID)
}

// WithClientID adds a streaming client ID to the context.
func WithClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, ContextKeyClientID, clientID)
}
