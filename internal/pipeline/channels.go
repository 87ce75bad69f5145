package pipeline

import (
	"github.com/tinywideclouds/go-contact-push-service/notificationservice/config"
	"github.com/tinywideclouds/go-contact-push-service/pkg/dispatch"
)

// SelectChannels returns the channels to try, in fallback order. It is read
// on every dispatch so a config change applies to the next job.
func SelectChannels(cfg *config.PushConfig) []dispatch.Channel {
	if cfg == nil {
		return nil
	}
	var channels []dispatch.Channel
	if cfg.DirectConfigured() {
		channels = append(channels, dispatch.ChannelDirect)
	}
	if cfg.RelayEnabled {
		channels = append(channels, dispatch.ChannelRelay)
	}
	return channels
}
