//go:build !opus

package discord

// Builds without the `opus` tag do not link libopus; opening the device
// reports it as unavailable.

func newOpusDecoder() (decoder, error) { return nil, errCodecUnavailable }
func newOpusEncoder() (encoder, error) { return nil, errCodecUnavailable }
