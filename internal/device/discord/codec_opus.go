//go:build opus

package discord

import "github.com/hraban/opus"

func newOpusDecoder() (decoder, error) {
	dec, err := opus.NewDecoder(discordRate, 1)
	if err != nil {
		return nil, err
	}
	return dec, nil
}

func newOpusEncoder() (encoder, error) {
	enc, err := opus.NewEncoder(discordRate, discordChannels, opus.AppVoIP)
	if err != nil {
		return nil, err
	}
	return enc, nil
}
