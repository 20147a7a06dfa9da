// Package discord turns a joined Discord voice connection into a microphone
// and speaker for the voice engine. Incoming Opus packets are decoded per
// SSRC and resampled to the engine's input rate; the engine's output
// timeline is encoded back to 48 kHz stereo Opus in 20 ms frames.
package discord

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/live-voice-lab/internal/audio"
	"github.com/live-voice-lab/internal/logging"
)

const (
	discordRate     = 48000
	discordChannels = 2
	frameDuration   = 20 * time.Millisecond
	// maxOpusFrame is 120 ms of mono audio at 48 kHz, the largest Opus frame.
	maxOpusFrame = 5760
)

type decoder interface {
	Decode(data []byte, pcm []int16) (int, error)
}

type encoder interface {
	Encode(pcm []int16, data []byte) (int, error)
}

// Device adapts one voice connection.
type Device struct {
	recv     <-chan *discordgo.Packet
	send     chan<- []byte
	speaking func(bool) error
	resolver NameResolver

	newDecoder func() (decoder, error)
	newEncoder func() (encoder, error)

	mu       sync.Mutex
	ssrcUser map[uint32]string
	allow    map[string]struct{}
	lastUser string
}

// New wraps vc. resolver may be nil.
func New(vc *discordgo.VoiceConnection, resolver NameResolver) *Device {
	return newDevice(vc.OpusRecv, vc.OpusSend, vc.Speaking, resolver)
}

func newDevice(recv <-chan *discordgo.Packet, send chan<- []byte, speaking func(bool) error, resolver NameResolver) *Device {
	if resolver == nil {
		resolver = NoopResolver{}
	}
	return &Device{
		recv:       recv,
		send:       send,
		speaking:   speaking,
		resolver:   resolver,
		newDecoder: newOpusDecoder,
		newEncoder: newOpusEncoder,
		ssrcUser:   make(map[uint32]string),
		allow:      make(map[string]struct{}),
	}
}

// SetAllowedUsers restricts capture to the given user IDs. An empty list
// accepts everyone.
func (d *Device) SetAllowedUsers(ids []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.allow = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		d.allow[id] = struct{}{}
	}
	logging.Infow("discord device: allowed users set", "count", len(d.allow))
}

// HandleSpeakingUpdate maps SSRCs to users. Register it on the voice
// connection with vc.AddHandler.
func (d *Device) HandleSpeakingUpdate(vc *discordgo.VoiceConnection, su *discordgo.VoiceSpeakingUpdate) {
	d.mu.Lock()
	d.ssrcUser[uint32(su.SSRC)] = su.UserID
	d.mu.Unlock()
	logging.Debugw("discord device: mapped SSRC to user",
		append(logging.UserFields(su.UserID, d.resolver.UserName(su.UserID)), "ssrc", su.SSRC)...)
}

// LastSpeaker returns the ID and display name of the user whose audio was
// captured most recently.
func (d *Device) LastSpeaker() (string, string) {
	d.mu.Lock()
	uid := d.lastUser
	d.mu.Unlock()
	if uid == "" {
		return "", ""
	}
	name := d.resolver.UserName(uid)
	if name == "" {
		name = uid
	}
	return uid, name
}

// accept reports whether a packet from ssrc may be captured and remembers
// the speaker. Unmapped SSRCs pass; they are usually mapped by the time
// speech starts.
func (d *Device) accept(ssrc uint32) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	uid := d.ssrcUser[ssrc]
	if len(d.allow) > 0 && uid != "" {
		if _, ok := d.allow[uid]; !ok {
			return false
		}
	}
	if uid != "" {
		d.lastUser = uid
	}
	return true
}

// Microphone returns the capture side of the device.
func (d *Device) Microphone() audio.Microphone { return microphone{d} }

// Speaker returns the playback side of the device.
func (d *Device) Speaker() audio.Speaker { return speaker{d} }

type microphone struct{ d *Device }

func (m microphone) Open(ctx context.Context, sampleRate, frameSize int, onFrame func([]float32)) (audio.Capture, error) {
	if sampleRate <= 0 || discordRate%sampleRate != 0 {
		return nil, fmt.Errorf("%w: unsupported capture rate %d", audio.ErrDeviceUnavailable, sampleRate)
	}
	if _, err := m.d.newDecoder(); err != nil {
		return nil, fmt.Errorf("%w: %v", audio.ErrDeviceUnavailable, err)
	}
	c := &capture{stop: make(chan struct{}), done: make(chan struct{})}
	go c.loop(ctx, m.d, discordRate/sampleRate, frameSize, onFrame)
	return c, nil
}

type capture struct {
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func (c *capture) loop(ctx context.Context, d *Device, factor, frameSize int, onFrame func([]float32)) {
	defer close(c.done)
	decoders := make(map[uint32]decoder)
	pcm := make([]int16, maxOpusFrame)
	buf := make([]float32, 0, frameSize*2)
	var decodeErrs int
	for {
		var pkt *discordgo.Packet
		var ok bool
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case pkt, ok = <-d.recv:
			if !ok {
				return
			}
		}
		if pkt == nil || len(pkt.Opus) == 0 || !d.accept(pkt.SSRC) {
			continue
		}
		dec, found := decoders[pkt.SSRC]
		if !found {
			var err error
			if dec, err = d.newDecoder(); err != nil {
				logging.Errorw("discord device: decoder init failed", "ssrc", pkt.SSRC, "error", err)
				continue
			}
			decoders[pkt.SSRC] = dec
		}
		n, err := dec.Decode(pkt.Opus, pcm)
		if err != nil {
			decodeErrs++
			if decodeErrs%50 == 1 {
				logging.Warnw("discord device: opus decode error", "ssrc", pkt.SSRC, "error", err, "count", decodeErrs)
			}
			continue
		}
		buf = append(buf, audio.DownmixDecimate(pcm[:n], 1, factor)...)
		for len(buf) >= frameSize {
			frame := make([]float32, frameSize)
			copy(frame, buf[:frameSize])
			buf = append(buf[:0], buf[frameSize:]...)
			onFrame(frame)
		}
	}
}

func (c *capture) Close() error {
	c.once.Do(func() {
		close(c.stop)
		<-c.done
	})
	return nil
}

type speaker struct{ d *Device }

func (s speaker) Open(sampleRate int) (audio.Output, error) {
	if sampleRate <= 0 || discordRate%sampleRate != 0 {
		return nil, fmt.Errorf("%w: unsupported playback rate %d", audio.ErrDeviceUnavailable, sampleRate)
	}
	enc, err := s.d.newEncoder()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", audio.ErrDeviceUnavailable, err)
	}
	o := &output{
		Timeline: audio.NewTimeline(sampleRate),
		d:        s.d,
		enc:      enc,
		factor:   discordRate / sampleRate,
		frame:    int(audio.Samples(frameDuration, sampleRate)),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go o.loop()
	return o, nil
}

// output pulls 20 ms frames off the timeline while anything is scheduled.
// discordgo paces OpusSend, so the blocking send keeps the clock honest.
type output struct {
	*audio.Timeline
	d      *Device
	enc    encoder
	factor int
	frame  int

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func (o *output) loop() {
	defer close(o.done)
	mono := make([]int16, o.frame)
	packet := make([]byte, 4000)
	talking := false
	setSpeaking := func(v bool) {
		if talking == v || o.d.speaking == nil {
			talking = v
			return
		}
		talking = v
		if err := o.d.speaking(v); err != nil {
			logging.Debugw("discord device: speaking update failed", "error", err)
		}
	}
	defer setSpeaking(false)

	idle := time.NewTicker(frameDuration)
	defer idle.Stop()
	for {
		select {
		case <-o.stop:
			return
		default:
		}
		if o.Pending() == 0 {
			setSpeaking(false)
			select {
			case <-o.stop:
				return
			case <-idle.C:
			}
			continue
		}
		setSpeaking(true)
		o.Render(mono)
		stereo := audio.UpsampleStereo(mono, discordChannels, o.factor)
		n, err := o.enc.Encode(stereo, packet)
		if err != nil {
			logging.Warnw("discord device: opus encode error", "error", err)
			continue
		}
		out := make([]byte, n)
		copy(out, packet[:n])
		select {
		case o.d.send <- out:
		case <-o.stop:
			return
		}
	}
}

func (o *output) Close() error {
	o.once.Do(func() {
		_ = o.Timeline.Close()
		close(o.stop)
		<-o.done
	})
	return nil
}

var errCodecUnavailable = errors.New("built without opus support")
