// Package discord provides an [audio.Source] implementation backed by a
// Discord voice channel via the bwmarrin/discordgo library.
//
// The source joins the configured voice channel muted and deafened-off, and
// decodes every incoming Opus packet — regardless of which participant sent
// it — into one combined PCM frame stream. Earshot's diarization stage is
// responsible for telling the speakers in that combined stream apart, so no
// per-participant demuxing is needed here.
//
// Frames are emitted in Discord's native 48 kHz stereo format with
// synthesized contiguous timestamps; wrap the source with [audio.Converted]
// to reach the pipeline's working format.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/earshot-audio/earshot/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Source = (*Source)(nil)

const frameChannelBuffer = 64

// Config identifies the Discord voice channel to monitor.
type Config struct {
	// Token is the bot token. Required.
	Token string

	// GuildID is the server containing the voice channel. Required.
	GuildID string

	// ChannelID is the voice channel to join. Required.
	ChannelID string
}

// Source captures the combined audio of a Discord voice channel.
type Source struct {
	session *discordgo.Session
	vc      *discordgo.VoiceConnection

	frames chan audio.Frame
	gaps   chan audio.Gap

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

// Connect opens a Discord session, joins the configured voice channel, and
// starts decoding incoming audio. ctx governs the connection-setup phase
// only; once returned, the Source lives until Close.
func Connect(ctx context.Context, cfg Config) (*Source, error) {
	if cfg.Token == "" || cfg.GuildID == "" || cfg.ChannelID == "" {
		return nil, fmt.Errorf("discord: token, guild_id and channel_id are all required")
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("discord: %w", err)
	}

	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildVoiceStates

	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("discord: open gateway: %w", err)
	}

	// mute=true (we never send audio), deaf=false (we receive audio).
	vc, err := session.ChannelVoiceJoin(cfg.GuildID, cfg.ChannelID, true, false)
	if err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("discord: join voice channel %q: %w", cfg.ChannelID, err)
	}

	s := &Source{
		session: session,
		vc:      vc,
		frames:  make(chan audio.Frame, frameChannelBuffer),
		gaps:    make(chan audio.Gap, 4),
		done:    make(chan struct{}),
	}

	go s.recvLoop()

	slog.Info("discord: voice capture started",
		"guild_id", cfg.GuildID,
		"channel_id", cfg.ChannelID,
	)
	return s, nil
}

// Frames implements audio.Source. Emitted frames are 48 kHz stereo.
func (s *Source) Frames() <-chan audio.Frame { return s.frames }

// Gaps implements audio.Source. A gap is reported whenever the internal
// frame buffer overflows and a decoded packet had to be discarded.
func (s *Source) Gaps() <-chan audio.Gap { return s.gaps }

// Close leaves the voice channel and closes the Discord session. Safe to
// call more than once.
func (s *Source) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		if err := s.vc.Disconnect(); err != nil {
			s.closeErr = fmt.Errorf("discord: disconnect voice: %w", err)
		}
		if err := s.session.Close(); err != nil && s.closeErr == nil {
			s.closeErr = fmt.Errorf("discord: close session: %w", err)
		}
	})
	return s.closeErr
}

// recvLoop reads Opus packets from the voice connection, decodes them per
// SSRC, and delivers the combined PCM stream. It owns the frames channel and
// closes it on exit.
//
// Frames are stamped with synthesized contiguous stream positions rather
// than arrival times: packets from concurrent speakers interleave and
// network jitter reorders arrivals, so wall-clock stamps would violate the
// consumer's non-decreasing timestamp contract.
func (s *Source) recvLoop() {
	defer close(s.frames)

	// Each SSRC gets its own decoder to maintain state across packets.
	decoders := make(map[uint32]*opusDecoder)

	var elapsed time.Duration

	for {
		select {
		case <-s.done:
			return
		case pkt, ok := <-s.vc.OpusRecv:
			if !ok {
				return
			}
			if pkt == nil {
				continue
			}

			dec, exists := decoders[pkt.SSRC]
			if !exists {
				var err error
				dec, err = newOpusDecoder()
				if err != nil {
					slog.Error("discord: failed to create opus decoder", "ssrc", pkt.SSRC, "err", err)
					continue
				}
				decoders[pkt.SSRC] = dec
			}

			pcm, err := dec.decode(pkt.Opus)
			if err != nil {
				slog.Warn("discord: opus decode error", "ssrc", pkt.SSRC, "err", err)
				continue
			}

			frame := audio.Frame{
				Data:       pcm,
				SampleRate: opusSampleRate,
				Channels:   opusChannels,
				Timestamp:  elapsed,
			}

			select {
			case s.frames <- frame:
				elapsed += frame.Duration()
			default:
				// Consumer fell behind. Drop the frame and signal the hole
				// rather than blocking the voice websocket reader.
				select {
				case s.gaps <- audio.Gap{At: elapsed, Missing: frame.Duration()}:
				default:
				}
			}
		}
	}
}
