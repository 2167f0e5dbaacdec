// Package main provides volsender, a synthetic volumetric stream sender for
// exercising volviewer without capture hardware.
//
// volsender answers Connect packets, then streams a generated color and
// depth sequence at a fixed frame rate using the raw reference formats, with
// XOR parity and optional simulated packet loss.
//
//	volsender -listen :47498 -fps 30 -loss 0.05
package main

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	mrand "math/rand"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/volstream/av/video"
	"github.com/opd-ai/volstream/transport"
)

// CLI configuration
type CLIConfig struct {
	listenAddress string
	fps           int
	width         uint
	height        uint
	keyframeEvery int
	chunkSize     int
	fecGroupSize  int
	loss          float64
	timeout       time.Duration
	logLevel      string
}

func parseCLIFlags(fs *flag.FlagSet, args []string) (*CLIConfig, error) {
	config := &CLIConfig{}

	fs.StringVar(&config.listenAddress, "listen", ":47498", "UDP address to accept receivers on")
	fs.IntVar(&config.fps, "fps", 30, "Frames per second")
	fs.UintVar(&config.width, "width", 64, "Frame width (even)")
	fs.UintVar(&config.height, "height", 48, "Frame height (even)")
	fs.IntVar(&config.keyframeEvery, "keyframe-every", 30, "Frames between keyframes")
	fs.IntVar(&config.chunkSize, "chunk", video.DefaultChunkSize, "Fragment chunk size in bytes")
	fs.IntVar(&config.fecGroupSize, "fec", video.DefaultFECGroupSize, "Fragments per parity packet (0 disables FEC)")
	fs.Float64Var(&config.loss, "loss", 0, "Probability of dropping each outgoing media packet")
	fs.DurationVar(&config.timeout, "timeout", 5*time.Second, "Drop receivers silent for this long")
	fs.StringVar(&config.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return config, nil
}

func validateCLIConfig(config *CLIConfig) error {
	if config.fps <= 0 || config.fps > 240 {
		return fmt.Errorf("invalid fps %d: must be between 1 and 240", config.fps)
	}
	if config.width == 0 || config.height == 0 || config.width%2 != 0 || config.height%2 != 0 {
		return fmt.Errorf("invalid frame size %dx%d: dimensions must be even and positive", config.width, config.height)
	}
	if config.width > 4096 || config.height > 4096 {
		return fmt.Errorf("frame size %dx%d too large", config.width, config.height)
	}
	if config.keyframeEvery <= 0 {
		return errors.New("keyframe interval must be positive")
	}
	if config.loss < 0 || config.loss >= 1 {
		return fmt.Errorf("invalid loss %v: must be in [0, 1)", config.loss)
	}
	if config.timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	return nil
}

// receiver is one connected viewer.
type receiver struct {
	receiverSessionID uint32
	senderSessionID   uint32
	addr              net.Addr
	packetizer        *video.Packetizer
	lastReceivedAt    time.Time
	lastReportedFrame int32
}

// sender streams the synthetic sequence to every connected receiver.
type sender struct {
	config    *CLIConfig
	transport transport.Transport
	source    *frameSource
	receivers map[uint32]*receiver // keyed by sender session ID
	loss      *mrand.Rand
}

func newSender(config *CLIConfig, tr transport.Transport) *sender {
	return &sender{
		config:    config,
		transport: tr,
		source:    newFrameSource(uint16(config.width), uint16(config.height), config.keyframeEvery),
		receivers: make(map[uint32]*receiver),
		loss:      mrand.New(mrand.NewSource(time.Now().UnixNano())),
	}
}

func newSessionID() (uint32, error) {
	var b [4]byte
	for {
		if _, err := rand.Read(b[:]); err != nil {
			return 0, err
		}
		if id := binary.LittleEndian.Uint32(b[:]); id != 0 {
			return id, nil
		}
	}
}

// handle processes datagrams from receivers.
func (s *sender) handle(datagrams []transport.Datagram, now time.Time) {
	for _, d := range datagrams {
		msg, err := transport.Decode(d.Data)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "sender.handle",
				"error":    err.Error(),
			}).Debug("Dropping datagram")
			continue
		}

		switch m := msg.(type) {
		case *transport.ConnectPacket:
			s.accept(m, d.Addr, now)
		case *transport.HeartbeatPacket:
			if r := s.byReceiverID(m.SessionID); r != nil {
				r.lastReceivedAt = now
			}
		case *transport.ReportPacket:
			if r := s.byReceiverID(m.ReceiverSessionID); r != nil {
				r.lastReceivedAt = now
				r.lastReportedFrame = m.FrameID
				logrus.WithFields(logrus.Fields{
					"function":         "sender.handle",
					"receiver_session": m.ReceiverSessionID,
					"frame_id":         m.FrameID,
					"decode_ms":        m.DecodeDurationMs,
					"frame_ms":         m.InterFrameDurationMs,
				}).Debug("Report")
			}
		}
	}
}

func (s *sender) byReceiverID(receiverSessionID uint32) *receiver {
	for _, r := range s.receivers {
		if r.receiverSessionID == receiverSessionID {
			return r
		}
	}
	return nil
}

// accept confirms a Connect. A repeated Connect gets the same Confirm again.
func (s *sender) accept(m *transport.ConnectPacket, addr net.Addr, now time.Time) {
	r := s.byReceiverID(m.ReceiverSessionID)
	if r == nil {
		id, err := newSessionID()
		if err != nil {
			logrus.WithError(err).Error("Failed to allocate session id")
			return
		}
		packetizer, err := video.NewPacketizer(id, s.config.chunkSize, s.config.fecGroupSize)
		if err != nil {
			logrus.WithError(err).Error("Failed to create packetizer")
			return
		}
		r = &receiver{
			receiverSessionID: m.ReceiverSessionID,
			senderSessionID:   id,
			addr:              addr,
			packetizer:        packetizer,
			lastReportedFrame: video.NoFrameRendered,
		}
		s.receivers[id] = r

		logrus.WithFields(logrus.Fields{
			"function":         "sender.accept",
			"receiver_session": m.ReceiverSessionID,
			"sender_session":   id,
			"addr":             addr.String(),
		}).Info("Receiver connected")
	}
	r.lastReceivedAt = now

	confirm := &transport.ConfirmPacket{SenderSessionID: r.senderSessionID, ReceiverSessionID: r.receiverSessionID}
	if err := s.transport.Send(confirm, r.addr); err != nil {
		logrus.WithError(err).Warn("Failed to send confirm")
	}
}

// expire drops receivers that went silent and heartbeats the others.
func (s *sender) expire(now time.Time) {
	for id, r := range s.receivers {
		if now.Sub(r.lastReceivedAt) > s.config.timeout {
			delete(s.receivers, id)
			logrus.WithFields(logrus.Fields{
				"function":         "sender.expire",
				"receiver_session": r.receiverSessionID,
			}).Info("Receiver timed out")
			continue
		}
		_ = s.transport.Send(&transport.HeartbeatPacket{SessionID: r.senderSessionID}, r.addr)
	}
}

// stream sends the next frame to every receiver.
func (s *sender) stream(timestampMs float32) {
	if len(s.receivers) == 0 {
		return
	}

	msg, err := s.source.next(timestampMs)
	if err != nil {
		logrus.WithError(err).Error("Failed to generate frame")
		return
	}

	for _, r := range s.receivers {
		videoPackets, fecPackets, err := r.packetizer.Packetize(msg)
		if err != nil {
			logrus.WithError(err).Error("Failed to packetize frame")
			return
		}
		for _, p := range videoPackets {
			s.sendMedia(p, r.addr)
		}
		for _, p := range fecPackets {
			s.sendMedia(p, r.addr)
		}
	}
}

func (s *sender) sendMedia(msg transport.Message, addr net.Addr) {
	if s.config.loss > 0 && s.loss.Float64() < s.config.loss {
		return
	}
	_ = s.transport.Send(msg, addr)
}

func run(ctx context.Context, config *CLIConfig) error {
	udp, err := transport.NewUDPTransport(config.listenAddress)
	if err != nil {
		return err
	}
	defer udp.Close()

	s := newSender(config, udp)
	start := time.Now()

	frames := time.NewTicker(time.Second / time.Duration(config.fps))
	defer frames.Stop()
	heartbeat := time.NewTicker(time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-heartbeat.C:
			s.expire(now)
		case now := <-frames.C:
			datagrams, err := udp.ReceiveBatch()
			if err != nil {
				logrus.WithError(err).Debug("Receive failed")
			}
			s.handle(datagrams, now)
			s.stream(float32(now.Sub(start).Milliseconds()))
		}
	}
}

func main() {
	fs := flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	config, err := parseCLIFlags(fs, os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	if err := validateCLIConfig(config); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}
	level, err := logrus.ParseLevel(config.logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}
	logrus.SetLevel(level)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, config); err != nil {
		logrus.WithError(err).Error("volsender failed")
		os.Exit(1)
	}
}
