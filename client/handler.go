package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/uasalt/elemlink/codec"
	"github.com/uasalt/elemlink/crypto/envelope"
	"github.com/uasalt/elemlink/elerrors"
	"github.com/uasalt/elemlink/handshake"
	"github.com/uasalt/elemlink/observability"
	"github.com/uasalt/elemlink/realtime/ws"
	"github.com/uasalt/elemlink/transport"
)

// linkHandler routes transport events into the Session. Frames are routed
// purely by the episode's handshake state.
type linkHandler struct {
	s *Session
}

func (h linkHandler) OnOpen(ctx context.Context, l *transport.Link) error {
	s := h.s
	ep := newEpisode(l, s.cfg)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.ep = ep
	s.mu.Unlock()

	hello, err := ep.hs.Start()
	if err != nil {
		return fmt.Errorf("start key exchange: %w", err)
	}
	if err := l.Send(ctx, hello); err != nil {
		return fmt.Errorf("send key exchange: %w", err)
	}
	ep.hs.Sent()
	s.log.Debug().Uint64("episode", l.Episode()).Msg("key exchange sent")
	return nil
}

func (h linkHandler) OnFrame(ctx context.Context, l *transport.Link, f ws.Frame) error {
	s := h.s
	s.mu.Lock()
	ep := s.ep
	ready := ep != nil && ep.ready
	s.mu.Unlock()
	if ep == nil || ep.link != l {
		// Frames still buffered on a socket Disconnect already abandoned.
		return nil
	}
	if !ready {
		return h.handshakeFrame(ctx, ep, f)
	}
	return h.applicationFrame(ep, f)
}

func (h linkHandler) OnClose(l *transport.Link, err error) {
	s := h.s
	s.mu.Lock()
	ep := s.ep
	var wasReady bool
	if ep != nil && ep.link == l {
		wasReady = ep.ready
		s.endEpisodeLocked(ep)
	}
	s.mu.Unlock()
	if ep != nil && ep.link == l && !wasReady {
		s.obs.Handshake(observability.HandshakeResultAborted, 0)
	}
	s.log.Info().Uint64("episode", l.Episode()).Err(err).Bool("was_ready", wasReady).
		Dur("uptime", time.Since(l.OpenedAt())).Msg("connection closed")
}

func (h linkHandler) handshakeFrame(ctx context.Context, ep *episode, f ws.Frame) error {
	s := h.s
	log := s.log.With().Uint64("episode", ep.link.Episode()).Logger()
	step, err := ep.hs.Handle(f)
	switch {
	case err == nil:
	case errors.Is(err, handshake.ErrProtocolDesync):
		s.noteFailure(elerrors.StageHandshake, elerrors.CodeProtocolDesync, err)
		s.obs.Handshake(observability.HandshakeResultDesync, 0)
		log.Warn().Err(err).Msg("handshake desync, reconnecting")
		return err
	case envelope.IsCryptoError(err), errors.Is(err, handshake.ErrBadKeyExchange):
		s.noteFailure(elerrors.StageHandshake, elerrors.CodeCrypto, err)
		s.obs.Handshake(observability.HandshakeResultCryptoError, 0)
		log.Warn().Err(err).Str("frame", f.Type.String()).Msg("discarding undecryptable handshake frame")
		return nil
	default:
		log.Warn().Err(err).Str("frame", f.Type.String()).Msg("discarding handshake frame")
		return nil
	}
	if step.Dropped != "" {
		s.obs.FrameDropped(observability.DropReasonDesync)
		log.Warn().Str("frame", f.Type.String()).Str("reason", step.Dropped).Msg("dropping frame before ready")
		return nil
	}
	if step.Reply != nil {
		if err := ep.link.Send(ctx, *step.Reply); err != nil {
			return fmt.Errorf("send session key: %w", err)
		}
		log.Debug().Msg("session key sent")
	}
	if step.Ready {
		s.becomeReady(ctx, ep)
	}
	return nil
}

func (h linkHandler) applicationFrame(ep *episode, f ws.Frame) error {
	s := h.s
	log := s.log.With().Uint64("episode", ep.link.Episode()).Logger()
	if f.Type != ws.BinaryMessage {
		s.obs.FrameDropped(observability.DropReasonDesync)
		if s.cfg.strict {
			err := fmt.Errorf("%w: %s frame after ready", handshake.ErrProtocolDesync, f.Type)
			s.noteFailure(elerrors.StageSecure, elerrors.CodeProtocolDesync, err)
			log.Warn().Msg("control frame after ready, reconnecting")
			return err
		}
		log.Warn().Msg("dropping control frame after ready")
		return nil
	}
	key, ok := ep.keys.LocalSessionKey()
	if !ok {
		return nil
	}
	body, err := s.cipher.Open(key, f.Data)
	if err != nil {
		s.noteFailure(elerrors.StageSecure, elerrors.CodeCrypto, err)
		s.obs.FrameDropped(observability.DropReasonDecryptFailed)
		log.Warn().Err(err).Int("bytes", len(f.Data)).Msg("dropping undecryptable frame")
		return nil
	}
	msg, err := codec.DecodeMap(body)
	if err != nil {
		s.noteFailure(elerrors.StageSecure, elerrors.CodeDecodeFailed, err)
		s.obs.FrameDropped(observability.DropReasonDecodeFailed)
		log.Warn().Err(err).Msg("dropping undecodable frame")
		return nil
	}
	id := Message(msg).RayID()
	if id == "" {
		s.obs.FrameDropped(observability.DropReasonMissingRayID)
		log.Debug().Str("type", Message(msg).Type()).Msg("dropping frame without ray_id")
		return nil
	}
	if !s.registry.Resolve(id, msg) {
		s.obs.FrameDropped(observability.DropReasonUnknownRayID)
		log.Debug().Str("ray_id", id).Msg("no pending request for response")
		return nil
	}
	s.obs.Pending(s.registry.Len())
	return nil
}
