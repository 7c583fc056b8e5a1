package rtc

import (
	"errors"
	"io"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// drain consumes a remote track until the connection closes. Video gets a
// keyframe request first so playback can start without waiting for the next
// periodic keyframe.
func (p *Peer) drain(pc *webrtc.PeerConnection, track *webrtc.TrackRemote) {
	kind := track.Kind().String()
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		pli := []rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())}}
		if err := pc.WriteRTCP(pli); err != nil {
			log.Debug().Err(err).Str("module", "rtc").Str("sid", string(p.sid)).Msg("PLI failed")
		}
	}

	var (
		packets  int
		lastSeq  uint16
		lost     int
		haveLast bool
	)
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) && p.ctx.Err() == nil {
				log.Debug().Err(err).Str("module", "rtc").Str("sid", string(p.sid)).Str("kind", kind).Msg("remote track read")
			}
			break
		}
		switch {
		case !haveLast:
			lastSeq, haveLast = pkt.SequenceNumber, true
		case seqAhead(lastSeq, pkt.SequenceNumber):
			lost += seqGap(lastSeq, pkt.SequenceNumber)
			lastSeq = pkt.SequenceNumber
		}
		packets++
		p.metrics.RTPPacket(kind)
	}
	log.Info().
		Str("module", "rtc").
		Str("sid", string(p.sid)).
		Str("kind", kind).
		Int("packets", packets).
		Int("gaps", lost).
		Msg("remote track ended")
}

// seqAhead reports whether cur follows last in RTP sequence order,
// allowing for wraparound.
func seqAhead(last, cur uint16) bool {
	d := cur - last
	return d != 0 && d < 1<<15
}

// seqGap is the number of packets missing between last and cur. Late and
// duplicate packets count as no gap.
func seqGap(last, cur uint16) int {
	if !seqAhead(last, cur) {
		return 0
	}
	return int(cur-last) - 1
}
