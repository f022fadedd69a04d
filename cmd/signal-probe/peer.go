package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"bken/signaling/internal/protocol"
)

// signalPayload is the opaque body the probe exchanges through the relay.
type signalPayload struct {
	Type      string                     `json:"type"`
	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

const (
	signalDescription = "description"
	signalCandidate   = "candidate"
)

func encodeSignal(p signalPayload) (json.RawMessage, error) {
	if p.Type == signalDescription && p.SDP == nil {
		return nil, errors.New("description signal without sdp")
	}
	if p.Type == signalCandidate && p.Candidate == nil {
		return nil, errors.New("candidate signal without candidate")
	}
	return json.Marshal(p)
}

func decodeSignal(raw json.RawMessage) (signalPayload, error) {
	var p signalPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("decode signal: %w", err)
	}
	switch p.Type {
	case signalDescription:
		if p.SDP == nil {
			return p, errors.New("description signal without sdp")
		}
	case signalCandidate:
		if p.Candidate == nil {
			return p, errors.New("candidate signal without candidate")
		}
	default:
		return p, fmt.Errorf("unknown signal type %q", p.Type)
	}
	return p, nil
}

// probePeer binds one pion PeerConnection to a relay client. Remote
// candidates that arrive before the remote description are held back.
type probePeer struct {
	relay *relayClient
	pc    *webrtc.PeerConnection
	log   *zap.Logger

	mu       sync.Mutex
	remoteID string
	haveDesc bool
	pending  []webrtc.ICECandidateInit
}

func newProbePeer(api *webrtc.API, relay *relayClient) (*probePeer, error) {
	pc, err := api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	p := &probePeer{relay: relay, pc: pc, log: relay.log}
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		cand := c.ToJSON()
		if err := p.sendSignal(signalPayload{Type: signalCandidate, Candidate: &cand}); err != nil {
			p.log.Warn("send candidate", zap.Error(err))
		}
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		p.log.Debug("peer connection state", zap.String("state", s.String()))
	})
	return p, nil
}

func (p *probePeer) setRemote(id string) {
	p.mu.Lock()
	p.remoteID = id
	p.mu.Unlock()
}

func (p *probePeer) sendSignal(sig signalPayload) error {
	p.mu.Lock()
	to := p.remoteID
	p.mu.Unlock()
	if to == "" {
		return errors.New("remote peer not known yet")
	}
	raw, err := encodeSignal(sig)
	if err != nil {
		return err
	}
	return p.relay.send(protocol.EventSignal, protocol.SignalIn{PeerID: to, Signal: raw})
}

// offer creates and sends the local offer.
func (p *probePeer) offer() error {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local offer: %w", err)
	}
	return p.sendSignal(signalPayload{Type: signalDescription, SDP: &offer})
}

// handle applies one forwarded signal. An offer is answered.
func (p *probePeer) handle(out protocol.SignalOut) error {
	sig, err := decodeSignal(out.Signal)
	if err != nil {
		return err
	}

	if sig.Type == signalCandidate {
		p.mu.Lock()
		if !p.haveDesc {
			p.pending = append(p.pending, *sig.Candidate)
			p.mu.Unlock()
			return nil
		}
		p.mu.Unlock()
		return p.pc.AddICECandidate(*sig.Candidate)
	}

	if err := p.pc.SetRemoteDescription(*sig.SDP); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	p.mu.Lock()
	p.haveDesc = true
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()
	for _, c := range pending {
		if err := p.pc.AddICECandidate(c); err != nil {
			return fmt.Errorf("add queued candidate: %w", err)
		}
	}

	if sig.SDP.Type != webrtc.SDPTypeOffer {
		return nil
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local answer: %w", err)
	}
	return p.sendSignal(signalPayload{Type: signalDescription, SDP: &answer})
}

func (p *probePeer) close() {
	if err := p.pc.Close(); err != nil {
		p.log.Debug("close peer connection", zap.Error(err))
	}
	p.relay.close()
}
