// Command signal-probe checks a running signaling server end to end. It
// connects two WebRTC peers through the relay and exchanges one message over
// a data channel.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"bken/signaling/internal/config"
	"bken/signaling/internal/observability"
	"bken/signaling/internal/protocol"
)

const probeMessage = "probe"

func main() {
	relayURL := flag.String("url", "ws://localhost:8080/ws", "Signaling websocket URL")
	category := flag.String("category", "probe", "Room category used for the probe room")
	timeout := flag.Duration("timeout", 20*time.Second, "Overall probe deadline")
	level := flag.String("log-level", "info", "Log level")
	flag.Parse()

	logger, err := observability.NewLogger(config.LoggingConfig{Level: *level, Format: "console"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	start := time.Now()
	if err := runProbe(ctx, *relayURL, *category, logger); err != nil {
		logger.Error("probe failed", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("probe succeeded", zap.Duration("elapsed", time.Since(start)))
}

// runProbe creates a room as host, joins it as guest, negotiates a data
// channel through the relay and waits for the guest's message to arrive.
func runProbe(ctx context.Context, relayURL, category string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	api := webrtc.NewAPI()

	hostRelay, err := dialRelay(ctx, relayURL, "host", logger)
	if err != nil {
		return err
	}
	host, err := newProbePeer(api, hostRelay)
	if err != nil {
		hostRelay.close()
		return err
	}
	defer host.close()

	guestRelay, err := dialRelay(ctx, relayURL, "guest", logger)
	if err != nil {
		return err
	}
	guest, err := newProbePeer(api, guestRelay)
	if err != nil {
		guestRelay.close()
		return err
	}
	defer guest.close()

	var session protocol.SessionCreated
	if err := hostRelay.await(ctx, protocol.EventSessionCreated, &session); err != nil {
		return err
	}
	if err := guestRelay.await(ctx, protocol.EventSessionCreated, &session); err != nil {
		return err
	}

	maxClients := 2
	if err := hostRelay.send(protocol.EventCreateRoom, protocol.CreateRoom{Category: category, MaxClients: &maxClients}); err != nil {
		return fmt.Errorf("send create-room: %w", err)
	}
	var created protocol.RoomCreated
	if err := hostRelay.await(ctx, protocol.EventRoomCreated, &created); err != nil {
		return err
	}
	logger.Info("probe room created", zap.String("room_id", created.RoomID))

	if err := guestRelay.send(protocol.EventJoinRoom, protocol.RoomRef{RoomID: created.RoomID}); err != nil {
		return fmt.Errorf("send join-room: %w", err)
	}
	var joined protocol.RoomJoined
	if err := guestRelay.await(ctx, protocol.EventRoomJoined, &joined); err != nil {
		return err
	}
	hostID := ""
	for _, peer := range joined.Peers {
		if peer.IsHost {
			hostID = peer.ID
		}
	}
	if hostID == "" {
		return errors.New("room-joined listed no host")
	}
	guest.setRemote(hostID)

	var arrived protocol.PeerEvent
	if err := hostRelay.await(ctx, protocol.EventPeerJoined, &arrived); err != nil {
		return err
	}
	host.setRemote(arrived.PeerID)

	received := make(chan string, 1)
	dc, err := host.pc.CreateDataChannel("probe", nil)
	if err != nil {
		return fmt.Errorf("create data channel: %w", err)
	}
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		select {
		case received <- string(msg.Data):
		default:
		}
	})
	guest.pc.OnDataChannel(func(d *webrtc.DataChannel) {
		d.OnOpen(func() {
			if err := d.SendText(probeMessage); err != nil {
				logger.Warn("guest send failed", zap.Error(err))
			}
		})
	})

	pumpErr := make(chan error, 2)
	go pumpSignals(host, pumpErr)
	go pumpSignals(guest, pumpErr)

	if err := host.offer(); err != nil {
		return err
	}

	select {
	case msg := <-received:
		if msg != probeMessage {
			return fmt.Errorf("unexpected data channel payload %q", msg)
		}
		return nil
	case err := <-pumpErr:
		return err
	case <-ctx.Done():
		return fmt.Errorf("waiting for data channel: %w", ctx.Err())
	}
}

// pumpSignals applies forwarded signals until the relay connection closes.
func pumpSignals(p *probePeer, errs chan<- error) {
	for msg := range p.relay.events {
		switch msg.Event {
		case protocol.EventSignal:
			var out protocol.SignalOut
			if err := msg.Decode(&out); err != nil {
				errs <- err
				return
			}
			if err := p.handle(out); err != nil {
				errs <- fmt.Errorf("%s: %w", p.relay.name, err)
				return
			}
		case protocol.EventError:
			var e protocol.Error
			_ = msg.Decode(&e)
			errs <- fmt.Errorf("%s: relay error %s: %s", p.relay.name, e.Code, e.Message)
			return
		}
	}
}
