// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package gossip

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-msgio"
	"github.com/luxfi/mst"
	"github.com/luxfi/mst/record"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const ProtocolID protocol.ID = "/mst/state/1.0.0"

const (
	DefaultEmissionPeriod = 5 * time.Second
	DefaultAmountPerOnce  = 2
	DefaultSendTimeout    = 10 * time.Second

	// framing overhead of a record around the state payload
	maxMessageSize = record.MaxPayloadSize + 64
)

type Config struct {
	Logger mst.Logger
	// NetworkID scopes the membership topic, so that separate networks do not gossip to each other.
	NetworkID string
	// EmissionPeriod is the interval between two gossip rounds.
	EmissionPeriod time.Duration
	// AmountPerOnce is the number of peers a gossip round sends to.
	AmountPerOnce int
	// SendTimeout bounds the time spent sending to a single peer.
	SendTimeout time.Duration
}

// Transport gossips the pending state of a processor to the other members of the network.
// Members find each other by joining a pubsub topic; states are sent over direct streams,
// each peer receiving only what it is not known to hold yet.
type Transport struct {
	Config

	host     host.Host
	pubsub   *pubsub.PubSub
	exchange mst.StateExchanger

	lock  sync.Mutex
	rand  *rand.Rand
	topic *pubsub.Topic
	sub   *pubsub.Subscription

	notifiee *network.NotifyBundle
	cancel   context.CancelFunc
	running  sync.WaitGroup
}

func New(h host.Host, ps *pubsub.PubSub, exchange mst.StateExchanger, conf Config) *Transport {
	if conf.EmissionPeriod <= 0 {
		conf.EmissionPeriod = DefaultEmissionPeriod
	}
	if conf.AmountPerOnce <= 0 {
		conf.AmountPerOnce = DefaultAmountPerOnce
	}
	if conf.SendTimeout <= 0 {
		conf.SendTimeout = DefaultSendTimeout
	}

	return &Transport{
		Config:   conf,
		host:     h,
		pubsub:   ps,
		exchange: exchange,
		rand:     rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
}

func (t *Transport) TopicName() string {
	return "mst/" + t.NetworkID
}

// Start joins the membership topic, serves incoming states and begins emitting.
func (t *Transport) Start(ctx context.Context) (err error) {
	t.topic, err = t.pubsub.Join(t.TopicName())
	if err != nil {
		return fmt.Errorf("failed joining %s: %w", t.TopicName(), err)
	}

	// peers only list us as a member of the topic while we are subscribed to it
	t.sub, err = t.topic.Subscribe()
	if err != nil {
		return errors.Join(fmt.Errorf("failed subscribing to %s: %w", t.TopicName(), err), t.topic.Close())
	}

	ctx, t.cancel = context.WithCancel(ctx)

	t.host.SetStreamHandler(ProtocolID, t.handleStream)
	t.notifiee = &network.NotifyBundle{DisconnectedF: t.disconnected}
	t.host.Network().Notify(t.notifiee)

	t.running.Add(2)
	go func() {
		defer t.running.Done()
		for {
			if _, err := t.sub.Next(ctx); err != nil {
				return
			}
		}
	}()
	go t.run(ctx)

	t.Logger.Info("Started gossip",
		zap.Stringer("host", t.host.ID()),
		zap.String("topic", t.TopicName()),
		zap.Duration("emissionPeriod", t.EmissionPeriod),
		zap.Int("amountPerOnce", t.AmountPerOnce))

	return nil
}

// Stop ends gossiping and waits for the emission loop to exit.
func (t *Transport) Stop() error {
	if t.cancel == nil {
		return nil
	}

	t.host.RemoveStreamHandler(ProtocolID)
	t.host.Network().StopNotify(t.notifiee)
	t.cancel()
	t.sub.Cancel()
	t.running.Wait()

	return t.topic.Close()
}

func (t *Transport) run(ctx context.Context) {
	defer t.running.Done()

	ticker := time.NewTicker(t.EmissionPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.Emit(ctx); err != nil && ctx.Err() == nil {
				t.Logger.Debug("Gossip round failed", zap.Error(err))
			}
		}
	}
}

// Peers returns the members of the network currently known.
func (t *Transport) Peers() []peer.ID {
	if t.topic == nil {
		return nil
	}
	return t.topic.ListPeers()
}

// Emit runs a single gossip round: a random subset of the members is sent its state diff concurrently.
func (t *Transport) Emit(ctx context.Context) error {
	t.lock.Lock()
	peers := selectPeers(t.Peers(), t.AmountPerOnce, t.rand)
	t.lock.Unlock()

	var eg errgroup.Group
	for _, p := range peers {
		eg.Go(func() error {
			return t.SendState(ctx, p)
		})
	}
	return eg.Wait()
}

// SendState sends the peer the part of the pending state it is not known to hold.
// Nothing is sent when the peer is up to date.
func (t *Transport) SendState(ctx context.Context, p peer.ID) error {
	state := t.exchange.OutboundStateFor(p.String())
	if state.IsEmpty() {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, t.SendTimeout)
	defer cancel()

	s, err := t.host.NewStream(ctx, p, ProtocolID)
	if err != nil {
		return fmt.Errorf("failed opening stream to %s: %w", p, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = s.SetWriteDeadline(deadline)
	}

	msg := record.New(record.StateMessageType, state.Bytes()).Bytes()
	if err := msgio.NewVarintWriter(s).WriteMsg(msg); err != nil {
		_ = s.Reset()
		return fmt.Errorf("failed sending state to %s: %w", p, err)
	}
	if err := s.Close(); err != nil {
		return fmt.Errorf("failed closing stream to %s: %w", p, err)
	}

	t.exchange.MarkSent(p.String(), state)
	t.Logger.Verbo("Sent state", zap.Stringer("peer", p), zap.Int("batches", state.Len()), zap.Int("size", len(msg)))
	return nil
}

// disconnected forgets what a peer holds once its last connection closes,
// so that it is sent the whole pending state when it comes back.
func (t *Transport) disconnected(n network.Network, c network.Conn) {
	p := c.RemotePeer()
	if n.Connectedness(p) == network.Connected {
		return
	}
	t.exchange.ForgetPeer(p.String())
	t.Logger.Debug("Peer disconnected", zap.Stringer("peer", p))
}

func (t *Transport) handleStream(s network.Stream) {
	from := s.Conn().RemotePeer()
	defer s.Close()

	_ = s.SetReadDeadline(time.Now().Add(t.SendTimeout))

	r := msgio.NewVarintReaderSize(s, maxMessageSize)
	msg, err := r.ReadMsg()
	if err != nil {
		t.Logger.Debug("Failed reading state", zap.Stringer("peer", from), zap.Error(err))
		_ = s.Reset()
		return
	}
	defer r.ReleaseMsg(msg)

	state, err := t.decode(msg)
	if err != nil {
		t.Logger.Warn("Received an invalid state", zap.Stringer("peer", from), zap.Error(err))
		_ = s.Reset()
		return
	}

	if err := t.exchange.ApplyRemoteState(from.String(), state); err != nil {
		t.Logger.Debug("Failed applying state", zap.Stringer("peer", from), zap.Error(err))
		return
	}
	t.Logger.Verbo("Received state", zap.Stringer("peer", from), zap.Int("batches", state.Len()))
}

func (t *Transport) decode(msg []byte) (*mst.State, error) {
	r, err := record.Parse(msg)
	if err != nil {
		return nil, err
	}
	payload, err := r.Expect(record.StateMessageType)
	if err != nil {
		return nil, err
	}
	return mst.StateFromBytes(payload, t.exchange.ExpiryPolicy())
}
