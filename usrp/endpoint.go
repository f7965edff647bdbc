package usrp

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/mattmelling/asl-zello-bridge/ptt"
	"github.com/mattmelling/asl-zello-bridge/queue"
	"github.com/mattmelling/asl-zello-bridge/shared"
	"go.uber.org/zap"
)

// DefaultTXPort is the remote USRP port used when none is configured.
const DefaultTXPort = 7070

// unkeyInterval paces the unkey frames the egress loop sends while the
// Zello side holds the channel, keeping the remote USRP peer from
// timing out into its own keyed state.
const unkeyInterval = 500 * time.Millisecond

// Config configures an Endpoint: the local UDP socket to bind and the
// remote USRP peer to send keyed audio and unkey keepalives to.
type Config struct {
	BindAddr string
	RXPort   int
	TXHost   string
	TXPort   int
	RXGainDB float64
	TXGainDB float64
}

// Endpoint is the USRP UDP voice component: it owns the socket,
// decodes inbound frames onto usrp_ptt and the usrp_to_zello queue,
// and encodes outbound frames from zello_to_usrp gated by zello_ptt.
type Endpoint struct {
	cfg    Config
	logger shared.LoggerAdapter

	conn    *net.UDPConn
	txAddr  *net.UDPAddr
	txSeq   int32
	rxGain  float64
	txGain  float64

	usrpToZello *queue.ByteQueue
	zelloToUsrp *queue.ByteQueue
	usrpPTT     *ptt.Event
	zelloPTT    *ptt.Event
}

// New resolves the configured addresses and binds the UDP socket.
func New(cfg Config, logger shared.LoggerAdapter, usrpToZello, zelloToUsrp *queue.ByteQueue, usrpPTT, zelloPTT *ptt.Event) (*Endpoint, error) {
	if cfg.TXPort == 0 {
		cfg.TXPort = DefaultTXPort
	}
	bindAddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.RXPort))
	if err != nil {
		return nil, fmt.Errorf("resolving USRP bind address: %w", err)
	}
	conn, err := net.ListenUDP("udp", bindAddr)
	if err != nil {
		return nil, fmt.Errorf("binding USRP socket: %w", err)
	}
	txAddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", cfg.TXHost, cfg.TXPort))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("resolving USRP TX address: %w", err)
	}
	return &Endpoint{
		cfg:         cfg,
		logger:      logger,
		conn:        conn,
		txAddr:      txAddr,
		rxGain:      LinearGain(cfg.RXGainDB),
		txGain:      LinearGain(cfg.TXGainDB),
		usrpToZello: usrpToZello,
		zelloToUsrp: zelloToUsrp,
		usrpPTT:     usrpPTT,
		zelloPTT:    zelloPTT,
	}, nil
}

// Close releases the UDP socket.
func (e *Endpoint) Close() error {
	return e.conn.Close()
}

// RunRX reads inbound USRP datagrams until ctx is cancelled or the
// socket closes: it tracks usrp_ptt from each frame's PTT flag and
// forwards keyed, gain-adjusted PCM onto the usrp_to_zello queue.
func (e *Endpoint) RunRX(ctx context.Context) error {
	buf := make([]byte, FrameSize+1)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		e.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, _, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			e.logger.Error("reading USRP datagram", err)
			continue
		}
		if n != FrameSize {
			continue
		}
		frame, err := Decode(buf[:n])
		if err != nil {
			e.logger.Warn("discarding malformed USRP frame", zap.Error(err))
			continue
		}
		if !frame.Header.PTT {
			e.usrpPTT.Clear()
			continue
		}
		e.usrpPTT.Set()
		payload := ApplyGain(frame.Payload, e.rxGain)
		e.usrpToZello.Write(payload)
	}
}

// RunTX is the egress loop: while zello_ptt is set it sends unkey
// keepalives; otherwise it drains zello_to_usrp into keyed frames.
func (e *Endpoint) RunTX(ctx context.Context) error {
	ticker := time.NewTicker(unkeyInterval)
	defer ticker.Stop()

	for {
		if e.zelloPTT.IsSet() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				e.sendUnkey()
				continue
			}
		}

		payload, err := e.zelloToUsrp.ReadContext(ctx, VoiceSize)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		if e.zelloPTT.IsSet() {
			// Zello keyed while we were blocked on the read; defer this
			// audio to the next cycle rather than transmit over it.
			continue
		}
		payload = ApplyGain(payload, e.txGain)
		e.sendVoice(payload)
	}
}

func (e *Endpoint) sendUnkey() {
	seq := atomic.AddInt32(&e.txSeq, 1) - 1
	if _, err := e.conn.WriteToUDP(UnkeyFrame(seq), e.txAddr); err != nil {
		e.logger.Warn("sending USRP unkey frame", zap.Error(err))
	}
}

func (e *Endpoint) sendVoice(payload []byte) {
	seq := atomic.AddInt32(&e.txSeq, 1) - 1
	if _, err := e.conn.WriteToUDP(VoiceFrame(seq, payload), e.txAddr); err != nil {
		e.logger.Warn("sending USRP voice frame", zap.Error(err))
	}
}
