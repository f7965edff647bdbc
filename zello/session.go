package zello

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/mattmelling/asl-zello-bridge/codec"
	"github.com/mattmelling/asl-zello-bridge/ptt"
	"github.com/mattmelling/asl-zello-bridge/queue"
	"github.com/mattmelling/asl-zello-bridge/shared"
	"github.com/mattmelling/asl-zello-bridge/token"
	"go.uber.org/zap"
)

const (
	pingInterval       = 30 * time.Second
	authTimeout        = 10 * time.Second
	streamStartTimeout = 2 * time.Second
	pcmReadTimeout     = 1 * time.Second
	reconnectMin       = 1 * time.Second
	reconnectMax       = 5 * time.Second

	// usrpToZelloReadBytes is the fixed granularity the Zello TX loop
	// reads at: two 20 ms Opus frames per read.
	usrpToZelloReadBytes = 2 * codec.FrameBytes
)

// Config configures a Session: the Zello Channels WebSocket endpoint
// to dial and the username/password/channel to log on with.
type Config struct {
	WSEndpoint string
	Username   string
	Password   string
	Channel    string
}

// Session is one Zello Channels WebSocket connection: authentication,
// stream start/stop, media framing, and backoff handling. The same
// Session is reused across reconnects: RunWithReconnect calls Run again
// after every disconnect, and Run resets the login and stream state at
// the start of each connection.
type Session struct {
	cfg      Config
	logger   shared.LoggerAdapter
	tokenSvc *token.Service
	codec    *codec.Codec

	usrpToZello *queue.ByteQueue // PCM awaiting Opus-encode + send
	zelloToUsrp *queue.ByteQueue // PCM decoded from inbound Opus
	usrpPTT     *ptt.Event
	zelloPTT    *ptt.Event

	conn      *websocket.Conn
	writeMu   sync.Mutex
	seqMu     sync.Mutex
	seq       int
	authMu    sync.Mutex
	authSeq   int
	authInFlight bool
	refreshToken string

	stateMu        sync.Mutex
	loggedIn       bool
	authSucceeded  bool
	channelReady   bool
	loginLoggedAt  time.Time

	streamMu sync.Mutex
	streamID int32
	pktID    uint32
	txing    bool
	ackCh    chan int32

	talkUser string

	woodpecker    *backoffWindow
	emptyMsg      *backoffWindow
	channelUntil  time.Time
	startRetryAt  time.Time
	postLoginUntil time.Time
}

// New builds a Session. The returned Session is unconnected; call Run
// to dial, authenticate, and drive the RX/TX loops until ctx is
// cancelled or a fatal error occurs.
func New(cfg Config, logger shared.LoggerAdapter, tokenSvc *token.Service, c *codec.Codec, usrpToZello, zelloToUsrp *queue.ByteQueue, usrpPTT, zelloPTT *ptt.Event) *Session {
	return &Session{
		cfg:         cfg,
		logger:      logger,
		tokenSvc:    tokenSvc,
		codec:       c,
		usrpToZello: usrpToZello,
		zelloToUsrp: zelloToUsrp,
		usrpPTT:     usrpPTT,
		zelloPTT:    zelloPTT,
		woodpecker:  newBackoffWindow(woodpeckerInitial, woodpeckerMax),
		emptyMsg:    newBackoffWindow(emptyMessageInitial, emptyMessageMax),
	}
}

func (s *Session) nextSeq() int {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	seq := s.seq
	s.seq++
	return seq
}

// isLoggedIn reports whether this connection has reached the
// auth-succeeded + channel-online state. Read from the TX goroutine;
// written from the RX goroutine.
func (s *Session) isLoggedIn() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.loggedIn
}

func (s *Session) isChannelReady() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.channelReady
}

func (s *Session) takeRefreshToken() string {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	rt := s.refreshToken
	s.refreshToken = ""
	return rt
}

func (s *Session) currentRefreshToken() string {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.refreshToken
}

func (s *Session) setRefreshToken(rt string) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.refreshToken = rt
}

func (s *Session) gateTimestamps() (postLoginUntil, channelUntil, startRetryAt time.Time) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.postLoginUntil, s.channelUntil, s.startRetryAt
}

func (s *Session) setStartRetryAt(t time.Time) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.startRetryAt = t
}

// Run dials once, authenticates, and runs the RX loop inline while the
// TX loop runs in a background goroutine; it returns when the
// connection ends, for any reason, so the caller's reconnect loop can
// sleep and retry. A single invocation represents one full connect,
// authenticate, run, disconnect lifecycle.
func (s *Session) Run(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: authTimeout,
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			d := net.Dialer{
				Timeout:   authTimeout,
				KeepAlive: 30 * time.Second,
			}
			return d.DialContext(ctx, network, addr)
		},
	}
	conn, _, err := dialer.DialContext(ctx, s.cfg.WSEndpoint, nil)
	if err != nil {
		return fmt.Errorf("dialing Zello endpoint: %w", err)
	}
	s.conn = conn
	defer conn.Close()

	s.resetConnectionState()
	conn.SetPongHandler(func(string) error {
		s.logger.Debug("PONG from server")
		return nil
	})

	authCtx, cancelAuth := context.WithTimeout(ctx, authTimeout)
	defer cancelAuth()
	if err := s.authenticate(authCtx); err != nil {
		return fmt.Errorf("authenticating: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Closing the socket on cancellation unblocks runRX's ReadMessage.
	go func() {
		<-runCtx.Done()
		conn.Close()
	}()

	pingDone := make(chan struct{})
	go func() {
		defer close(pingDone)
		s.runPing(runCtx)
	}()

	txDone := make(chan error, 1)
	go func() {
		txDone <- s.runTX(runCtx)
	}()

	rxErr := s.runRX(runCtx)
	cancel()
	<-pingDone
	<-txDone
	return rxErr
}

func (s *Session) resetConnectionState() {
	s.stateMu.Lock()
	s.loggedIn = false
	s.authSucceeded = false
	s.channelReady = false
	s.stateMu.Unlock()
	s.streamMu.Lock()
	s.streamID = 0
	s.pktID = 0
	s.txing = false
	s.streamMu.Unlock()
}

func (s *Session) authenticate(ctx context.Context) error {
	seq := s.nextSeq()
	s.authMu.Lock()
	s.authSeq = seq
	s.authMu.Unlock()

	refreshToken := s.takeRefreshToken()
	var authToken string
	var err error
	if refreshToken == "" {
		authToken, err = s.tokenSvc.Mint()
		if err != nil {
			return fmt.Errorf("minting auth token: %w", err)
		}
	}
	req := NewLogon(seq, s.cfg.Username, s.cfg.Password, s.cfg.Channel, authToken, refreshToken)
	return s.sendJSON(req)
}

func (s *Session) sendJSON(v any) error {
	body, err := sonic.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, body)
}

func (s *Session) sendBinary(b []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, b)
}

func (s *Session) runPing(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteMessage(websocket.PingMessage, nil)
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// runRX reads and dispatches frames until the socket closes, a fatal
// error arrives, or ctx is cancelled.
func (s *Session) runRX(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("reading from Zello socket: %w", err)
		}

		switch msgType {
		case websocket.TextMessage:
			if err := s.handleText(data); err != nil {
				return err
			}
		case websocket.BinaryMessage:
			s.handleBinary(data)
		}
	}
}

func (s *Session) handleText(data []byte) error {
	msg, err := ParseInbound(data)
	if err != nil {
		s.logger.Warn("discarding unparseable Zello message", zap.Error(err))
		return nil
	}

	switch msg.Kind() {
	case KindError:
		return s.handleError(msg.Error)

	case KindStreamStart:
		s.zelloPTT.Set()
		s.talkUser = msg.From
		if msg.From != "" {
			s.logger.Info(fmt.Sprintf("Keyed:%s", msg.From))
		} else {
			s.logger.Info("Keyed:unknown")
		}

	case KindStreamStop:
		if s.talkUser != "" {
			s.logger.Info(fmt.Sprintf("UnKeyed:%s", s.talkUser))
		}
		s.zelloPTT.Clear()
		s.talkUser = ""

	case KindChannelStatus:
		if msg.Status == "online" {
			s.stateMu.Lock()
			wasReady := s.channelReady
			s.channelReady = true
			s.stateMu.Unlock()
			if !wasReady {
				s.logger.Info("Channel is ready")
			}
			s.maybeMarkLoggedIn()
		} else {
			s.stateMu.Lock()
			s.channelReady = false
			s.stateMu.Unlock()
		}

	case KindAuthSuccess:
		s.authMu.Lock()
		expected := s.authSeq
		s.authInFlight = false
		s.authMu.Unlock()
		if msg.Seq == nil || *msg.Seq != expected {
			s.logger.Warn("ignoring auth success for stale seq",
				zap.Intp("got", msg.Seq), zap.Int("want", expected))
			return nil
		}
		s.stateMu.Lock()
		s.authSucceeded = true
		s.stateMu.Unlock()
		if msg.RefreshToken != "" {
			s.setRefreshToken(msg.RefreshToken)
		}
		s.maybeMarkLoggedIn()

	case KindStreamStartAck:
		if msg.StreamID != nil {
			s.deliverStreamAck(*msg.StreamID)
		}
	}
	return nil
}

func (s *Session) maybeMarkLoggedIn() {
	s.stateMu.Lock()
	if s.loggedIn || !s.authSucceeded || !s.channelReady {
		s.stateMu.Unlock()
		return
	}
	s.loggedIn = true
	s.loginLoggedAt = time.Now()
	s.postLoginUntil = s.loginLoggedAt.Add(postLoginCooldown)
	s.stateMu.Unlock()
	s.logger.Info("Logged in!")
}

func (s *Session) handleError(msg string) error {
	switch msg {
	case "woodpecker prohibited":
		s.endTXLocked("woodpecker prohibited")
		s.woodpecker.trigger(time.Now())
		return nil
	case "empty message":
		s.endTXLocked("empty message")
		s.emptyMsg.trigger(time.Now())
		return nil
	case "channel is not ready":
		s.stateMu.Lock()
		s.channelReady = false
		s.channelUntil = time.Now().Add(channelBackoff)
		s.stateMu.Unlock()
		s.logger.Debug("channel reported not ready, backing off", zap.Error(shared.ErrChannelNotReady))
		return nil
	case "kicked":
		return errors.New("kicked from channel")
	default:
		return fmt.Errorf("zello server error: %s", msg)
	}
}

func (s *Session) deliverStreamAck(streamID int32) {
	s.streamMu.Lock()
	ch := s.ackCh
	s.streamMu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- streamID:
	default:
	}
}

func (s *Session) handleBinary(data []byte) {
	payload, err := DecodeMediaFrame(data)
	if err != nil {
		s.logger.Warn("discarding malformed Zello media frame", zap.Error(err))
		return
	}
	pcm, err := s.codec.Decode(payload)
	if err != nil {
		s.logger.Error("decoding inbound Opus frame", err)
		return
	}
	s.zelloToUsrp.Write(pcm)
}

// runTX reads PCM awaiting transmission and manages the start_stream/
// stop_stream handshake around it.
func (s *Session) runTX(ctx context.Context) error {
	sending := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if !s.usrpPTT.IsSet() {
			if sending {
				s.endTX("usrp unkeyed")
				sending = false
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-waitForSet(ctx, s.usrpPTT):
			}
			continue
		}

		readCtx, cancel := context.WithTimeout(ctx, pcmReadTimeout)
		pcm, err := s.usrpToZello.ReadContext(readCtx, usrpToZelloReadBytes)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if sending {
				s.endTX("pcm read timeout")
				sending = false
			}
			continue
		}
		if len(pcm) == 0 || s.zelloPTT.IsSet() {
			continue
		}
		if !s.isLoggedIn() {
			s.logger.Debug("dropping USRP audio", zap.Error(shared.ErrNotLoggedIn))
			continue
		}
		if !s.canStartStream() {
			continue
		}
		if !sending {
			if err := s.startTX(ctx); err != nil {
				s.logger.Warn("start_stream failed", zap.Error(err))
				continue
			}
			sending = true
		}
		if err := s.sendMediaFrames(pcm); err != nil {
			s.logger.Error("sending Zello media frame", err)
		}
	}
}

func waitForSet(ctx context.Context, e *ptt.Event) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.WaitSet()
	}()
	return done
}

func (s *Session) canStartStream() bool {
	now := time.Now()
	if !s.isLoggedIn() || !s.isChannelReady() {
		return false
	}
	postLoginUntil, channelUntil, startRetryAt := s.gateTimestamps()
	if now.Before(postLoginUntil) {
		return false
	}
	if now.Before(channelUntil) {
		return false
	}
	if s.woodpecker.active(now) || s.emptyMsg.active(now) {
		return false
	}
	if now.Before(startRetryAt) {
		return false
	}
	s.authMu.Lock()
	inProgress := s.authInFlight
	s.authMu.Unlock()
	if inProgress {
		s.logger.Debug("deferring start_stream", zap.Error(shared.ErrAuthInProgress))
		return false
	}
	return true
}

func (s *Session) startTX(ctx context.Context) error {
	s.streamMu.Lock()
	s.txing = true
	ack := make(chan int32, 1)
	s.ackCh = ack
	s.streamMu.Unlock()

	seq := s.nextSeq()
	if err := s.sendJSON(NewStartStream(seq, s.cfg.Channel)); err != nil {
		s.streamMu.Lock()
		s.txing = false
		s.ackCh = nil
		s.streamMu.Unlock()
		return err
	}

	select {
	case streamID := <-ack:
		s.streamMu.Lock()
		s.streamID = streamID
		s.pktID = 0
		s.ackCh = nil
		s.streamMu.Unlock()
		return nil
	case <-time.After(streamStartTimeout):
		s.streamMu.Lock()
		s.streamID = 0
		s.txing = false
		s.ackCh = nil
		s.streamMu.Unlock()
		s.setStartRetryAt(time.Now().Add(startStreamRetry))
		return shared.ErrStartStreamTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) endTX(reason string) {
	s.endTXLocked(reason)
}

func (s *Session) endTXLocked(reason string) {
	s.streamMu.Lock()
	streamID := s.streamID
	wasTxing := s.txing
	s.txing = false
	s.streamID = 0
	s.pktID = 0
	s.streamMu.Unlock()
	if !wasTxing {
		return
	}
	seq := s.nextSeq()
	if err := s.sendJSON(NewStopStream(seq, s.cfg.Channel, streamID)); err != nil {
		s.logger.Warn("sending stop_stream", zap.String("reason", reason), zap.Error(err))
	}
}

func (s *Session) sendMediaFrames(pcm []byte) error {
	s.streamMu.Lock()
	streamID := s.streamID
	s.streamMu.Unlock()
	if streamID == 0 {
		return shared.ErrStreamNotReady
	}

	for off := 0; off+codec.FrameBytes <= len(pcm); off += codec.FrameBytes {
		opus, err := s.codec.Encode(pcm[off : off+codec.FrameBytes])
		if err != nil {
			return fmt.Errorf("Opus-encoding outbound frame: %w", err)
		}
		s.streamMu.Lock()
		pktID := s.pktID
		s.pktID = (s.pktID + 1) & 0x7FFFFFFF
		s.streamMu.Unlock()

		frame := EncodeMediaFrame(uint32(streamID), pktID, opus)
		if err := s.sendBinary(frame); err != nil {
			return err
		}
	}
	return nil
}

// MaybeRefreshAuth re-logs on with a freshly minted token when the
// token service reports the current one is nearing expiry. It refuses
// to run while a stream is in flight or another auth attempt hasn't
// resolved yet. It is driven by the bridge's periodic token monitor
// task and is a no-op for token.ModeWork, which mints fresh per logon
// and tracks no expiry.
func (s *Session) MaybeRefreshAuth(ctx context.Context) {
	if s.tokenSvc.Mode() != token.ModeFree {
		return
	}
	if !s.tokenSvc.NeedsRefresh(time.Now()) {
		return
	}
	s.streamMu.Lock()
	txing := s.txing
	s.streamMu.Unlock()
	if txing {
		return
	}

	s.authMu.Lock()
	if s.authInFlight {
		s.authMu.Unlock()
		return
	}
	s.authInFlight = true
	s.authMu.Unlock()

	authToken, err := s.tokenSvc.Mint()
	if err != nil {
		s.logger.Error("minting refreshed Zello auth token", err)
		s.authMu.Lock()
		s.authInFlight = false
		s.authMu.Unlock()
		return
	}
	seq := s.nextSeq()
	s.authMu.Lock()
	s.authSeq = seq
	s.authMu.Unlock()
	if err := s.sendJSON(NewLogon(seq, s.cfg.Username, s.cfg.Password, s.cfg.Channel, authToken, "")); err != nil {
		s.logger.Error("sending refreshed Zello logon", err)
		s.authMu.Lock()
		s.authInFlight = false
		s.authMu.Unlock()
		return
	}

	// Watchdog: clear auth_in_progress if no response arrives within
	// 8s, so a dropped response doesn't wedge refresh forever.
	go func() {
		select {
		case <-ctx.Done():
		case <-time.After(8 * time.Second):
			s.authMu.Lock()
			s.authInFlight = false
			s.authMu.Unlock()
			s.logger.Warn("auth refresh watchdog fired", zap.Error(shared.ErrAuthTimeout))
		}
	}()
}

// RunWithReconnect drives Run in a loop, sleeping between
// reconnectMin and reconnectMax on every disconnect, until ctx is
// cancelled.
func (s *Session) RunWithReconnect(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := s.Run(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("Zello session ended", zap.Error(err))
		}
		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay()):
		}
	}
}

// reconnectDelay picks a random delay in [reconnectMin, reconnectMax),
// spreading reconnect attempts so a server-side outage doesn't get
// hit by every client at once.
func reconnectDelay() time.Duration {
	span := reconnectMax - reconnectMin
	return reconnectMin + time.Duration(rand.Int63n(int64(span)))
}
