package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	defaultDialTimeout = 5 * time.Second
	writeTimeout       = 10 * time.Second
	subscriberBuffer   = 8
)

var (
	// ErrNoEndpoints は接続先が1つも得られない場合のエラー
	ErrNoEndpoints = errors.New("pubsub: 接続先がありません")
	// ErrSessionClosed はクローズ済みセッションへの操作で返る
	ErrSessionClosed = errors.New("pubsub: セッションはクローズされています")
	// ErrRejected はリレーが宣言を拒否した場合のエラー
	ErrRejected = errors.New("pubsub: リレーが宣言を拒否しました")
)

// SessionConfig はセッション確立の設定
type SessionConfig struct {
	// Discovery は接続先一覧を返すHTTPエンドポイント（任意）
	Discovery string
	// Endpoints は静的に指定するWebSocket URL
	Endpoints []string
	// DialTimeout は1接続先あたりのタイムアウト
	DialTimeout time.Duration
	// HTTPClient はディスカバリ用（nilなら http.DefaultClient）
	HTTPClient *http.Client
}

// discoveryDocument はディスカバリエンドポイントの応答
type discoveryDocument struct {
	Endpoints []string `json:"endpoints"`
}

// Session はリレーとの1本のWebSocket接続
type Session struct {
	id       string
	endpoint string
	conn     *websocket.Conn

	writeMu sync.Mutex

	mu     sync.Mutex
	subs   map[string][]*Subscriber
	acks   map[uint64]chan controlMessage
	nextID uint64

	closed    chan struct{}
	closeOnce sync.Once
	closing   atomic.Bool
	err       atomic.Value // error

	received uint64
}

// Open はディスカバリと静的設定の接続先を順に試し、最初に成功したものでセッションを開く
func Open(ctx context.Context, cfg SessionConfig) (*Session, error) {
	endpoints := make([]string, 0, len(cfg.Endpoints))
	if cfg.Discovery != "" {
		found, err := discover(ctx, cfg)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function":  "pubsub.Open",
				"discovery": cfg.Discovery,
				"error":     err,
			}).Warn("ディスカバリに失敗しました。静的な接続先を使います")
		}
		endpoints = append(endpoints, found...)
	}
	endpoints = append(endpoints, cfg.Endpoints...)
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}

	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}

	var errs []error
	for _, ep := range endpoints {
		dialCtx, cancel := context.WithTimeout(ctx, timeout)
		conn, _, err := dialer.DialContext(dialCtx, ep, nil)
		cancel()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ep, err))
			if ctx.Err() != nil {
				break
			}
			continue
		}

		s := newSession(conn, ep)
		logrus.WithFields(logrus.Fields{
			"function":   "pubsub.Open",
			"session_id": s.id,
			"endpoint":   ep,
		}).Info("セッションを開きました")
		return s, nil
	}

	return nil, fmt.Errorf("pubsub: セッションの確立に失敗: %w", errors.Join(errs...))
}

func discover(ctx context.Context, cfg SessionConfig) ([]string, error) {
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.Discovery, nil)
	if err != nil {
		return nil, err
	}
	res, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ディスカバリの応答が不正: %s", res.Status)
	}

	var doc discoveryDocument
	if err := json.NewDecoder(res.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("ディスカバリ応答のデコードに失敗: %w", err)
	}
	return doc.Endpoints, nil
}

func newSession(conn *websocket.Conn, endpoint string) *Session {
	s := &Session{
		id:       uuid.NewString(),
		endpoint: endpoint,
		conn:     conn,
		subs:     make(map[string][]*Subscriber),
		acks:     make(map[uint64]chan controlMessage),
		closed:   make(chan struct{}),
	}
	go s.readLoop()
	return s
}

// ID はセッションIDを返す
func (s *Session) ID() string {
	return s.id
}

// Endpoint は接続中のURLを返す
func (s *Session) Endpoint() string {
	return s.endpoint
}

// Done はセッション終了時にクローズされる
func (s *Session) Done() <-chan struct{} {
	return s.closed
}

// Err はセッションが終了した理由を返す
func (s *Session) Err() error {
	if v := s.err.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// DeclareSubscriber はキーの購読を宣言し、リレーの応答を待つ
func (s *Session) DeclareSubscriber(ctx context.Context, key string) (*Subscriber, error) {
	if key == "" {
		return nil, fmt.Errorf("pubsub: キーが空です")
	}

	sub := &Subscriber{
		key:     key,
		session: s,
		ch:      make(chan Sample, subscriberBuffer),
		done:    make(chan struct{}),
	}

	s.mu.Lock()
	s.subs[key] = append(s.subs[key], sub)
	s.mu.Unlock()

	if err := s.request(ctx, controlMessage{Op: opDeclareSubscriber, Key: key}); err != nil {
		s.removeSubscriber(sub)
		return nil, err
	}
	return sub, nil
}

// DeclarePublisher はキーへの発行者を作る
func (s *Session) DeclarePublisher(key string) (*Publisher, error) {
	if key == "" {
		return nil, fmt.Errorf("pubsub: キーが空です")
	}
	return &Publisher{key: key, session: s}, nil
}

// Close はセッションを閉じる
func (s *Session) Close() error {
	s.closing.Store(true)
	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	s.writeMu.Unlock()

	s.shutdown(ErrSessionClosed)
	return nil
}

func (s *Session) shutdown(err error) {
	if s.closing.Load() {
		err = ErrSessionClosed
	}
	s.closeOnce.Do(func() {
		s.err.Store(err)
		close(s.closed)
		_ = s.conn.Close()
	})
}

// request は制御メッセージを送り、ack かエラーを待つ
func (s *Session) request(ctx context.Context, msg controlMessage) error {
	s.mu.Lock()
	s.nextID++
	msg.ID = s.nextID
	reply := make(chan controlMessage, 1)
	s.acks[msg.ID] = reply
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.acks, msg.ID)
		s.mu.Unlock()
	}()

	if err := s.writeJSON(msg); err != nil {
		return err
	}

	select {
	case r := <-reply:
		if r.Op == opError {
			return fmt.Errorf("%w: %s", ErrRejected, r.Message)
		}
		return nil
	case <-s.closed:
		return fmt.Errorf("%w: %v", ErrSessionClosed, s.Err())
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) writeJSON(v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	select {
	case <-s.closed:
		return ErrSessionClosed
	default:
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("pubsub: 制御メッセージの送信に失敗: %w", err)
	}
	return nil
}

func (s *Session) writeBinary(ctx context.Context, b []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	select {
	case <-s.closed:
		return ErrSessionClosed
	default:
	}
	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = s.conn.SetWriteDeadline(deadline)
	if err := s.conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return fmt.Errorf("pubsub: サンプルの送信に失敗: %w", err)
	}
	return nil
}

// readLoop は受信したサンプルを購読者へ順番通りに渡す
func (s *Session) readLoop() {
	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.closed:
			default:
				logrus.WithFields(logrus.Fields{
					"function":   "Session.readLoop",
					"session_id": s.id,
					"error":      err,
				}).Warn("セッションの受信が終了しました")
			}
			s.shutdown(fmt.Errorf("pubsub: 受信エラー: %w", err))
			return
		}

		switch mt {
		case websocket.TextMessage:
			var msg controlMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			s.mu.Lock()
			reply, ok := s.acks[msg.ID]
			s.mu.Unlock()
			if ok {
				reply <- msg
			}

		case websocket.BinaryMessage:
			sample, err := DecodeSample(data)
			if err != nil {
				logrus.WithFields(logrus.Fields{
					"function":   "Session.readLoop",
					"session_id": s.id,
					"error":      err,
				}).Warn("不正なサンプルを破棄しました")
				continue
			}
			atomic.AddUint64(&s.received, 1)
			s.dispatch(sample)
		}
	}
}

func (s *Session) dispatch(sample Sample) {
	s.mu.Lock()
	subs := append([]*Subscriber(nil), s.subs[sample.Key]...)
	s.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.ch <- sample:
		case <-sub.done:
		case <-s.closed:
			return
		}
	}
}

func (s *Session) removeSubscriber(sub *Subscriber) (last bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.subs[sub.key]
	for i, x := range list {
		if x == sub {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(s.subs, sub.key)
		return true
	}
	s.subs[sub.key] = list
	return false
}

// Subscriber はキーの購読者
type Subscriber struct {
	key     string
	session *Session
	ch      chan Sample
	done    chan struct{}
	once    sync.Once
}

// Key は購読中のキー
func (sub *Subscriber) Key() string {
	return sub.key
}

// Recv は次のサンプルを待つ
func (sub *Subscriber) Recv(ctx context.Context) (Sample, error) {
	select {
	case sample := <-sub.ch:
		return sample, nil
	default:
	}

	select {
	case sample := <-sub.ch:
		return sample, nil
	case <-sub.done:
		return Sample{}, ErrSessionClosed
	case <-sub.session.closed:
		return Sample{}, fmt.Errorf("%w: %v", ErrSessionClosed, sub.session.Err())
	case <-ctx.Done():
		return Sample{}, ctx.Err()
	}
}

// Undeclare は購読を解除する
func (sub *Subscriber) Undeclare(ctx context.Context) error {
	var err error
	sub.once.Do(func() {
		close(sub.done)
		if sub.session.removeSubscriber(sub) {
			err = sub.session.request(ctx, controlMessage{Op: opUndeclareSubscriber, Key: sub.key})
		}
	})
	return err
}

// Publisher はキーへの発行者
type Publisher struct {
	key     string
	session *Session
}

// Put は生バイト列を octet-stream として発行する
func (p *Publisher) Put(ctx context.Context, payload []byte) error {
	return p.PutWithEncoding(ctx, payload, EncodingOctetStream)
}

// PutWithEncoding は任意のエンコーディングタグで発行する
func (p *Publisher) PutWithEncoding(ctx context.Context, payload []byte, encoding string) error {
	return p.session.writeBinary(ctx, EncodeSample(Sample{Key: p.key, Encoding: encoding, Payload: payload}))
}
