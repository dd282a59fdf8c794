package pubsub

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	peerOutbox   = 32
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
)

// Relay は接続中のピア間でサンプルを中継する
//
// 同じピアから届いたサンプルは届いた順番通りに各購読者へ渡す。
// 購読者の送信キューが詰まっている場合は空くまで待つ。
type Relay struct {
	upgrader websocket.Upgrader

	mu     sync.RWMutex
	peers  map[string]*peer
	closed bool

	published uint64
	delivered uint64
}

// PeerInfo は /pubsub/peers で返すピア情報
type PeerInfo struct {
	ID          string    `json:"id"`
	RemoteAddr  string    `json:"remote_addr"`
	ConnectedAt time.Time `json:"connected_at"`
	Keys        []string  `json:"keys"`
}

// RelayStats はリレーの統計情報
type RelayStats struct {
	Peers     int    `json:"peers"`
	Published uint64 `json:"published"`
	Delivered uint64 `json:"delivered"`
}

type peer struct {
	id          string
	remoteAddr  string
	connectedAt time.Time
	conn        *websocket.Conn

	out  chan outbound
	done chan struct{}
	once sync.Once

	mu   sync.RWMutex
	keys map[string]struct{}
}

type outbound struct {
	messageType int
	data        []byte
}

// NewRelay は新しいRelayを作成する
func NewRelay() *Relay {
	return &Relay{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		peers: make(map[string]*peer),
	}
}

// Handler はWebSocketへアップグレードしてピアを登録する
func (r *Relay) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		r.mu.RLock()
		closed := r.closed
		r.mu.RUnlock()
		if closed {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "relay closed"})
			return
		}

		conn, err := r.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Relay.Handler",
				"remote":   c.Request.RemoteAddr,
				"error":    err,
			}).Warn("WebSocketへのアップグレードに失敗しました")
			return
		}

		p := &peer{
			id:          uuid.NewString(),
			remoteAddr:  c.Request.RemoteAddr,
			connectedAt: time.Now(),
			conn:        conn,
			out:         make(chan outbound, peerOutbox),
			done:        make(chan struct{}),
			keys:        make(map[string]struct{}),
		}

		r.mu.Lock()
		r.peers[p.id] = p
		r.mu.Unlock()

		logrus.WithFields(logrus.Fields{
			"function": "Relay.Handler",
			"peer_id":  p.id,
			"remote":   p.remoteAddr,
		}).Info("ピアが接続しました")

		go p.writeLoop()
		r.readLoop(p)
	}
}

// PeersHandler は接続中のピア一覧を返す
func (r *Relay) PeersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"peers": r.Peers()})
	}
}

// DiscoveryHandler はこのリレーの接続先を Open の Discovery 形式で返す
// path は Handler をマウントしたパス。
func (r *Relay) DiscoveryHandler(path string) gin.HandlerFunc {
	return func(c *gin.Context) {
		scheme := "ws"
		if c.Request.TLS != nil {
			scheme = "wss"
		}
		c.JSON(http.StatusOK, discoveryDocument{
			Endpoints: []string{scheme + "://" + c.Request.Host + path},
		})
	}
}

// Peers は接続中のピア一覧を接続順で返す
func (r *Relay) Peers() []PeerInfo {
	r.mu.RLock()
	infos := make([]PeerInfo, 0, len(r.peers))
	for _, p := range r.peers {
		infos = append(infos, PeerInfo{
			ID:          p.id,
			RemoteAddr:  p.remoteAddr,
			ConnectedAt: p.connectedAt,
			Keys:        p.subscribedKeys(),
		})
	}
	r.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ConnectedAt.Before(infos[j].ConnectedAt)
	})
	return infos
}

// Stats は統計のスナップショットを返す
func (r *Relay) Stats() RelayStats {
	r.mu.RLock()
	n := len(r.peers)
	r.mu.RUnlock()
	return RelayStats{
		Peers:     n,
		Published: atomic.LoadUint64(&r.published),
		Delivered: atomic.LoadUint64(&r.delivered),
	}
}

// Close は全ピアを切断し、以降の接続を拒否する
func (r *Relay) Close() error {
	r.mu.Lock()
	r.closed = true
	peers := make([]*peer, 0, len(r.peers))
	for _, p := range r.peers {
		peers = append(peers, p)
	}
	r.mu.Unlock()

	for _, p := range peers {
		p.close()
	}
	return nil
}

func (r *Relay) readLoop(p *peer) {
	defer func() {
		r.mu.Lock()
		delete(r.peers, p.id)
		r.mu.Unlock()
		p.close()

		logrus.WithFields(logrus.Fields{
			"function": "Relay.readLoop",
			"peer_id":  p.id,
		}).Info("ピアが切断しました")
	}()

	_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		mt, data, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))

		switch mt {
		case websocket.TextMessage:
			r.handleControl(p, data)
		case websocket.BinaryMessage:
			r.forward(p, data)
		}
	}
}

func (r *Relay) handleControl(p *peer, data []byte) {
	var msg controlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		p.reply(controlMessage{Op: opError, Message: "不正な制御メッセージ"})
		return
	}

	switch msg.Op {
	case opDeclareSubscriber:
		if msg.Key == "" {
			p.reply(controlMessage{Op: opError, ID: msg.ID, Message: "キーが空です"})
			return
		}
		p.mu.Lock()
		p.keys[msg.Key] = struct{}{}
		p.mu.Unlock()
		p.reply(controlMessage{Op: opAck, ID: msg.ID, Key: msg.Key})

	case opUndeclareSubscriber:
		p.mu.Lock()
		delete(p.keys, msg.Key)
		p.mu.Unlock()
		p.reply(controlMessage{Op: opAck, ID: msg.ID, Key: msg.Key})

	default:
		p.reply(controlMessage{Op: opError, ID: msg.ID, Message: "未対応の操作: " + msg.Op})
	}
}

// forward はサンプルをそのまま購読者へ送る（再エンコードしない）
func (r *Relay) forward(from *peer, data []byte) {
	key, err := decodeKey(data)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Relay.forward",
			"peer_id":  from.id,
		}).Warn("不正なサンプルを破棄しました")
		return
	}
	atomic.AddUint64(&r.published, 1)

	r.mu.RLock()
	targets := make([]*peer, 0, len(r.peers))
	for _, p := range r.peers {
		if p != from && p.subscribed(key) {
			targets = append(targets, p)
		}
	}
	r.mu.RUnlock()

	for _, p := range targets {
		if p.send(outbound{messageType: websocket.BinaryMessage, data: data}) {
			atomic.AddUint64(&r.delivered, 1)
		}
	}
}

func (p *peer) subscribed(key string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.keys[key]
	return ok
}

func (p *peer) subscribedKeys() []string {
	p.mu.RLock()
	keys := make([]string, 0, len(p.keys))
	for k := range p.keys {
		keys = append(keys, k)
	}
	p.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

func (p *peer) reply(msg controlMessage) {
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	p.send(outbound{messageType: websocket.TextMessage, data: b})
}

// send は送信キューが空くまで待つ。切断済みなら false
func (p *peer) send(m outbound) bool {
	select {
	case p.out <- m:
		return true
	case <-p.done:
		return false
	}
}

func (p *peer) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case m := <-p.out:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := p.conn.WriteMessage(m.messageType, m.data); err != nil {
				p.close()
				return
			}
		case <-ticker.C:
			if err := p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				p.close()
				return
			}
		case <-p.done:
			return
		}
	}
}

func (p *peer) close() {
	p.once.Do(func() {
		close(p.done)
		_ = p.conn.Close()
	})
}
