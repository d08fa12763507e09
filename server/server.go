package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"coda/data"
	"coda/pipeline"

	"github.com/tidwall/redcon"
	"go.uber.org/zap"
)

var (
	ErrConnNotFound  = errors.New("connection not found")
	ErrServerClosed  = errors.New("server is closed")
	ErrServerStarted = errors.New("server already started")
)

// Config 网络层配置
type Config struct {
	Addr string `yaml:"addr"`
}

var DefaultConfig = Config{
	Addr: "127.0.0.1:9092",
}

// Publisher 接收网络层解析出来的请求, 一般为 pipeline.Pipeline
type Publisher interface {
	Publish(ctx context.Context, ev pipeline.RequestEvent) error
}

// Server 基于 redcon 的网络层
// 连接被 detach 之后由每个连接自己的 goroutine 读取命令, 响应通过 AttachForWrite 挂到连接上, WakeUp 之后由写 goroutine 统一写出
// 每个连接同时只有一个请求在流水线中, 响应写出之后才读取下一条命令, 所以同一个连接上的回复和命令顺序一致
type Server struct {
	config   Config
	server   *redcon.Server
	logger   *zap.Logger
	mu       sync.RWMutex
	sessions map[string]*session
	ready    map[string]*session // 有待写出响应的连接
	nextID   atomic.Uint64
	wake     chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	started  atomic.Bool
	closed   atomic.Bool

	publisher Publisher
}

type session struct {
	id      string
	conn    redcon.DetachedConn
	replied chan struct{} // 流水线的响应写出之后通知读 goroutine
	mu      sync.Mutex    // 保护 conn 的写入和关闭
	pending [][]byte
	closed  bool
}

// New 初始化网络层, 调用 Serve 之后开始监听
func New(config Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:   config,
		logger:   logger.Named("server"),
		sessions: make(map[string]*session),
		ready:    make(map[string]*session),
		wake:     make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}
	s.server = redcon.NewServerNetwork("tcp", config.Addr, s.handle, s.accept, nil)
	return s
}

// Serve 监听并处理连接, 阻塞到 Close 被调用
// signal 不为空时, 开始监听或者监听失败后会收到通知
func (s *Server) Serve(publisher Publisher, signal chan error) error {
	if s.closed.Load() {
		return ErrServerClosed
	}
	if !s.started.CompareAndSwap(false, true) {
		return ErrServerStarted
	}
	s.publisher = publisher

	s.wg.Add(1)
	go s.writeLoop()

	s.logger.Info("coda server running, ready to accept connections", zap.String("addr", s.config.Addr))
	err := s.server.ListenServeAndSignal(signal)
	if s.closed.Load() {
		return nil
	}
	return err
}

// Addr 实际监听的地址
func (s *Server) Addr() net.Addr {
	return s.server.Addr()
}

// AttachForWrite 把响应挂到连接上, 等待 WakeUp 之后写出
func (s *Server) AttachForWrite(connID string, buf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[connID]
	if !ok {
		return ErrConnNotFound
	}
	sess.mu.Lock()
	sess.pending = append(sess.pending, buf)
	sess.mu.Unlock()
	s.ready[connID] = sess
	return nil
}

// WakeUp 通知写 goroutine 处理已经挂上的响应
func (s *Server) WakeUp() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Close 停止接受新连接, 关闭所有连接并等待后台 goroutine 退出
func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.cancel()
	var err error
	if s.started.Load() {
		err = s.server.Close()
	}

	s.mu.Lock()
	for _, sess := range s.sessions {
		sess.close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("coda server closed")
	return err
}

func (s *Server) accept(conn redcon.Conn) bool {
	return !s.closed.Load()
}

func (s *Server) handle(conn redcon.Conn, cmd redcon.Command) {
	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		conn.WriteError("ERR server is closed")
		_ = conn.Close()
		return
	}
	sess := &session{
		id:      fmt.Sprintf("%s#%d", conn.RemoteAddr(), s.nextID.Add(1)),
		conn:    conn.Detach(),
		replied: make(chan struct{}, 1),
	}
	s.sessions[sess.id] = sess
	s.wg.Add(1)
	s.mu.Unlock()

	go s.serve(sess, cmd)
}

// 读取连接上的命令, 直到连接关闭
func (s *Server) serve(sess *session, cmd redcon.Command) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.sessions, sess.id)
		delete(s.ready, sess.id)
		s.mu.Unlock()
		sess.close()
	}()

	for {
		if !s.dispatch(sess, cmd) {
			return
		}
		var err error
		if cmd, err = sess.conn.ReadCommand(); err != nil {
			return
		}
	}
}

// 处理一条命令, 返回 false 表示需要关闭连接
func (s *Server) dispatch(sess *session, cmd redcon.Command) bool {
	name := strings.ToLower(string(cmd.Args[0]))
	switch name {
	case "ping":
		sess.write(func(conn redcon.DetachedConn) { conn.WriteString("PONG") })
		return true
	case "quit":
		sess.write(func(conn redcon.DetachedConn) { conn.WriteString("OK") })
		return false
	}

	apiKey, ok := apiKeys[name]
	if !ok {
		sess.write(func(conn redcon.DetachedConn) {
			conn.WriteError("ERR unknown command '" + string(cmd.Args[0]) + "'")
		})
		return true
	}
	if len(cmd.Args) != 3 {
		sess.write(func(conn redcon.DetachedConn) {
			conn.WriteError("ERR wrong number of arguments for '" + name + "' command")
		})
		return true
	}
	version, err := strconv.ParseInt(string(cmd.Args[1]), 10, 16)
	if err != nil {
		sess.write(func(conn redcon.DetachedConn) { conn.WriteError("ERR invalid api version") })
		return true
	}

	ev := pipeline.RequestEvent{
		ConnID:     sess.id,
		APIKey:     apiKey,
		APIVersion: int16(version),
		Payload:    append([]byte(nil), cmd.Args[2]...),
	}
	if err := s.publisher.Publish(s.ctx, ev); err != nil {
		s.logger.Warn("failed to publish request", zap.String("conn", sess.id), zap.Error(err))
		sess.write(func(conn redcon.DetachedConn) { conn.WriteError("ERR " + err.Error()) })
		return false
	}

	// 等这个请求的响应写出之后再读下一条命令
	select {
	case <-sess.replied:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// 等待 WakeUp, 把挂在连接上的响应写出
func (s *Server) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.wake:
		}

		s.mu.Lock()
		ready := s.ready
		s.ready = make(map[string]*session)
		s.mu.Unlock()

		for _, sess := range ready {
			if err := sess.flush(); err != nil {
				s.logger.Warn("failed to write responses", zap.String("conn", sess.id), zap.Error(err))
			}
		}
	}
}

func (sess *session) flush() error {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed {
		sess.pending = nil
		return nil
	}
	n := len(sess.pending)
	for _, buf := range sess.pending {
		sess.conn.WriteBulk(buf)
	}
	sess.pending = nil
	err := sess.conn.Flush()
	if n > 0 {
		select {
		case sess.replied <- struct{}{}:
		default:
		}
	}
	return err
}

func (sess *session) write(fn func(conn redcon.DetachedConn)) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed {
		return
	}
	fn(sess.conn)
	_ = sess.conn.Flush()
}

// 关闭连接, redcon 关闭时会 flush 写缓冲, 必须和写入互斥
func (sess *session) close() {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed {
		return
	}
	sess.closed = true
	_ = sess.conn.Close()
}

// 命令名称到 API key 的映射
var apiKeys = map[string]int16{
	data.APIName(data.APIKeyProduce):     data.APIKeyProduce,
	data.APIName(data.APIKeyFetch):       data.APIKeyFetch,
	data.APIName(data.APIKeyListOffsets): data.APIKeyListOffsets,
	data.APIName(data.APIKeyMetadata):    data.APIKeyMetadata,
}
