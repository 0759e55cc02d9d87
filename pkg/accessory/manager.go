package accessory

import (
	"encoding/hex"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/Krajiyah/glasslink/pkg/models"
	"github.com/Krajiyah/glasslink/pkg/platform"
	"github.com/Krajiyah/glasslink/pkg/reconnect"
	"github.com/Krajiyah/glasslink/pkg/util"
	"github.com/pkg/errors"
)

// State is the session state of a Manager
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	return []string{"Disconnected", "Connecting", "Connected", "Reconnecting"}[s]
}

// Listener receives Manager events. Embed BaseListener to pick callbacks.
type Listener interface {
	OnConnected(platform.Accessory)
	OnDisconnected(platform.Accessory)
	OnData([]byte)
	OnStateChanged(State)
	OnError(error)
}

type BaseListener struct{}

func (BaseListener) OnConnected(platform.Accessory)    {}
func (BaseListener) OnDisconnected(platform.Accessory) {}
func (BaseListener) OnData([]byte)                     {}
func (BaseListener) OnStateChanged(State)              {}
func (BaseListener) OnError(error)                     {}

// Options tune a Manager
type Options struct {
	// Protocol is the accessory protocol sessions are opened for
	Protocol string
	// AutoReconnect restarts the session after the accessory detaches or ends the stream
	AutoReconnect bool
	// ReconnectInterval is the fixed period between reconnect attempts
	ReconnectInterval time.Duration
	// MaxReconnectAttempts bounds reconnect attempts, 0 never gives up
	MaxReconnectAttempts int
	// ReceiveBufferSize caps the size of each delivered chunk
	ReceiveBufferSize int
}

func DefaultOptions(protocol string) Options {
	return Options{
		Protocol:             protocol,
		AutoReconnect:        true,
		ReconnectInterval:    util.AccessoryReconnectInterval,
		MaxReconnectAttempts: util.AccessoryMaxReconnectAttempts,
		ReceiveBufferSize:    util.AccessoryReceiveBufferSize,
	}
}

// session is one open stream with its writer
type session struct {
	stream platform.Session
	writer *util.Mailbox
	quit   chan struct{}
}

// Manager keeps one stream session to an external accessory and restores
// it after detach. Like the connector, all state is owned by one goroutine
// and listeners are called from another.
type Manager struct {
	provider platform.AccessoryProvider
	store    reconnect.Store
	opts     Options
	logger   util.Logger
	retrier  *reconnect.Retrier

	box      *util.Mailbox
	dispatch *util.Mailbox
	quit     chan struct{}
	done     chan struct{}
	once     sync.Once

	listenersMu sync.RWMutex
	listeners   []Listener

	// owned by the loop
	state      State
	current    *platform.Accessory
	sess       *session
	target     string
	unwatch    func()
	monitoring bool
}

// NewManager starts the manager loop. store keeps the last connected serial
// and may be nil.
func NewManager(provider platform.AccessoryProvider, store reconnect.Store, opts Options) *Manager {
	if opts.ReceiveBufferSize <= 0 {
		opts.ReceiveBufferSize = util.AccessoryReceiveBufferSize
	}
	m := &Manager{
		provider: provider,
		store:    store,
		opts:     opts,
		logger:   util.ComponentLogger("accessory").ChildLogger(map[string]interface{}{"protocol": opts.Protocol}),
		retrier:  reconnect.NewRetrier(opts.ReconnectInterval, opts.MaxReconnectAttempts),
		box:      util.NewMailbox(),
		dispatch: util.NewMailbox(),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go func() {
		defer close(m.done)
		m.box.Run(m.quit)
	}()
	go m.dispatch.Run(m.quit)
	return m
}

func (m *Manager) do(fn func()) bool {
	fin := make(chan struct{})
	m.box.Post(func() {
		fn()
		close(fin)
	})
	select {
	case <-fin:
		return true
	case <-m.done:
		return false
	}
}

func (m *Manager) AddListener(l Listener) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.listeners = append(m.listeners, l)
}

func (m *Manager) RemoveListener(l Listener) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	for i, o := range m.listeners {
		if o == l {
			m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
			return
		}
	}
}

func (m *Manager) emit(fn func(Listener)) {
	m.dispatch.Post(func() {
		m.listenersMu.RLock()
		ls := append([]Listener(nil), m.listeners...)
		m.listenersMu.RUnlock()
		for _, l := range ls {
			fn(l)
		}
	})
}

func (m *Manager) emitError(err error) {
	m.logger.Error(err)
	m.emit(func(l Listener) { l.OnError(err) })
}

func (m *Manager) setState(s State) {
	if m.state == s {
		return
	}
	m.logger.Debugf("state %s -> %s", m.state, s)
	m.state = s
	m.emit(func(l Listener) { l.OnStateChanged(s) })
}

// StartMonitoring watches attach and detach events and connects the saved
// accessory, or the first supported one, if it is already attached
func (m *Manager) StartMonitoring() {
	m.do(func() {
		if m.monitoring {
			return
		}
		m.monitoring = true
		m.unwatch = m.provider.Watch(func(ev platform.AccessoryEvent) {
			m.box.Post(func() { m.onEvent(ev) })
		})
		m.target = m.loadSerial()
		if a, ok := m.pick(); ok {
			m.connect(a)
		}
	})
}

// StopMonitoring stops watching events and cancels a pending reconnect
func (m *Manager) StopMonitoring() {
	m.do(m.stopMonitoring)
}

func (m *Manager) stopMonitoring() {
	if !m.monitoring {
		return
	}
	m.monitoring = false
	m.unwatch()
	m.unwatch = nil
	m.retrier.Stop()
}

// Close stops monitoring, drops the session and stops the loop
func (m *Manager) Close() {
	m.once.Do(func() {
		m.do(func() {
			m.stopMonitoring()
			m.disconnect()
		})
		close(m.quit)
		<-m.done
	})
}

// SupportedAccessories lists attached accessories declaring the protocol
func (m *Manager) SupportedAccessories() []platform.Accessory {
	ret := []platform.Accessory{}
	for _, a := range m.provider.Accessories() {
		if a.Supports(m.opts.Protocol) {
			ret = append(ret, a)
		}
	}
	return ret
}

// pick prefers the saved serial over the first supported accessory
func (m *Manager) pick() (platform.Accessory, bool) {
	supported := m.SupportedAccessories()
	if m.target != "" {
		for _, a := range supported {
			if a.SerialNumber == m.target {
				return a, true
			}
		}
	}
	if len(supported) == 0 {
		return platform.Accessory{}, false
	}
	return supported[0], true
}

// Connect opens a session to a, replacing any open one
func (m *Manager) Connect(a platform.Accessory) error {
	var err error
	if !m.do(func() { err = m.connect(a) }) {
		return errors.Wrap(models.ErrNotConnected, "manager closed")
	}
	return err
}

// ConnectToFirstAvailable connects the first attached accessory declaring the protocol
func (m *Manager) ConnectToFirstAvailable() error {
	var err error
	ok := m.do(func() {
		supported := m.SupportedAccessories()
		if len(supported) == 0 {
			err = errors.Wrapf(models.ErrDeviceNotFound, "no accessory declares %s", m.opts.Protocol)
			m.emitError(err)
			return
		}
		err = m.connect(supported[0])
	})
	if !ok {
		return errors.Wrap(models.ErrNotConnected, "manager closed")
	}
	return err
}

func (m *Manager) connect(a platform.Accessory) error {
	if !a.Supports(m.opts.Protocol) {
		err := errors.Wrapf(models.ErrProtocolNotSupported, "%s does not declare %s", a.SerialNumber, m.opts.Protocol)
		m.emitError(err)
		return err
	}
	if m.sess != nil {
		m.disconnect()
	}
	m.setState(Connecting)

	stream, err := m.provider.OpenSession(a, m.opts.Protocol)
	if err != nil {
		m.setState(Disconnected)
		err = errors.Wrap(models.ErrSessionCreationFailed, err.Error())
		m.emitError(err)
		return err
	}
	if stream == nil {
		m.setState(Disconnected)
		err = errors.Wrapf(models.ErrStreamOpenFailed, "%s", a.SerialNumber)
		m.emitError(err)
		return err
	}

	s := &session{stream: stream, writer: util.NewMailbox(), quit: make(chan struct{})}
	m.sess = s
	m.current = &a
	go s.writer.Run(s.quit)
	go m.read(s)

	m.target = a.SerialNumber
	m.saveSerial(a.SerialNumber)
	m.retrier.Reset()

	m.logger.Infof("connected %s", a)
	m.setState(Connected)
	m.emit(func(l Listener) { l.OnConnected(a) })
	return nil
}

// read delivers inbound bytes in chunks of at most ReceiveBufferSize
func (m *Manager) read(s *session) {
	buf := make([]byte, m.opts.ReceiveBufferSize)
	for {
		n, err := s.stream.Read(buf)
		if n > 0 {
			data := append([]byte(nil), buf[:n]...)
			m.box.Post(func() {
				if m.sess == s {
					m.emit(func(l Listener) { l.OnData(data) })
				}
			})
		}
		if err != nil {
			m.box.Post(func() { m.onStreamEnd(s, err) })
			return
		}
	}
}

func (m *Manager) onStreamEnd(s *session, err error) {
	if m.sess != s {
		return
	}
	if err != io.EOF {
		m.emitError(errors.Wrap(models.ErrReadFailed, err.Error()))
	} else {
		m.logger.Info("stream ended")
	}
	m.disconnect()
	m.startReconnect()
}

// Disconnect closes the session and cancels a pending reconnect
func (m *Manager) Disconnect() {
	m.do(func() {
		m.retrier.Stop()
		m.disconnect()
	})
}

func (m *Manager) disconnect() {
	if s := m.sess; s != nil {
		m.sess = nil
		close(s.quit)
		if err := s.stream.Close(); err != nil {
			m.logger.Warnf("close session: %s", err)
		}
	}
	a := m.current
	m.current = nil
	m.setState(Disconnected)
	if a != nil {
		m.logger.Infof("disconnected %s", a.SerialNumber)
		acc := *a
		m.emit(func(l Listener) { l.OnDisconnected(acc) })
	}
}

// Send queues data on the session writer
func (m *Manager) Send(data []byte) error {
	if len(data) == 0 {
		return errors.New("empty data to send")
	}
	var err error
	ok := m.do(func() {
		if m.state != Connected || m.sess == nil {
			err = errors.Wrap(models.ErrNotConnected, "send")
			m.emitError(err)
			return
		}
		s := m.sess
		buf := append([]byte(nil), data...)
		s.writer.Post(func() {
			if _, werr := s.stream.Write(buf); werr != nil {
				m.box.Post(func() {
					if m.sess == s {
						m.emitError(errors.Wrap(models.ErrWriteFailed, werr.Error()))
					}
				})
			}
		})
	})
	if !ok {
		return errors.Wrap(models.ErrNotConnected, "manager closed")
	}
	return err
}

// SendString sends s as utf-8
func (m *Manager) SendString(s string) error {
	return m.Send([]byte(s))
}

// SendHex sends a hex string such as "FF 01 02 03"
func (m *Manager) SendHex(s string) error {
	data, err := ParseHex(s)
	if err != nil {
		return err
	}
	return m.Send(data)
}

// ParseHex decodes hex digits, ignoring whitespace
func ParseHex(s string) ([]byte, error) {
	data, err := hex.DecodeString(strings.Join(strings.Fields(s), ""))
	if err != nil {
		return nil, errors.Wrapf(err, "parse hex %q", s)
	}
	if len(data) == 0 {
		return nil, errors.New("no hex digits")
	}
	return data, nil
}

// Reconnect tries the saved accessory right away unless connected
func (m *Manager) Reconnect() {
	m.do(m.reconnectNow)
}

// AppDidBecomeActive reconnects when the app returns to the foreground disconnected
func (m *Manager) AppDidBecomeActive() {
	m.do(m.reconnectNow)
}

func (m *Manager) reconnectNow() {
	if m.state == Connected {
		return
	}
	if a, ok := m.pick(); ok && m.connect(a) == nil {
		return
	}
	if m.state != Reconnecting {
		m.startReconnect()
	}
}

// ClearSavedAccessory forgets the last connected serial
func (m *Manager) ClearSavedAccessory() {
	m.do(func() {
		m.target = ""
		m.saveSerial("")
	})
}

func (m *Manager) startReconnect() {
	if !m.opts.AutoReconnect || !m.monitoring {
		return
	}
	m.setState(Reconnecting)
	m.scheduleAttempt()
}

func (m *Manager) scheduleAttempt() {
	err := m.retrier.Schedule(func(n int) {
		m.box.Post(func() { m.onAttempt(n) })
	})
	if err != nil {
		m.setState(Disconnected)
		m.emitError(err)
	}
}

func (m *Manager) onAttempt(n int) {
	if m.state != Reconnecting {
		return
	}
	m.logger.Infof("reconnect attempt %d", n)
	if a, ok := m.pick(); ok && m.connect(a) == nil {
		return
	}
	m.setState(Reconnecting)
	m.scheduleAttempt()
}

func (m *Manager) onEvent(ev platform.AccessoryEvent) {
	a := ev.Accessory
	switch ev.Kind {
	case platform.AccessoryAttached:
		if !a.Supports(m.opts.Protocol) || m.state == Connected {
			return
		}
		if m.target != "" && a.SerialNumber != m.target {
			m.logger.Debugf("ignoring %s, waiting for %s", a.SerialNumber, m.target)
			return
		}
		m.retrier.Reset()
		m.connect(a)
	case platform.AccessoryDetached:
		if m.current == nil || m.current.SerialNumber != a.SerialNumber {
			return
		}
		m.disconnect()
		m.startReconnect()
	}
}

func (m *Manager) State() State {
	var s State
	m.do(func() { s = m.state })
	return s
}

// Current returns the connected accessory
func (m *Manager) Current() (platform.Accessory, bool) {
	var (
		a  platform.Accessory
		ok bool
	)
	m.do(func() {
		if m.current != nil {
			a, ok = *m.current, true
		}
	})
	return a, ok
}

// SavedSerial is the serial reconnects prefer
func (m *Manager) SavedSerial() string {
	var s string
	m.do(func() { s = m.target })
	return s
}

func (m *Manager) loadSerial() string {
	if m.store == nil {
		return m.target
	}
	st, err := m.store.Load()
	if err != nil {
		m.logger.Errorf("load saved accessory: %s", err)
		return m.target
	}
	return st.LastAccessorySerial
}

func (m *Manager) saveSerial(serial string) {
	if m.store == nil {
		return
	}
	st, err := m.store.Load()
	if err == nil {
		st.LastAccessorySerial = serial
		err = m.store.Save(st)
	}
	if err != nil {
		m.logger.Errorf("save accessory serial: %s", err)
	}
}
