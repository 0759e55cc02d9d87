package accessory

import (
	"bytes"
	"io"
	"sync"
	"testing"
	"time"

	. "github.com/Krajiyah/glasslink/internal"
	"github.com/Krajiyah/glasslink/pkg/models"
	"github.com/Krajiyah/glasslink/pkg/platform"
	"github.com/Krajiyah/glasslink/pkg/reconnect"
	"github.com/pkg/errors"
	"gotest.tools/assert"
	is "gotest.tools/assert/cmp"
)

type recorder struct {
	mu           sync.Mutex
	states       []State
	connected    []string
	disconnected []string
	data         []byte
	chunks       []int
	errs         []error
}

func (r *recorder) OnConnected(a platform.Accessory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected = append(r.connected, a.SerialNumber)
}

func (r *recorder) OnDisconnected(a platform.Accessory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnected = append(r.disconnected, a.SerialNumber)
}

func (r *recorder) OnData(b []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = append(r.data, b...)
	r.chunks = append(r.chunks, len(b))
}

func (r *recorder) OnStateChanged(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recorder) OnError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recorder) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func (r *recorder) States() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

func (r *recorder) Connected() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.connected...)
}

func (r *recorder) Data() ([]byte, []int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]byte(nil), r.data...), append([]int(nil), r.chunks...)
}

func testOptions() Options {
	opts := DefaultOptions(TestProtocol)
	opts.ReconnectInterval = time.Minute
	return opts
}

func newManager(provider *FakeAccessoryProvider, store reconnect.Store, opts Options) (*Manager, *recorder) {
	m := NewManager(provider, store, opts)
	r := &recorder{}
	m.AddListener(r)
	return m, r
}

func waitState(t *testing.T, m *Manager, s State) {
	WaitUntil(t, "state "+s.String(), func() bool { return m.State() == s })
}

func waitError(t *testing.T, r *recorder, target error) {
	WaitUntil(t, "error "+target.Error(), func() bool {
		for _, err := range r.Errors() {
			if errors.Cause(err) == target {
				return true
			}
		}
		return false
	})
}

func TestStartMonitoringPrefersSavedSerial(t *testing.T) {
	provider := NewFakeAccessoryProvider(OtherAccessory, TestAccessory)
	store := reconnect.NewMemoryStore(reconnect.State{LastAccessorySerial: TestAccessory.SerialNumber})
	m, r := newManager(provider, store, testOptions())
	defer m.Close()

	m.StartMonitoring()
	assert.Equal(t, m.State(), Connected)
	assert.DeepEqual(t, provider.Opens(), []string{TestAccessory.SerialNumber})
	a, ok := m.Current()
	assert.Assert(t, ok)
	assert.Equal(t, a.SerialNumber, TestAccessory.SerialNumber)
	WaitUntil(t, "connected event", func() bool { return len(r.Connected()) == 1 })
	assert.DeepEqual(t, r.States(), []State{Connecting, Connected})
}

func TestStartMonitoringTakesFirstSupported(t *testing.T) {
	provider := NewFakeAccessoryProvider(ForeignAccessory, OtherAccessory)
	store := reconnect.NewMemoryStore(reconnect.State{})
	m, _ := newManager(provider, store, testOptions())
	defer m.Close()

	m.StartMonitoring()
	assert.Equal(t, m.State(), Connected)
	assert.Equal(t, m.SavedSerial(), OtherAccessory.SerialNumber)
	st, err := store.Load()
	assert.NilError(t, err)
	assert.Equal(t, st.LastAccessorySerial, OtherAccessory.SerialNumber)
	assert.Equal(t, provider.Watchers(), 1)

	m.StopMonitoring()
	assert.Equal(t, provider.Watchers(), 0)
}

func TestSupportedAccessories(t *testing.T) {
	provider := NewFakeAccessoryProvider(ForeignAccessory, TestAccessory, OtherAccessory)
	m, _ := newManager(provider, nil, testOptions())
	defer m.Close()

	supported := m.SupportedAccessories()
	assert.Assert(t, is.Len(supported, 2))
	assert.Equal(t, supported[0].SerialNumber, TestAccessory.SerialNumber)
}

func TestConnectFailures(t *testing.T) {
	cases := []struct {
		name  string
		setup func(*FakeAccessoryProvider)
		a     platform.Accessory
		want  error
	}{
		{"protocol", func(*FakeAccessoryProvider) {}, ForeignAccessory, models.ErrProtocolNotSupported},
		{"session", func(p *FakeAccessoryProvider) { p.FailOpen = errors.New("busy") }, TestAccessory, models.ErrSessionCreationFailed},
		{"stream", func(p *FakeAccessoryProvider) { p.NilStream = true }, TestAccessory, models.ErrStreamOpenFailed},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			provider := NewFakeAccessoryProvider(TestAccessory, ForeignAccessory)
			c.setup(provider)
			m, r := newManager(provider, nil, testOptions())
			defer m.Close()

			err := m.Connect(c.a)
			assert.Equal(t, errors.Cause(err), c.want)
			assert.Equal(t, m.State(), Disconnected)
			waitError(t, r, c.want)
		})
	}
}

func TestConnectToFirstAvailableWithNothingAttached(t *testing.T) {
	m, r := newManager(NewFakeAccessoryProvider(ForeignAccessory), nil, testOptions())
	defer m.Close()

	err := m.ConnectToFirstAvailable()
	assert.Equal(t, errors.Cause(err), models.ErrDeviceNotFound)
	waitError(t, r, models.ErrDeviceNotFound)
}

func TestSendAndReceive(t *testing.T) {
	provider := NewFakeAccessoryProvider(TestAccessory)
	m, r := newManager(provider, nil, testOptions())
	defer m.Close()

	assert.NilError(t, m.ConnectToFirstAvailable())
	remote := provider.Remote(TestAccessory.SerialNumber)

	assert.NilError(t, m.SendHex("AA C0 00 05"))
	got := make([]byte, 4)
	_, err := io.ReadFull(remote, got)
	assert.NilError(t, err)
	assert.DeepEqual(t, got, []byte{0xAA, 0xC0, 0x00, 0x05})

	assert.NilError(t, m.SendString("hi"))
	got = make([]byte, 2)
	_, err = io.ReadFull(remote, got)
	assert.NilError(t, err)
	assert.Equal(t, string(got), "hi")

	_, err = remote.Write([]byte{0x60, 0x0B})
	assert.NilError(t, err)
	WaitUntil(t, "data", func() bool {
		data, _ := r.Data()
		return len(data) == 2
	})
}

func TestReceiveChunksAreBounded(t *testing.T) {
	provider := NewFakeAccessoryProvider(TestAccessory)
	opts := testOptions()
	opts.ReceiveBufferSize = 4
	m, r := newManager(provider, nil, opts)
	defer m.Close()

	assert.NilError(t, m.Connect(TestAccessory))
	payload := []byte("0123456789")
	_, err := provider.Remote(TestAccessory.SerialNumber).Write(payload)
	assert.NilError(t, err)

	WaitUntil(t, "all data", func() bool {
		data, _ := r.Data()
		return len(data) == len(payload)
	})
	data, chunks := r.Data()
	assert.Assert(t, bytes.Equal(data, payload))
	for _, n := range chunks {
		assert.Assert(t, n <= 4)
	}
}

func TestSendValidation(t *testing.T) {
	m, r := newManager(NewFakeAccessoryProvider(TestAccessory), nil, testOptions())
	defer m.Close()

	assert.Equal(t, errors.Cause(m.Send([]byte{0x01})), models.ErrNotConnected)
	waitError(t, r, models.ErrNotConnected)
	assert.ErrorContains(t, m.Send(nil), "empty")
	assert.ErrorContains(t, m.SendHex("zz"), "parse hex")
	assert.ErrorContains(t, m.SendHex("  "), "no hex digits")
}

func TestParseHex(t *testing.T) {
	for in, want := range map[string][]byte{
		"FF 01 02 03": {0xFF, 0x01, 0x02, 0x03},
		"ff0102":      {0xFF, 0x01, 0x02},
		" aa\tc0 ":    {0xAA, 0xC0},
	} {
		got, err := ParseHex(in)
		assert.NilError(t, err, in)
		assert.DeepEqual(t, got, want)
	}
	_, err := ParseHex("ABC")
	assert.ErrorContains(t, err, "parse hex")
}

func TestDetachThenReattach(t *testing.T) {
	provider := NewFakeAccessoryProvider(TestAccessory)
	m, _ := newManager(provider, nil, testOptions())
	defer m.Close()

	m.StartMonitoring()
	assert.Equal(t, m.State(), Connected)

	provider.Detach(TestAccessory)
	waitState(t, m, Reconnecting)
	_, ok := m.Current()
	assert.Assert(t, !ok)

	// only the saved accessory is taken back
	provider.Attach(OtherAccessory)
	assert.Equal(t, m.State(), Reconnecting)

	provider.Attach(TestAccessory)
	waitState(t, m, Connected)
	assert.DeepEqual(t, provider.Opens(), []string{TestAccessory.SerialNumber, TestAccessory.SerialNumber})
}

func TestStreamEndReconnectsOnTimer(t *testing.T) {
	provider := NewFakeAccessoryProvider(TestAccessory)
	opts := testOptions()
	opts.ReconnectInterval = 10 * time.Millisecond
	m, _ := newManager(provider, nil, opts)
	defer m.Close()

	m.StartMonitoring()
	assert.NilError(t, provider.Remote(TestAccessory.SerialNumber).Close())

	WaitUntil(t, "second session", func() bool { return len(provider.Opens()) == 2 })
	waitState(t, m, Connected)
}

func TestReconnectGivesUp(t *testing.T) {
	provider := NewFakeAccessoryProvider(TestAccessory)
	opts := testOptions()
	opts.ReconnectInterval = 5 * time.Millisecond
	opts.MaxReconnectAttempts = 2
	m, r := newManager(provider, nil, opts)
	defer m.Close()

	m.StartMonitoring()
	provider.Detach(TestAccessory)

	waitError(t, r, models.ErrMaxReconnectAttemptsReached)
	assert.Equal(t, m.State(), Disconnected)
}

func TestNoReconnectWhenDisabled(t *testing.T) {
	provider := NewFakeAccessoryProvider(TestAccessory)
	opts := testOptions()
	opts.AutoReconnect = false
	m, _ := newManager(provider, nil, opts)
	defer m.Close()

	m.StartMonitoring()
	provider.Detach(TestAccessory)
	waitState(t, m, Disconnected)
}

func TestManualReconnect(t *testing.T) {
	provider := NewFakeAccessoryProvider(TestAccessory)
	m, r := newManager(provider, nil, testOptions())
	defer m.Close()

	m.AppDidBecomeActive()
	assert.Equal(t, m.State(), Connected)

	m.Disconnect()
	assert.Equal(t, m.State(), Disconnected)
	WaitUntil(t, "disconnected event", func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return len(r.disconnected) == 1
	})

	m.Reconnect()
	assert.Equal(t, m.State(), Connected)
	assert.Equal(t, len(provider.Opens()), 2)
}

func TestClearSavedAccessory(t *testing.T) {
	provider := NewFakeAccessoryProvider(TestAccessory)
	store := reconnect.NewMemoryStore(reconnect.State{Remembered: []models.PeripheralID{"kept"}})
	m, _ := newManager(provider, store, testOptions())
	defer m.Close()

	assert.NilError(t, m.Connect(TestAccessory))
	assert.Equal(t, m.SavedSerial(), TestAccessory.SerialNumber)

	m.ClearSavedAccessory()
	assert.Equal(t, m.SavedSerial(), "")
	st, err := store.Load()
	assert.NilError(t, err)
	assert.Equal(t, st.LastAccessorySerial, "")
	assert.DeepEqual(t, st.Remembered, []models.PeripheralID{"kept"})
}

func TestCloseDropsSession(t *testing.T) {
	provider := NewFakeAccessoryProvider(TestAccessory)
	m, _ := newManager(provider, nil, testOptions())

	assert.NilError(t, m.Connect(TestAccessory))
	remote := provider.Remote(TestAccessory.SerialNumber)
	m.Close()

	_, err := remote.Read(make([]byte, 1))
	assert.Equal(t, err, io.EOF)
	assert.Equal(t, errors.Cause(m.Send([]byte{1})), models.ErrNotConnected)
}
