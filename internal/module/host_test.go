package module

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"

	"dmxeffects/internal/dmx"
	"dmxeffects/internal/logger"
	"github.com/sirupsen/logrus/hooks/test"
)

func newTestLogger() *logger.Log {
	l, _ := test.NewNullLogger()
	return logger.New(l)
}

type cueRecorder struct {
	mu   sync.Mutex
	cues []Cue
}

func (r *cueRecorder) PublishCue(c Cue) {
	r.mu.Lock()
	r.cues = append(r.cues, c)
	r.mu.Unlock()
}

func (r *cueRecorder) all() []Cue {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Cue(nil), r.cues...)
}

func soundModule(t *testing.T, sink CueSink) *CueModule {
	t.Helper()
	m, err := NewCueModule(newTestLogger(), ModuleConf{
		Name: "Sound Module",
		Channels: []ChannelConf{
			{Cues: map[int]string{10: "start-playback", 20: "stop-playback"}},
			{Cues: map[int]string{255: "fade-out"}},
		},
	}, sink)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestHostRoutesValuesToControlChannels(t *testing.T) {
	u := dmx.NewUniverse(newTestLogger(), nil)
	h := NewHost(newTestLogger(), u)
	defer h.Close()
	rec := &cueRecorder{}

	if err := h.Register(context.Background(), soundModule(t, rec), 100); err != nil {
		t.Fatal(err)
	}
	for ch, want := range map[int]string{100: "Sound Module", 101: "Sound Module", 102: ""} {
		if got, _ := u.Association(ch); got != want {
			t.Errorf("Association(%d) = %q, want %q", ch, got, want)
		}
	}

	_ = u.SetValue(100, 10)  // start-playback
	_ = u.SetValue(100, 11)  // unbound
	_ = u.SetValue(101, 10)  // unbound on channel 2
	_ = u.SetValue(101, 255) // fade-out
	_ = u.SetValue(99, 10)   // not assigned

	want := []Cue{
		{Module: "Sound Module", Channel: 1, Name: "start-playback", Value: 10},
		{Module: "Sound Module", Channel: 2, Name: "fade-out", Value: 255},
	}
	if got := rec.all(); !reflect.DeepEqual(got, want) {
		t.Errorf("cues = %+v, want %+v", got, want)
	}
	if first, ok := h.FirstChannel("Sound Module"); !ok || first != 100 {
		t.Errorf("FirstChannel = %d, %v", first, ok)
	}
}

func TestHostStopsRoutingAfterRemoval(t *testing.T) {
	u := dmx.NewUniverse(newTestLogger(), nil)
	h := NewHost(newTestLogger(), u)
	defer h.Close()
	rec := &cueRecorder{}
	ctx := context.Background()

	if err := h.Register(ctx, soundModule(t, rec), 1); err != nil {
		t.Fatal(err)
	}
	if err := u.RemoveAssociation(ctx, 1, 1); err != nil {
		t.Fatal(err)
	}
	_ = u.SetValue(1, 10)
	_ = u.SetValue(2, 255)

	if got := rec.all(); len(got) != 1 || got[0].Name != "fade-out" {
		t.Errorf("cues = %+v, want only fade-out", got)
	}

	// Relabelling the second channel drops the last route and the registration.
	if err := u.SetAssociation(ctx, 2, "Smoke Machine"); err != nil {
		t.Fatal(err)
	}
	_ = u.SetValue(2, 255)
	if n := len(rec.all()); n != 1 {
		t.Errorf("got %d cues after relabel, want 1", n)
	}
	if _, ok := h.FirstChannel("Sound Module"); ok {
		t.Error("module still registered after losing all channels")
	}
}

func TestHostRegisterErrors(t *testing.T) {
	u := dmx.NewUniverse(newTestLogger(), nil)
	h := NewHost(newTestLogger(), u)
	defer h.Close()
	ctx := context.Background()
	rec := &cueRecorder{}

	if err := h.Register(ctx, soundModule(t, rec), 512); !errors.Is(err, dmx.ErrInvalidChannelNumber) {
		t.Errorf("register past 512: %v", err)
	}
	if label, _ := u.Association(512); label != "" {
		t.Errorf("channel 512 labelled %q after failed register", label)
	}
	if err := h.Register(ctx, soundModule(t, rec), 0); !errors.Is(err, dmx.ErrInvalidChannelNumber) {
		t.Errorf("register at 0: %v", err)
	}
	if err := h.Register(ctx, &CueModule{name: "empty"}, 1); !errors.Is(err, ErrNoChannels) {
		t.Errorf("empty module: %v", err)
	}
	if err := h.Register(ctx, soundModule(t, rec), 1); err != nil {
		t.Fatal(err)
	}
	if err := h.Register(ctx, soundModule(t, rec), 10); !errors.Is(err, ErrModuleExists) {
		t.Errorf("duplicate register: %v", err)
	}
}

func TestHostRegisterCancelled(t *testing.T) {
	u := dmx.NewUniverse(newTestLogger(), dmx.NeverConfirm)
	ctx := context.Background()
	if err := u.SetAssociation(ctx, 2, "Dimmer"); err != nil {
		t.Fatal(err)
	}
	h := NewHost(newTestLogger(), u)
	defer h.Close()
	rec := &cueRecorder{}

	if err := h.Register(ctx, soundModule(t, rec), 1); !errors.Is(err, dmx.ErrOperationCancelled) {
		t.Fatalf("Register = %v, want cancelled", err)
	}
	if label, _ := u.Association(2); label != "Dimmer" {
		t.Errorf("Association(2) = %q, want Dimmer", label)
	}
	_ = u.SetValue(1, 10)
	if len(rec.all()) != 0 {
		t.Error("cancelled registration still routes values")
	}
}

func TestHostUnregister(t *testing.T) {
	u := dmx.NewUniverse(newTestLogger(), nil)
	h := NewHost(newTestLogger(), u)
	defer h.Close()
	ctx := context.Background()

	if err := h.Unregister(ctx, "Sound Module"); !errors.Is(err, ErrModuleNotFound) {
		t.Errorf("Unregister unknown = %v", err)
	}
	if err := h.Register(ctx, soundModule(t, &cueRecorder{}), 5); err != nil {
		t.Fatal(err)
	}
	if err := h.Unregister(ctx, "Sound Module"); err != nil {
		t.Fatal(err)
	}
	for _, ch := range []int{5, 6} {
		if label, _ := u.Association(ch); label != "" {
			t.Errorf("Association(%d) = %q after unregister", ch, label)
		}
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "modules.yaml")
	data := []byte(`modules:
  - name: Sound Module
    first-channel: 1
    channels:
      - cues:
          10: start-playback
          20: stop-playback
      - cues: {}
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	f, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(f.Modules) != 1 {
		t.Fatalf("modules = %+v", f.Modules)
	}
	m := f.Modules[0]
	if m.Name != "Sound Module" || m.FirstChannel != 1 || len(m.Channels) != 2 {
		t.Errorf("module = %+v", m)
	}
	if m.Channels[0].Cues[20] != "stop-playback" {
		t.Errorf("cues = %v", m.Channels[0].Cues)
	}
}

func TestLoadFileErrors(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"noname.yaml":    "modules:\n  - first-channel: 1\n    channels:\n      - cues: {10: go}\n",
		"dup.yaml":       "modules:\n  - name: a\n    channels: [{cues: {}}]\n  - name: a\n    channels: [{cues: {}}]\n",
		"nochannel.yaml": "modules:\n  - name: a\n",
		"broken.yaml":    "modules: [",
	}
	for name, body := range cases {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadFile(path); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
	if _, err := LoadFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("missing file: expected error")
	}
}

func TestNewCueModuleRejectsValues(t *testing.T) {
	_, err := NewCueModule(newTestLogger(), ModuleConf{
		Name:     "bad",
		Channels: []ChannelConf{{Cues: map[int]string{256: "x"}}},
	}, CueSinkFunc(func(Cue) {}))
	if !errors.Is(err, dmx.ErrInvalidChannelValue) {
		t.Errorf("err = %v, want invalid value", err)
	}
}

func TestHostTriggersOnlyOnChange(t *testing.T) {
	u := dmx.NewUniverse(newTestLogger(), nil)
	h := NewHost(newTestLogger(), u)
	defer h.Close()
	rec := &cueRecorder{}
	ctx := context.Background()

	if err := h.Register(ctx, soundModule(t, rec), 1); err != nil {
		t.Fatal(err)
	}
	// Three frames holding 10, then 20, then 10 again.
	for _, v := range []int{10, 10, 10, 20, 20, 10} {
		_ = u.SetValue(1, v)
	}
	var names []string
	for _, c := range rec.all() {
		names = append(names, c.Name)
	}
	want := []string{"start-playback", "stop-playback", "start-playback"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("cues = %v, want %v", names, want)
	}

	// A route re-established after removal fires again for the held value.
	if err := h.Unregister(ctx, "Sound Module"); err != nil {
		t.Fatal(err)
	}
	if err := h.Register(ctx, soundModule(t, rec), 1); err != nil {
		t.Fatal(err)
	}
	_ = u.SetValue(1, 10)
	if n := len(rec.all()); n != 4 {
		t.Errorf("got %d cues after re-register, want 4", n)
	}
}

func TestHostUnregisterKeepsRelabelledChannels(t *testing.T) {
	u := dmx.NewUniverse(newTestLogger(), nil)
	h := NewHost(newTestLogger(), u)
	defer h.Close()
	ctx := context.Background()
	smokeCues := &cueRecorder{}

	if err := h.Register(ctx, soundModule(t, &cueRecorder{}), 1); err != nil {
		t.Fatal(err)
	}
	smoke, err := NewCueModule(newTestLogger(), ModuleConf{
		Name:     "Smoke",
		Channels: []ChannelConf{{Cues: map[int]string{50: "puff"}}},
	}, smokeCues)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Register(ctx, smoke, 2); err != nil {
		t.Fatal(err)
	}

	if err := h.Unregister(ctx, "Sound Module"); err != nil {
		t.Fatal(err)
	}
	if label, _ := u.Association(1); label != "" {
		t.Errorf("Association(1) = %q after unregister", label)
	}
	if label, _ := u.Association(2); label != "Smoke" {
		t.Errorf("Association(2) = %q, want Smoke", label)
	}
	if first, ok := h.FirstChannel("Smoke"); !ok || first != 2 {
		t.Errorf("Smoke FirstChannel = %d, %v", first, ok)
	}
	_ = u.SetValue(2, 50)
	if got := smokeCues.all(); len(got) != 1 || got[0].Name != "puff" {
		t.Errorf("smoke cues = %+v", got)
	}
}

func TestHostRegisterSameNameConcurrently(t *testing.T) {
	u := dmx.NewUniverse(newTestLogger(), nil)
	h := NewHost(newTestLogger(), u)
	defer h.Close()
	ctx := context.Background()

	const n = 8
	mods := make([]*CueModule, n)
	for i := range mods {
		mods[i] = soundModule(t, &cueRecorder{})
	}
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i, m := range mods {
		wg.Add(1)
		go func(m *CueModule, first int) {
			defer wg.Done()
			errs <- h.Register(ctx, m, first)
		}(m, 1+i*2)
	}
	wg.Wait()
	close(errs)

	var ok, dup int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrModuleExists):
			dup++
		default:
			t.Errorf("Register: %v", err)
		}
	}
	if ok != 1 || dup != n-1 {
		t.Errorf("registered %d, duplicates %d; want 1 and %d", ok, dup, n-1)
	}
}

func TestHostRegisterRollsBackOnRefusal(t *testing.T) {
	confirm := dmx.ConfirmFunc(func(_ context.Context, message string) (bool, error) {
		// Keep the dimmer on channel 2, allow everything else.
		return !strings.HasSuffix(message, "channel 2."), nil
	})
	u := dmx.NewUniverse(newTestLogger(), confirm)
	ctx := context.Background()
	if err := u.SetAssociation(ctx, 2, "Dimmer"); err != nil {
		t.Fatal(err)
	}
	h := NewHost(newTestLogger(), u)
	defer h.Close()

	if err := h.Register(ctx, soundModule(t, &cueRecorder{}), 1); !errors.Is(err, dmx.ErrOperationCancelled) {
		t.Fatalf("Register = %v, want cancelled", err)
	}
	if label, _ := u.Association(1); label != "" {
		t.Errorf("Association(1) = %q, want rolled back", label)
	}
	if label, _ := u.Association(2); label != "Dimmer" {
		t.Errorf("Association(2) = %q, want Dimmer", label)
	}
	// The name is free again once the failed attempt is over.
	if err := h.Register(ctx, soundModule(t, &cueRecorder{}), 10); err != nil {
		t.Errorf("Register after rollback: %v", err)
	}
}
