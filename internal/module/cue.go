package module

import (
	"fmt"
	"os"

	"dmxeffects/internal/dmx"
	"dmxeffects/internal/logger"
	"gopkg.in/yaml.v3"
)

// Cue is emitted when a bound value arrives on a cue module's channel.
type Cue struct {
	Module  string `json:"module"`
	Channel int    `json:"channel"` // control channel number within the module
	Name    string `json:"cue"`
	Value   int    `json:"value"`
}

// CueSink receives cues. Implementations must not block the caller for long:
// cues are fired from the frame listener goroutine.
type CueSink interface {
	PublishCue(c Cue)
}

// CueSinkFunc adapts a function to CueSink.
type CueSinkFunc func(c Cue)

func (f CueSinkFunc) PublishCue(c Cue) { f(c) }

// File is the layout of the module bindings file.
//
//	modules:
//	  - name: Sound Module
//	    first-channel: 1
//	    channels:
//	      - cues:
//	          10: start-playback
//	          20: stop-playback
type File struct {
	Modules []ModuleConf `yaml:"modules"`
}

// ModuleConf describes one cue module.
type ModuleConf struct {
	Name         string        `yaml:"name"`
	FirstChannel int           `yaml:"first-channel"`
	Channels     []ChannelConf `yaml:"channels"`
}

// ChannelConf maps slot values to cue names for one control channel.
type ChannelConf struct {
	Cues map[int]string `yaml:"cues"`
}

// LoadFile reads and checks a bindings file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read modules file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse modules file %s: %w", path, err)
	}

	seen := map[string]bool{}
	for i, m := range f.Modules {
		if m.Name == "" {
			return nil, fmt.Errorf("module %d: name is required", i)
		}
		if seen[m.Name] {
			return nil, fmt.Errorf("module %q: %w", m.Name, ErrModuleExists)
		}
		seen[m.Name] = true
		if len(m.Channels) == 0 {
			return nil, fmt.Errorf("module %q: %w", m.Name, ErrNoChannels)
		}
	}
	return &f, nil
}

// CueModule is a module whose control channels fire named cues.
type CueModule struct {
	name     string
	channels []*dmx.ControlChannel
}

// NewCueModule binds every cue in conf to sink.
func NewCueModule(log logger.Logger, conf ModuleConf, sink CueSink) (*CueModule, error) {
	m := &CueModule{name: conf.Name}
	for i, ch := range conf.Channels {
		cc := dmx.NewControlChannel(i+1, conf.Name)
		for value, cue := range ch.Cues {
			cue, number := cue, i+1
			err := cc.SetBinding(value, func(v int) {
				log.With(logger.Fields{"module": conf.Name}).Debugf("cue %q on channel %d (value %d)", cue, number, v)
				sink.PublishCue(Cue{Module: conf.Name, Channel: number, Name: cue, Value: v})
			})
			if err != nil {
				return nil, fmt.Errorf("module %q channel %d cue %q: %w", conf.Name, number, cue, err)
			}
		}
		m.channels = append(m.channels, cc)
	}
	return m, nil
}

func (m *CueModule) Name() string { return m.name }

func (m *CueModule) ControlChannels() []*dmx.ControlChannel { return m.channels }
