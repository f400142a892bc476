package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"dmxeffects/internal/artnet"
	"dmxeffects/internal/clientmqtt"
	"dmxeffects/internal/config"
	"dmxeffects/internal/dmx"
	"dmxeffects/internal/logger"
	"dmxeffects/internal/module"
)

var configFile string

func init() {
	flag.StringVar(&configFile, "config", "configs/conf.toml", "Path to configuration file")
}

func main() {
	flag.Parse()
	cfg, err := config.NewConfig(configFile)
	if err != nil {
		fmt.Printf("configuration file read error: %v", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		fmt.Printf("failed to create a logger: %v", err)
		os.Exit(1)
	}

	log.With(logger.Fields{"module": "logger"}).Debug("newLogger created ok")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer cancel()

	universe := dmx.NewUniverse(log, newConfirmer(cfg.Universe.Confirm))
	queue := dmx.NewQueue()

	var cues module.CueSink = module.CueSinkFunc(func(c module.Cue) {
		log.With(logger.Fields{"module": c.Module}).Infof("cue %q (channel %d, value %d)", c.Name, c.Channel, c.Value)
	})

	var client *clientmqtt.ClientMQTT
	if cfg.MQTT.Enabled {
		client = clientmqtt.NewClient(log, ConvertConfigClientMQTT(cfg.MQTT))
		log.With(logger.Fields{"module": "mqtt"}).Debug("NewClient created ok")

		var samples dmx.SampleSink
		if cfg.Source.Kind == "mqtt" {
			samples = queue
		}
		if err = client.Start(ctx, samples); err != nil {
			log.Error("failed to start MQTT service:", err.Error())
			os.Exit(1)
		}
		universe.Subscribe(client.HandleEvent)
		cues = client
	}

	var mirror *artnet.ArtNet
	if cfg.ArtNet.Enabled {
		mirror, err = artnet.NewController(log, cfg.ArtNet)
		if err != nil {
			log.With(logger.Fields{"module": "art-net"}).Errorf("error while creating a new controller art-net. %v", err)
			os.Exit(1)
		}
		if err = mirror.Start(ctx); err != nil {
			log.Error("failed to start art-net service:", err.Error())
			os.Exit(1)
		}
		universe.Subscribe(mirror.HandleEvent)
	}

	host := module.NewHost(log, universe)
	if cfg.Modules.File != "" {
		if err = registerModules(ctx, log, host, cfg.Modules.File, cues); err != nil {
			log.With(logger.Fields{"module": "host"}).Errorf("failed to register modules: %v", err)
			os.Exit(1)
		}
	}

	listener := dmx.NewListener(log, queue, universe)
	listener.FrameStartPoll = cfg.Listener.FrameStartPoll()
	listener.SlotPoll = cfg.Listener.SlotPoll()
	listener.StallWarning = cfg.Listener.StallWarning()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Errorf("listener: %v", err)
		}
	}()

	if cfg.Source.Kind == "generator" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runGenerator(ctx, queue, dmx.NewGenerator(queue, universe), cfg.Source.GenerateInterval())
		}()
	}

	<-ctx.Done()
	wg.Wait()

	st := listener.Stats()
	log.Infof("listener: %d frames, %d slots, %d rejected, %d stalls", st.Frames, st.Slots, st.Rejected, st.Stalls)

	if err := host.Close(); err != nil {
		log.Error("failed to close module host:", err.Error())
	}

	if client != nil {
		if err := client.Stop(); err != nil {
			log.Error("failed to stop MQTT service:", err.Error())
		}
	}

	if mirror != nil {
		mirror.Stop()
	}

	log.Info("shutdown complete")
}

func registerModules(ctx context.Context, log *logger.Log, host *module.Host, path string, cues module.CueSink) error {
	file, err := module.LoadFile(path)
	if err != nil {
		return err
	}
	for _, conf := range file.Modules {
		m, err := module.NewCueModule(log, conf, cues)
		if err != nil {
			return err
		}
		if err := host.Register(ctx, m, conf.FirstChannel); err != nil {
			return err
		}
	}
	return nil
}

// runGenerator feeds the queue with random frames until ctx is done.
// It does not run ahead of the listener by more than one frame.
func runGenerator(ctx context.Context, queue *dmx.Queue, g *dmx.Generator, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if queue.Len() >= dmx.Channels {
				continue
			}
			g.GenerateAll()
		}
	}
}

// ConvertConfigClientMQTT преобразует структуры.
func ConvertConfigClientMQTT(cfg config.MQTTConf) clientmqtt.MQTTConf {
	return clientmqtt.MQTTConf{
		ClientID:    cfg.ClientID,
		Schema:      "tcp",
		Host:        cfg.Host,
		Port:        cfg.Port,
		User:        cfg.User,
		Password:    cfg.Password,
		Qos:         cfg.Qos,
		TopicPrefix: cfg.TopicPrefix,
	}
}

func newConfirmer(mode string) dmx.Confirmer {
	switch mode {
	case "prompt":
		return newPromptConfirmer(os.Stdin, os.Stdout)
	case "deny":
		return dmx.NeverConfirm
	default:
		return dmx.AlwaysConfirm
	}
}

// promptConfirmer asks on the terminal. Only one question is open at a time.
// A single goroutine reads the terminal for the confirmer's whole life.
type promptConfirmer struct {
	mu    sync.Mutex
	out   io.Writer
	lines chan string
	errc  chan error
}

func newPromptConfirmer(in io.Reader, out io.Writer) *promptConfirmer {
	p := &promptConfirmer{
		out:   out,
		lines: make(chan string),
		errc:  make(chan error, 1),
	}
	go p.read(bufio.NewReader(in))
	return p
}

func (p *promptConfirmer) read(r *bufio.Reader) {
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			p.errc <- err
			return
		}
		p.lines <- line
	}
}

func (p *promptConfirmer) Confirm(ctx context.Context, message string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.out, "%s [Y/n] ", message)

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case err := <-p.errc:
		// Keep reporting the terminal error to later questions.
		p.errc <- err
		return false, err
	case line := <-p.lines:
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "", "y", "yes":
			return true, nil
		default:
			return false, nil
		}
	}
}
