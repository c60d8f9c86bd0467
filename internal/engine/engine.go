// Package engine wires together configuration, persistence, the radio
// transport, the arbiter, the poller, MQTT link, dispatcher and admin
// HTTP surface into a single runnable process.
package engine

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"

	"github.com/vegafield/lora-gateway-bridge/internal/arbiter"
	"github.com/vegafield/lora-gateway-bridge/internal/config"
	"github.com/vegafield/lora-gateway-bridge/internal/dispatcher"
	"github.com/vegafield/lora-gateway-bridge/internal/gatewayctl"
	"github.com/vegafield/lora-gateway-bridge/internal/httpapi"
	"github.com/vegafield/lora-gateway-bridge/internal/logger"
	"github.com/vegafield/lora-gateway-bridge/internal/mqttlink"
	"github.com/vegafield/lora-gateway-bridge/internal/nodectl"
	"github.com/vegafield/lora-gateway-bridge/internal/poller"
	"github.com/vegafield/lora-gateway-bridge/internal/serialtransport"
	"github.com/vegafield/lora-gateway-bridge/internal/store"
)

// Options carries everything needed to assemble an Engine, plus the
// store file paths and admin HTTP bind address left out of Config
// because they are deployment details rather than operational knobs.
type Options struct {
	Config          *config.Config
	GatewayStorePath string
	NodeStorePath    string
	AdminAddr        string // empty disables the admin HTTP surface
}

// Engine is the process-wide orchestrator.
type Engine struct {
	mu      sync.Mutex
	started bool

	instanceID string
	log        *logger.Logger
	cfg        *config.Config

	arb        *arbiter.Arbiter
	transport  *serialtransport.Transport
	gatewaySt  *store.GatewayStore
	nodeSt     *store.NodeStore
	mqtt       *mqttlink.Link
	gateway    *gatewayctl.Controller
	node       *nodectl.Controller
	dispatch   *dispatcher.Dispatcher
	poll       *poller.Poller
	httpServer *http.Server

	cancel context.CancelFunc
}

// New assembles every component, loading the two store files, without
// starting any goroutines or any MQTT, serial or HTTP I/O.
func New(opts Options) *Engine {
	log := logger.Global()
	instanceID := uuid.NewString()
	log = &logger.Logger{Logger: log.With("instance_id", instanceID)}

	arb := arbiter.New()

	transport := serialtransport.New(serialtransport.Config{
		PortName:    opts.Config.SerialPort,
		BaudRate:    opts.Config.SerialBaudRate,
		ReadTimeout: opts.Config.Tuning.SerialReadTimeout,
		OpenRetries: opts.Config.Tuning.SerialOpenRetries,
		OpenSpacing: opts.Config.Tuning.SerialOpenSpacing,
	})

	gatewaySt := store.NewGatewayStore(opts.GatewayStorePath)
	nodeSt := store.NewNodeStore(opts.NodeStorePath)

	e := &Engine{
		instanceID: instanceID,
		log:        log,
		cfg:        opts.Config,
		arb:        arb,
		transport:  transport,
		gatewaySt:  gatewaySt,
		nodeSt:     nodeSt,
	}

	e.mqtt = mqttlink.New(mqttlink.Config{
		Broker:              opts.Config.MQTTBroker,
		Port:                opts.Config.MQTTPort,
		ClientID:            opts.Config.MQTTClientID,
		Username:            opts.Config.MQTTUsername,
		Password:            opts.Config.MQTTPassword,
		Keepalive:           opts.Config.MQTTKeepalive,
		GatewayID:           opts.Config.GatewayID,
		TLSEnabled:          opts.Config.MQTTTLSEnabled,
		TLSInsecure:         opts.Config.MQTTTLSInsecure,
		ReconnectDelay:      opts.Config.Tuning.MQTTReconnectDelay,
		PublishRetries:      opts.Config.Tuning.SensorPublishRetries,
		PublishRetryBackoff: opts.Config.Tuning.SensorPublishBackoff,
	}, e.onCommand, log)

	e.gateway = gatewayctl.New(opts.Config.GatewayID, gatewaySt, e.mqtt, log)
	e.node = nodectl.New(arb, transport, nodeSt, opts.Config.GatewayID, opts.Config.Tuning, log)
	e.dispatch = dispatcher.New(e.gateway, e.node, e.mqtt, log)
	e.poll = poller.New(arb, transport, nodeSt, e.mqtt, opts.Config.GatewayID, opts.Config.Tuning, log)

	if opts.AdminAddr != "" {
		admin := httpapi.New(e.gateway, opts.Config.AdminJWTSecret, log)
		e.httpServer = &http.Server{Addr: opts.AdminAddr, Handler: admin.Handler()}
	}

	return e
}

// onCommand is the callback wired to the MQTT link's command subscription.
func (e *Engine) onCommand(payload map[string]interface{}) {
	e.dispatch.Dispatch(context.Background(), payload)
}

// Start connects to MQTT, launches the poll loop, and serves the admin
// HTTP surface if configured. Panics during startup are recovered and
// logged rather than taking the process down.
func (e *Engine) Start(ctx context.Context) (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			e.log.Error("engine: panic recovered during start", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("engine: panic during start: %v", r)
		}
	}()

	if e.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.log.Info("engine: connecting to MQTT broker", "broker", e.cfg.MQTTBroker, "port", e.cfg.MQTTPort)
	if err := e.mqtt.Connect(); err != nil {
		cancel()
		return fmt.Errorf("engine: mqtt connect: %w", err)
	}

	go e.poll.Run(runCtx)

	if e.httpServer != nil {
		go func() {
			if err := e.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				e.log.Error("engine: admin http server failed", "error", err)
			}
		}()
	}

	e.started = true
	e.log.Info("engine: started", "gateway_id", e.cfg.GatewayID)
	return nil
}

// Stop performs a graceful shutdown: cancels the poll loop, clears pause,
// closes the serial port, publishes a disconnected status, and stops the
// admin HTTP surface. It does not take back a mutex token held by an
// in-flight poll batch or command; that holder releases it through its own
// deferred release.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started {
		return nil
	}

	e.log.Info("engine: stopping")

	if e.cancel != nil {
		e.cancel()
	}

	e.arb.ClearPause()
	if release, ok := e.arb.TryAcquire(); ok {
		release()
	}

	_ = e.transport.Close()
	e.mqtt.Close()

	if e.httpServer != nil {
		if err := e.httpServer.Close(); err != nil {
			e.log.Warn("engine: admin http server close failed", "error", err)
		}
	}

	e.started = false
	return nil
}
