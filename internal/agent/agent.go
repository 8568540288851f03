package agent

import (
	"bytes"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"

	"github.com/hashicorp/raft"
	"github.com/soheilhy/cmux"

	"github.com/mrshabel/vectorq/internal/auth"
	"github.com/mrshabel/vectorq/internal/discovery"
	"github.com/mrshabel/vectorq/internal/log"
	"github.com/mrshabel/vectorq/internal/server"

	"go.uber.org/zap"
)

// Agent sets up and manages all components and processes for a server to initiate its replication process
type Agent struct {
	Config Config

	// internal components for the distributed log, the rpc port's
	// connection mux, the query-facing http server, service discovery
	// membership and the pull replicator
	log        *log.DistributedLog
	mux        cmux.CMux
	server     *http.Server
	httpLn     net.Listener
	membership *discovery.Membership
	replicator *log.Replicator

	shutdown     bool
	shutdowns    chan struct{}
	shutdownLock sync.Mutex
}

// Config contains all the details needed to setup each component in the Agent
type Config struct {
	ServerTLSConfig *tls.Config
	PeerTLSConfig   *tls.Config
	DataDir         string
	BindAddr        string
	RPCPort         int
	NodeName        string
	StartJoinAddrs  []string
	ACLModelFile    string
	ACLPolicyFile   string
	// Bootstrap is true only for the node that starts a brand new raft
	// cluster; every other node joins it through StartJoinAddrs.
	Bootstrap bool
}

// RPCAddr returns the RPC address from the binding address and the configured RPC port. A non-nil error is returned if the BindAddr is invalid
func (c *Config) RPCAddr() (string, error) {
	host, _, err := net.SplitHostPort(c.BindAddr)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%d", host, c.RPCPort), nil
}

// New creates and sets up an agent together with its components as defined in the config argument. Calling New starts up a running, functioning service. The created agent is returned if no error occurs else a non-nil error is returned
func New(config Config) (*Agent, error) {
	agent := &Agent{
		Config:    config,
		shutdowns: make(chan struct{}),
	}

	// set up all components
	setup := []func() error{
		agent.setupLogger,
		agent.setupMux,
		agent.setupLog,
		agent.setupServer,
		agent.setupMembership,
	}
	for _, fn := range setup {
		if err := fn(); err != nil {
			return nil, err
		}
	}
	go agent.serve()
	return agent, nil
}

func (a *Agent) setupLogger() error {
	// start a new development logger
	logger, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	zap.ReplaceGlobals(logger)
	return nil
}

// setupMux opens the single listener the RPC port exposes and wraps it
// in a cmux so the raft transport and the query-facing http server can
// share the port, distinguished by a one-byte header (log.RaftRPC vs.
// anything else).
func (a *Agent) setupMux() error {
	rpcAddr := fmt.Sprintf(":%d", a.Config.RPCPort)
	ln, err := net.Listen("tcp", rpcAddr)
	if err != nil {
		return err
	}
	a.mux = cmux.New(ln)
	return nil
}

func (a *Agent) setupLog() error {
	raftLn := a.mux.Match(func(reader io.Reader) bool {
		b := make([]byte, 1)
		if _, err := reader.Read(b); err != nil {
			return false
		}
		return bytes.Equal(b, []byte{byte(log.RaftRPC)})
	})

	logConfig := log.Config{}
	logConfig.Raft.StreamLayer = log.NewStreamLayer(
		raftLn, a.Config.ServerTLSConfig, a.Config.PeerTLSConfig,
	)
	logConfig.Raft.LocalID = raft.ServerID(a.Config.NodeName)
	logConfig.Raft.Bootstrap = a.Config.Bootstrap

	var err error
	a.log, err = log.NewDistributedLog(a.Config.DataDir, logConfig)
	return err
}

func (a *Agent) setupServer() error {
	// setup server with authorization policies
	authorizer := auth.New(a.Config.ACLModelFile, a.Config.ACLPolicyFile)
	serverConfig := &server.Config{
		CommitLog:  a.log,
		Authorizer: authorizer,
	}

	a.server = server.NewHTTPServer("", serverConfig)

	var ln net.Listener = a.mux.Match(cmux.Any())
	if a.Config.ServerTLSConfig != nil {
		ln = tls.NewListener(ln, a.Config.ServerTLSConfig)
	}
	a.httpLn = ln

	go func() {
		if err := a.server.Serve(a.httpLn); err != nil &&
			!errors.Is(err, http.ErrServerClosed) &&
			!errors.Is(err, cmux.ErrListenerClosed) {
			// shutdown agent on listening failure
			a.Shutdown()
		}
	}()
	return nil
}

// setupMembership sets up a Replicator needed to connect to other services and an http client for the replicator to pull data from other servers
func (a *Agent) setupMembership() error {
	rpcAddr, err := a.Config.RPCAddr()
	if err != nil {
		return err
	}

	httpClient := &http.Client{}
	scheme := "http"
	if a.Config.PeerTLSConfig != nil {
		httpClient.Transport = &http.Transport{TLSClientConfig: a.Config.PeerTLSConfig}
		scheme = "https"
	}

	a.replicator = &log.Replicator{
		HTTPClient:  httpClient,
		Scheme:      scheme,
		LocalServer: a.log,
	}
	// create new discovery membership for client
	a.membership, err = discovery.New(a.replicator, discovery.Config{
		NodeName: a.Config.NodeName,
		BindAddr: a.Config.BindAddr,
		Tags: map[string]string{
			"peer_addr": rpcAddr,
		},
		StartJoinAddrs: a.Config.StartJoinAddrs,
	},
	)
	return err
}

// serve runs the shared rpc-port mux's dispatch loop, routing connections
// to the raft transport or the http server depending on their first byte.
func (a *Agent) serve() error {
	if err := a.mux.Serve(); err != nil {
		a.Shutdown()
		return err
	}
	return nil
}

// Shutdown shutdowns an agent and its components once with a mutex
func (a *Agent) Shutdown() error {
	a.shutdownLock.Lock()
	defer a.shutdownLock.Unlock()
	if a.shutdown {
		return nil
	}
	// mark agent as down and close all channels
	a.shutdown = true
	close(a.shutdowns)

	stopServer := func() error {
		_ = a.server.Close()
		a.mux.Close()
		return nil
	}
	shutdown := []func() error{
		a.membership.Leave, a.replicator.Close,
		stopServer,
		a.log.Close,
	}

	for _, fn := range shutdown {
		if err := fn(); err != nil {
			return err
		}
	}
	return nil
}
