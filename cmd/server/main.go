package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mrshabel/vectorq/internal/agent"
	"github.com/mrshabel/vectorq/internal/config"
)

func main() {
	var (
		dataDir        = flag.String("data-dir", "/tmp/vectorq", "directory to store log and raft data")
		bindAddr       = flag.String("bind-addr", "127.0.0.1:8401", "address for cluster gossip")
		rpcPort        = flag.Int("rpc-port", 8400, "port for the mutation log and query rpc")
		nodeName       = flag.String("node-name", "", "unique server id, defaults to the hostname")
		startJoinAddrs = flag.String("start-join-addrs", "", "comma-separated addresses of existing cluster members")
		bootstrap      = flag.Bool("bootstrap", false, "bootstrap the raft cluster; set only for the first node")
		tlsEnabled     = flag.Bool("tls", false, "require mutual TLS on the rpc port")
	)
	flag.Parse()

	if *nodeName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			log.Fatal(err)
		}
		*nodeName = hostname
	}

	var joinAddrs []string
	if *startJoinAddrs != "" {
		joinAddrs = strings.Split(*startJoinAddrs, ",")
	}

	cfg := agent.Config{
		DataDir:        *dataDir,
		BindAddr:       *bindAddr,
		RPCPort:        *rpcPort,
		NodeName:       *nodeName,
		StartJoinAddrs: joinAddrs,
		Bootstrap:      *bootstrap,
		ACLModelFile:   config.ACLModelFile,
		ACLPolicyFile:  config.ACLPolicyFile,
	}

	if *tlsEnabled {
		serverTLSConfig, err := config.SetupTLSConfig(config.TLSConfig{
			CertFile:      config.ServerCertFile,
			KeyFile:       config.ServerKeyFile,
			CAFile:        config.CAFile,
			Server:        true,
			ServerAddress: "127.0.0.1",
		})
		if err != nil {
			log.Fatal(err)
		}
		peerTLSConfig, err := config.SetupTLSConfig(config.TLSConfig{
			CertFile:      config.RootClientCertFile,
			KeyFile:       config.RootClientKeyFile,
			CAFile:        config.CAFile,
			Server:        false,
			ServerAddress: "127.0.0.1",
		})
		if err != nil {
			log.Fatal(err)
		}
		cfg.ServerTLSConfig = serverTLSConfig
		cfg.PeerTLSConfig = peerTLSConfig
	}

	a, err := agent.New(cfg)
	if err != nil {
		log.Fatal(err)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	fmt.Printf("vectorq node %q listening, rpc port %d\n", *nodeName, *rpcPort)
	<-sigs

	if err := a.Shutdown(); err != nil {
		log.Fatal(err)
	}
}
