package agent_test

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/travisjeffery/go-dynaport"

	apiv1 "github.com/mrshabel/vectorq/api/v1"
	"github.com/mrshabel/vectorq/internal/agent"
	"github.com/mrshabel/vectorq/internal/config"
	"github.com/mrshabel/vectorq/internal/server"
)

func TestAgent(t *testing.T) {
	// setup server tls certs and peer certs
	// server tls config will be sent to clients
	serverTLSConfig, err := config.SetupTLSConfig(config.TLSConfig{
		CertFile:      config.ServerCertFile,
		KeyFile:       config.ServerKeyFile,
		CAFile:        config.CAFile,
		Server:        true,
		ServerAddress: "127.0.0.1",
	})
	require.NoError(t, err)

	// peer tls config will be shared between servers for replication purposes
	peerTLSConfig, err := config.SetupTLSConfig(config.TLSConfig{
		CertFile:      config.RootClientCertFile,
		KeyFile:       config.RootClientKeyFile,
		CAFile:        config.CAFile,
		Server:        false,
		ServerAddress: "127.0.0.1",
	})
	require.NoError(t, err)

	// setup cluster of 3 nodes acting as replication agents
	var agents []*agent.Agent
	for i := range 3 {
		// get 2 random ports without listener for testing
		ports := dynaport.Get(2)
		bindAddr := fmt.Sprintf("127.0.0.1:%d", ports[0])
		rpcPort := ports[1]

		dataDir, err := os.MkdirTemp("", "agent-test-log")
		require.NoError(t, err)

		// use starting node as an entry point for newly discovered nodes to connect to
		var startJoinAddrs []string
		if i != 0 {
			startJoinAddrs = append(startJoinAddrs, agents[0].Config.BindAddr)
		}

		a, err := agent.New(agent.Config{
			NodeName:        fmt.Sprint(i),
			StartJoinAddrs:  startJoinAddrs,
			BindAddr:        bindAddr,
			RPCPort:         rpcPort,
			DataDir:         dataDir,
			ACLModelFile:    config.ACLModelFile,
			ACLPolicyFile:   config.ACLPolicyFile,
			ServerTLSConfig: serverTLSConfig,
			PeerTLSConfig:   peerTLSConfig,
			Bootstrap:       i == 0,
		})
		require.NoError(t, err)

		agents = append(agents, a)
	}

	// cleanup function to verify that agents can gracefully shutdown
	defer func() {
		for _, a := range agents {
			err := a.Shutdown()
			require.NoError(t, err)
			require.NoError(t, os.RemoveAll(a.Config.DataDir))
		}
	}()
	time.Sleep(3 * time.Second)

	dummy := "dummy"
	// leader node for writes
	leaderClient := httpClient(t, agents[0], peerTLSConfig)

	var produceRes server.ProduceResponse
	postJSON(t, leaderClient, fmt.Sprintf("https://%s/v1/log", rpcAddr(t, agents[0])), server.ProduceRequest{
		Record: apiv1.LogRecord{OffsetID: 1, Operation: apiv1.OperationAdd, Document: &dummy},
	}, &produceRes)

	var consumeRes server.ConsumeResponse
	getJSON(t, leaderClient, fmt.Sprintf("https://%s/v1/log/%d", rpcAddr(t, agents[0]), produceRes.Offset), &consumeRes)
	require.Equal(t, dummy, *consumeRes.Record.Document)

	// wait for replication to eventually complete
	time.Sleep(3 * time.Second)

	followerClient := httpClient(t, agents[1], peerTLSConfig)
	var followerRes server.ConsumeResponse
	getJSON(t, followerClient, fmt.Sprintf("https://%s/v1/log/%d", rpcAddr(t, agents[1]), produceRes.Offset), &followerRes)
	require.Equal(t, dummy, *followerRes.Record.Document)
}

func rpcAddr(t *testing.T, a *agent.Agent) string {
	t.Helper()
	addr, err := a.Config.RPCAddr()
	require.NoError(t, err)
	return addr
}

// httpClient returns a mutual-TLS http client for talking to an agent's
// query-facing endpoint, mirroring the replicator's own client setup.
func httpClient(t *testing.T, a *agent.Agent, tlsConfig *tls.Config) *http.Client {
	t.Helper()
	return &http.Client{Transport: &http.Transport{TLSClientConfig: tlsConfig}}
}

func postJSON(t *testing.T, client *http.Client, url string, body, out any) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))

	resp, err := client.Post(url, "application/json", &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func getJSON(t *testing.T, client *http.Client, url string, out any) {
	t.Helper()
	resp, err := client.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}
