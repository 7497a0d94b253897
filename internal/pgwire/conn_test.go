package pgwire

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pgkv/internal/auth"
	"pgkv/internal/config"
	"pgkv/internal/engine"
	"pgkv/internal/keycodec"
	"pgkv/internal/kvstore/memkv"
	"pgkv/internal/telemetry"
)

// testClient is a minimal hand-rolled frontend driving the same framing
// Conn uses, enough to exercise startup/auth and the Simple Query path
// without pulling in a real PostgreSQL client library.
type testClient struct {
	nc net.Conn
	r  *reader
	w  *writer
}

func newTestClient(nc net.Conn) *testClient {
	return &testClient{nc: nc, r: newReader(nc), w: newWriter(nc)}
}

func (c *testClient) sendStartup(user string) error {
	const protocolVersion3 = 3 << 16
	b := (&msgBuilder{}).int32(protocolVersion3).cstring("user").cstring(user).cstring("database").cstring(user).byte(0)
	full := make([]byte, 4+len(b.buf))
	binary.BigEndian.PutUint32(full[0:4], uint32(len(full)))
	copy(full[4:], b.buf)
	_, err := c.nc.Write(full)
	return err
}

func (c *testClient) sendPassword(pw string) error {
	return c.w.write(msgPassword, (&msgBuilder{}).cstring(pw).buf)
}

func (c *testClient) sendQuery(sql string) error {
	if err := c.w.write(msgQuery, (&msgBuilder{}).cstring(sql).buf); err != nil {
		return err
	}
	return c.w.flush()
}

func (c *testClient) flush() error { return c.w.flush() }

func (c *testClient) readUntilReady(t *testing.T) []message {
	t.Helper()
	var out []message
	for {
		msg, err := c.r.readMessage()
		require.NoError(t, err)
		out = append(out, msg)
		if msg.Type == msgReadyForQuery {
			return out
		}
	}
}

func newTestServer(t *testing.T) (*testClient, func()) {
	t.Helper()
	kv := memkv.New()
	ns := keycodec.Namespace{}
	ctx := context.Background()
	txn, err := kv.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, auth.NewManager(ns, txn).EnsureBootstrapAdmin(ctx))
	require.NoError(t, txn.Commit(ctx))

	eng := engine.New(kv, ns)
	cfg := config.Config{Port: 0, Keyspace: ""}

	client, server := net.Pipe()
	go Serve(ctx, server, eng, cfg, telemetry.Nop())

	c := newTestClient(client)
	return c, func() { client.Close() }
}

func authenticate(t *testing.T, c *testClient) {
	t.Helper()
	require.NoError(t, c.sendStartup("admin"))
	msg, err := c.r.readMessage()
	require.NoError(t, err)
	require.Equal(t, byte(msgAuthentication), msg.Type)
	require.NoError(t, c.sendPassword("admin"))
	require.NoError(t, c.flush())

	msg, err = c.r.readMessage()
	require.NoError(t, err)
	require.Equal(t, byte(msgAuthentication), msg.Type)

	// ParameterStatus then ReadyForQuery.
	_ = c.readUntilReady(t)
}

func TestHandshakeAndSimpleQuery(t *testing.T) {
	c, closeFn := newTestServer(t)
	defer closeFn()
	c.nc.SetDeadline(time.Now().Add(5 * time.Second))

	authenticate(t, c)

	require.NoError(t, c.sendQuery("CREATE TABLE accounts (id INT PRIMARY KEY, name VARCHAR(50) NOT NULL)"))
	msgs := c.readUntilReady(t)
	require.True(t, hasCommandComplete(msgs, "CREATE TABLE"))

	require.NoError(t, c.sendQuery("INSERT INTO accounts (id, name) VALUES (1, 'alice')"))
	msgs = c.readUntilReady(t)
	require.True(t, hasCommandComplete(msgs, "INSERT 0 1"))

	require.NoError(t, c.sendQuery("SELECT name FROM accounts"))
	msgs = c.readUntilReady(t)
	require.True(t, containsType(msgs, msgRowDescription))
	require.True(t, containsType(msgs, msgDataRow))
	require.True(t, hasCommandComplete(msgs, "SELECT 1"))
}

func TestHandshakeRejectsBadPassword(t *testing.T) {
	c, closeFn := newTestServer(t)
	defer closeFn()
	c.nc.SetDeadline(time.Now().Add(5 * time.Second))

	require.NoError(t, c.sendStartup("admin"))
	msg, err := c.r.readMessage()
	require.NoError(t, err)
	require.Equal(t, byte(msgAuthentication), msg.Type)

	require.NoError(t, c.sendPassword("wrong"))
	require.NoError(t, c.flush())

	msg, err = c.r.readMessage()
	require.NoError(t, err)
	require.Equal(t, byte(msgErrorResponse), msg.Type)
}

func hasCommandComplete(msgs []message, tag string) bool {
	for _, m := range msgs {
		if m.Type == msgCommandComplete && cstring(m.Body) == tag {
			return true
		}
	}
	return false
}

func containsType(msgs []message, t byte) bool {
	for _, m := range msgs {
		if m.Type == t {
			return true
		}
	}
	return false
}
