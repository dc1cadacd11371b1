package ipc

import (
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

// pipePair returns two Conns backed by connected in-memory pipes, standing
// in for a spawned worker's stdin/stdout (io.Pipe is synchronous, same as
// the teacher's createSocketPair but without needing a real listener).
func pipePair(t *testing.T) (a, b *Conn) {
	t.Helper()
	ar, bw := io.Pipe()
	br, aw := io.Pipe()
	return NewHalfConn(ar, aw, nil), NewHalfConn(br, bw, nil)
}

func TestConnSendRecv(t *testing.T) {
	server, client := pipePair(t)

	payload, _ := json.Marshal(map[string]string{"hello": "world"})
	env := &Envelope{ID: "test-1", Type: TypeLog, Payload: payload}

	done := make(chan error, 1)
	go func() { done <- client.Send(env) }()

	recv, err := server.Recv()
	require.NoError(t, err)
	require.NoError(t, <-done)

	require.Equal(t, "test-1", recv.ID)
	require.Equal(t, TypeLog, recv.Type)
	require.Equal(t, uint64(1), recv.Seq)
}

func TestConnHMACMismatch(t *testing.T) {
	server, client := pipePair(t)

	key1, _ := GenerateSessionKey()
	key2, _ := GenerateSessionKey()
	server.SetSessionKey(key1)
	client.SetSessionKey(key2)

	payload, _ := json.Marshal("test")
	go client.Send(&Envelope{ID: "hmac-mismatch", Type: TypeStatus, Payload: payload})

	_, err := server.Recv()
	require.Error(t, err)
}

func TestConnSequenceIncreasesAcrossMessages(t *testing.T) {
	server, client := pipePair(t)

	payload, _ := json.Marshal("first")
	go client.Send(&Envelope{ID: "1", Type: TypeStatus, Payload: payload})
	_, err := server.Recv()
	require.NoError(t, err)

	payload2, _ := json.Marshal("second")
	go client.Send(&Envelope{ID: "2", Type: TypeStatus, Payload: payload2})
	recv2, err := server.Recv()
	require.NoError(t, err)
	require.Equal(t, uint64(2), recv2.Seq)
}

func TestConnMaxMessageSizeRejected(t *testing.T) {
	_, client := pipePair(t)

	bigPayload := make(json.RawMessage, MaxMessageSize+1)
	for i := range bigPayload {
		bigPayload[i] = 'A'
	}

	err := client.Send(&Envelope{ID: "big", Type: TypeLog, Payload: bigPayload})
	require.Error(t, err)
}

func TestSendTypedRoundTripsHit(t *testing.T) {
	server, client := pipePair(t)

	done := make(chan error, 1)
	go func() {
		done <- client.SendTyped("hit-1", TypeHit, Hit{Score: 0.97, X: 120, Y: 84, TimestampMs: 1000})
	}()

	recv, err := server.Recv()
	require.NoError(t, err)
	require.NoError(t, <-done)
	require.Equal(t, TypeHit, recv.Type)

	var hit Hit
	require.NoError(t, json.Unmarshal(recv.Payload, &hit))
	require.InDelta(t, 0.97, hit.Score, 0.0001)
	require.Equal(t, 120, hit.X)
}

func TestGenerateSessionKeyProducesDistinctKeys(t *testing.T) {
	key1, err := GenerateSessionKey()
	require.NoError(t, err)
	require.Len(t, key1, 32)

	key2, err := GenerateSessionKey()
	require.NoError(t, err)
	require.NotEqual(t, key1, key2)
}
