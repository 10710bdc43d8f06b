// Copyright 2024 The bitcraps Authors
// This file is part of the bitcraps library.

package mesh

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/bitcraps/bitcraps/common"
	bccrypto "github.com/bitcraps/bitcraps/crypto"
)

// TestMain verifies no background goroutine (registered tasks, dispatcher
// workers) survives past the package's tests, since mesh is exactly the
// package responsible for spawning and cancelling those.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newSignedEnvelope(t *testing.T, sk bccrypto.PrivateKey, id common.ValidatorID, kind Kind, nonce uint64, payload []byte) *Envelope {
	t.Helper()
	e := &Envelope{Kind: kind, Epoch: 1, Sender: id, Nonce: nonce, Payload: payload}
	e.Sign(sk)
	return e
}

func TestEnvelopeEncodeDecodeRoundTrip(t *testing.T) {
	pk, sk, err := bccrypto.GenerateKey()
	require.NoError(t, err)
	id := common.BytesToValidatorID(pk)

	e := newSignedEnvelope(t, sk, id, KindPropose, 7, []byte("hello"))
	raw := Encode(e)

	got, err := Decode(raw)
	require.NoError(t, err)
	require.Equal(t, e.Kind, got.Kind)
	require.Equal(t, e.Sender, got.Sender)
	require.Equal(t, e.Nonce, got.Nonce)
	require.Equal(t, e.Payload, got.Payload)
	require.True(t, got.Verify(pk))
}

func TestDecodeRejectsTrailingBytes(t *testing.T) {
	pk, sk, err := bccrypto.GenerateKey()
	require.NoError(t, err)
	id := common.BytesToValidatorID(pk)
	e := newSignedEnvelope(t, sk, id, KindCommit, 1, []byte("x"))
	raw := append(Encode(e), 0xFF)

	_, err = Decode(raw)
	require.ErrorIs(t, err, ErrTrailingBytes)
}

func TestDecodeRejectsUnknownKind(t *testing.T) {
	pk, sk, err := bccrypto.GenerateKey()
	require.NoError(t, err)
	id := common.BytesToValidatorID(pk)
	e := newSignedEnvelope(t, sk, id, KindCommit, 1, nil)
	raw := Encode(e)
	raw[1] = 0xFE

	_, err = Decode(raw)
	require.ErrorIs(t, err, ErrUnknownKind)
}

func TestDedupRejectsReplayedNonce(t *testing.T) {
	d := NewDedup(16)
	id := common.BytesToValidatorID([]byte("validator-1"))

	require.NoError(t, d.Record(id, 1))
	require.ErrorIs(t, d.Record(id, 1), ErrDuplicateNonce)
	require.NoError(t, d.Record(id, 2))
}

func TestDedupIsBoundedAndEvictsOldest(t *testing.T) {
	d := NewDedup(4)
	id := common.BytesToValidatorID([]byte("validator-2"))
	for i := uint64(0); i < 10; i++ {
		require.NoError(t, d.Record(id, i))
	}
	require.Equal(t, uint64(6), d.Dropped())
}

func TestQueueShedsLowestPriorityOnOverflow(t *testing.T) {
	q := NewQueue(2)
	id := common.BytesToValidatorID([]byte("validator-3"))

	q.Push(&Envelope{Kind: KindRandomnessCommit, Sender: id, Nonce: 1})
	q.Push(&Envelope{Kind: KindPrepare, Sender: id, Nonce: 2})
	q.Push(&Envelope{Kind: KindPropose, Sender: id, Nonce: 3})

	require.Equal(t, 2, q.Len())
	dropped := q.Dropped()
	require.Equal(t, uint64(1), dropped[KindRandomnessCommit])

	first := q.Pop()
	require.Equal(t, KindPrepare, first.Envelope.Kind)
	second := q.Pop()
	require.Equal(t, KindPropose, second.Envelope.Kind)
	require.Nil(t, q.Pop())
}

func TestQueuePreservesArrivalOrderWithinSamePriority(t *testing.T) {
	q := NewQueue(8)
	id := common.BytesToValidatorID([]byte("validator-4"))
	for i := uint64(0); i < 3; i++ {
		q.Push(&Envelope{Kind: KindPrepare, Sender: id, Nonce: i})
	}
	for i := uint64(0); i < 3; i++ {
		got := q.Pop()
		require.Equal(t, i, got.Envelope.Nonce)
	}
}

func TestDispatcherRoutesVerifiedMessagesAndRejectsBadSig(t *testing.T) {
	pk, sk, err := bccrypto.GenerateKey()
	require.NoError(t, err)
	id := common.BytesToValidatorID(pk)

	otherPK, otherSK, err := bccrypto.GenerateKey()
	require.NoError(t, err)
	otherID := common.BytesToValidatorID(otherPK)

	lookup := func(v common.ValidatorID) (bccrypto.PublicKey, bool) {
		if v == id {
			return pk, true
		}
		if v == otherID {
			return otherPK, true
		}
		return nil, false
	}
	d := NewDispatcher(lookup, 64, 64)

	var received []byte
	d.OnKind(KindPropose, func(sender common.ValidatorID, payload []byte) error {
		received = payload
		return nil
	})

	good := newSignedEnvelope(t, sk, id, KindPropose, 1, []byte("payload-1"))
	require.NoError(t, d.Ingest(Encode(good)))

	tampered := newSignedEnvelope(t, otherSK, otherID, KindPropose, 1, []byte("payload-2"))
	tampered.Sender = id // claims to be id but signed by otherSK
	require.ErrorIs(t, d.Ingest(Encode(tampered)), ErrSigInvalid)

	errs := d.Drain()
	require.Empty(t, errs)
	require.Equal(t, []byte("payload-1"), received)

	stats := d.Stats()
	require.Equal(t, uint64(1), stats.MismatchedSig)
}

func TestDispatcherRejectsDuplicateNonce(t *testing.T) {
	pk, sk, err := bccrypto.GenerateKey()
	require.NoError(t, err)
	id := common.BytesToValidatorID(pk)
	lookup := func(v common.ValidatorID) (bccrypto.PublicKey, bool) { return pk, true }
	d := NewDispatcher(lookup, 64, 64)

	env := newSignedEnvelope(t, sk, id, KindCommit, 5, []byte("a"))
	require.NoError(t, d.Ingest(Encode(env)))
	require.ErrorIs(t, d.Ingest(Encode(env)), ErrDuplicateNonce)
}

func TestBudgetWaitGrantsRequestsWithinBurst(t *testing.T) {
	b := NewBudget(1000, time.Millisecond, 50*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < 5; i++ {
		require.NoError(t, b.Wait(ctx))
	}
}

func TestTaskRegistryShutsDownInPriorityOrder(t *testing.T) {
	r := NewTaskRegistry()
	var order []string
	var mu sync.Mutex

	register := func(name string, cat TaskCategory) {
		_, ctx := r.Register(context.Background(), name, cat, nil)
		go func() {
			<-ctx.Done()
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}()
	}

	register("consensus-applier", TaskConsensus)
	register("network-ingress", TaskNetwork)
	register("maintenance-gc", TaskMaintenance)
	register("ui-console", TaskUI)

	r.Shutdown(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 4)
	require.Equal(t, "ui-console", order[0])
	require.Equal(t, "consensus-applier", order[3])
}
