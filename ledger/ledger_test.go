// Copyright 2024 The bitcraps Authors
// This file is part of the bitcraps library.

package ledger

import (
	"fmt"
	"path/filepath"
	"testing"

	fuzz "github.com/google/gofuzz"
	"github.com/stretchr/testify/require"

	"github.com/bitcraps/bitcraps/common"
	"github.com/bitcraps/bitcraps/storage"
)

func newTestLedger(t *testing.T) (*Ledger, string) {
	t.Helper()
	dir := t.TempDir()
	walDir := filepath.Join(dir, "wal")
	wal, err := storage.OpenWAL(walDir, storage.FsyncAlways)
	require.NoError(t, err)
	l, err := New(storage.NewMemDB(), wal, walDir, 1_000_000)
	require.NoError(t, err)
	return l, walDir
}

var player1 = common.PlayerAccount(common.BytesToPlayerID([]byte("player-1")))

func TestApplyCreditsAndDebits(t *testing.T) {
	l, _ := newTestLedger(t)
	require.NoError(t, l.Apply(1, []Delta{
		{Account: common.TreasuryAccount, Amount: -500},
		{Account: player1, Amount: 500},
	}))
	require.Equal(t, uint64(500), l.Balance(player1))
	require.Equal(t, uint64(999_500), l.Balance(common.TreasuryAccount))
	require.Equal(t, common.Sequence(1), l.LastSequence())
}

func TestApplyRejectsInsufficientBalance(t *testing.T) {
	l, _ := newTestLedger(t)
	err := l.Apply(1, []Delta{{Account: player1, Amount: -1}})
	require.ErrorIs(t, err, ErrInsufficientBalance)
	require.Equal(t, uint64(0), l.Balance(player1))
}

func TestApplyRejectsOutOfOrderSequence(t *testing.T) {
	l, _ := newTestLedger(t)
	require.NoError(t, l.Apply(1, []Delta{{Account: common.TreasuryAccount, Amount: 0}}))
	err := l.Apply(3, []Delta{{Account: common.TreasuryAccount, Amount: 0}})
	require.ErrorIs(t, err, ErrSeqOutOfOrder)
}

func TestRootChangesWithBalances(t *testing.T) {
	l, _ := newTestLedger(t)
	r0 := l.Root()
	require.NoError(t, l.Apply(1, []Delta{
		{Account: common.TreasuryAccount, Amount: -10},
		{Account: player1, Amount: 10},
	}))
	r1 := l.Root()
	require.NotEqual(t, r0, r1)
}

func TestCheckpointAndRecover(t *testing.T) {
	dir := t.TempDir()
	walDir := filepath.Join(dir, "wal")
	db := storage.NewMemDB()

	wal, err := storage.OpenWAL(walDir, storage.FsyncAlways)
	require.NoError(t, err)
	l, err := New(db, wal, walDir, 1_000_000)
	require.NoError(t, err)

	require.NoError(t, l.Apply(1, []Delta{
		{Account: common.TreasuryAccount, Amount: -100},
		{Account: player1, Amount: 100},
	}))
	require.NoError(t, l.Checkpoint())
	require.NoError(t, l.Apply(2, []Delta{
		{Account: common.TreasuryAccount, Amount: -50},
		{Account: player1, Amount: 50},
	}))
	require.NoError(t, wal.Close())

	wal2, err := storage.OpenWAL(walDir, storage.FsyncAlways)
	require.NoError(t, err)
	recovered, err := New(db, wal2, walDir, 1_000_000)
	require.NoError(t, err)

	require.Equal(t, common.Sequence(2), recovered.LastSequence())
	require.Equal(t, uint64(150), recovered.Balance(player1))
	require.Equal(t, l.Root(), recovered.Root())
}

// TestApplyConservesTotalSupplyUnderRandomTransfers drives the ledger through
// a long run of randomly generated treasury/player transfers and checks that
// total supply never drifts, no matter which accounts and amounts the fuzzer
// happens to pick.
func TestApplyConservesTotalSupplyUnderRandomTransfers(t *testing.T) {
	const treasuryStart = uint64(1_000_000)
	l, _ := newTestLedger(t)

	players := make([]common.Account, 8)
	for i := range players {
		players[i] = common.PlayerAccount(common.BytesToPlayerID([]byte(fmt.Sprintf("fuzz-player-%d", i))))
	}

	f := fuzz.New().NilChance(0).Seed(42)
	seq := common.Sequence(1)
	for i := 0; i < 500; i++ {
		var playerIdx uint8
		f.Fuzz(&playerIdx)
		var amount uint16
		f.Fuzz(&amount)
		var toTreasury bool
		f.Fuzz(&toTreasury)

		player := players[int(playerIdx)%len(players)]
		transfer := int64(amount % 1000)
		if transfer == 0 {
			continue
		}

		var deltas []Delta
		if toTreasury {
			if l.Balance(player) < uint64(transfer) {
				continue
			}
			deltas = []Delta{
				{Account: player, Amount: -transfer},
				{Account: common.TreasuryAccount, Amount: transfer},
			}
		} else {
			if l.Balance(common.TreasuryAccount) < uint64(transfer) {
				continue
			}
			deltas = []Delta{
				{Account: common.TreasuryAccount, Amount: -transfer},
				{Account: player, Amount: transfer},
			}
		}

		require.NoError(t, l.Apply(seq, deltas))
		seq++
	}

	total := l.Balance(common.TreasuryAccount)
	for _, p := range players {
		total += l.Balance(p)
	}
	require.Equal(t, treasuryStart, total)
}
