package state

import (
	"math/big"
	"testing"
	"time"

	"github.com/interoplabs/intent-relayer/internal/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addVoucher(t *testing.T, s *State, voucherId, xlp, amount string) {
	require.NoError(t, s.AddPendingVoucher(&db.Voucher{
		VoucherId:       voucherId,
		Xlp:             xlp,
		Chain:           "dest",
		User:            "0xuser",
		Amount:          amount,
		MessageId:       "msg-" + voucherId,
		DisputeDeadline: time.Now().Add(time.Hour),
	}))
}

func TestOutstandingVoucherTotal(t *testing.T) {
	s := newTestState(t)

	addVoucher(t, s, "v1", "0xlp", "100")
	addVoucher(t, s, "v2", "0xlp", "250")
	addVoucher(t, s, "v3", "0xother", "999")

	total, err := s.OutstandingVoucherTotal("0xlp")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(350), total)

	// claimed vouchers drop out, disputed ones stay counted
	require.NoError(t, s.MarkVoucherClaimed("v1"))
	require.NoError(t, s.MarkVoucherDisputed("v2"))

	total, err = s.OutstandingVoucherTotal("0xlp")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(250), total)
}

func TestVoucherTransitions(t *testing.T) {
	s := newTestState(t)
	addVoucher(t, s, "v1", "0xlp", "100")

	require.NoError(t, s.MarkVoucherClaimed("v1"))
	assert.Equal(t, ErrVoucherNotPending, s.MarkVoucherClaimed("v1"))
	assert.Equal(t, ErrVoucherNotPending, s.MarkVoucherDisputed("v1"))

	voucher, err := s.GetVoucherByID("v1")
	require.NoError(t, err)
	assert.Equal(t, "claimed", voucher.Status)
	assert.NotNil(t, voucher.ClaimedAt)
}

func TestVoucherDisputeSlashPath(t *testing.T) {
	s := newTestState(t)
	addVoucher(t, s, "v1", "0xlp", "100")

	require.NoError(t, s.MarkVoucherDisputed("v1"))
	require.NoError(t, s.MarkVoucherSlashed("v1"))

	voucher, err := s.GetVoucherByID("v1")
	require.NoError(t, err)
	assert.Equal(t, "slashed", voucher.Status)
}

func TestReopenDisputedVoucher(t *testing.T) {
	s := newTestState(t)
	addVoucher(t, s, "v1", "0xlp", "100")

	require.NoError(t, s.MarkVoucherDisputed("v1"))
	require.NoError(t, s.ReopenDisputedVoucher("v1"))

	voucher, err := s.GetVoucherByID("v1")
	require.NoError(t, err)
	assert.Equal(t, "pending", voucher.Status)
}

func TestVoucherNotFound(t *testing.T) {
	s := newTestState(t)
	_, err := s.GetVoucherByID("missing")
	assert.Equal(t, ErrVoucherNotFound, err)
	assert.Equal(t, ErrVoucherNotFound, s.MarkVoucherClaimed("missing"))
}

func TestStakeReduceAndSlash(t *testing.T) {
	s := newTestState(t)
	minStake := big.NewInt(100)

	require.NoError(t, s.CreateStake(&db.Stake{Owner: "0xlp", Role: "xlp", Amount: "500", SupportedChains: "dest"}))

	applied, err := s.ReduceStake("0xlp", "xlp", big.NewInt(150), minStake, "unbacked voucher", "v1")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(150), applied)

	stake, err := s.GetStake("0xlp", "xlp")
	require.NoError(t, err)
	assert.Equal(t, "350", stake.Amount)
	assert.Equal(t, "active", stake.Status)

	// slash beyond the balance is clamped and flips the stake to slashed
	applied, err = s.ReduceStake("0xlp", "xlp", big.NewInt(1000), minStake, "unbacked voucher", "v2")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(350), applied)

	stake, err = s.GetStake("0xlp", "xlp")
	require.NoError(t, err)
	assert.Equal(t, "0", stake.Amount)
	assert.Equal(t, "slashed", stake.Status)

	events, err := s.GetSlashEvents("0xlp")
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestStakeWithdrawCooldown(t *testing.T) {
	s := newTestState(t)
	require.NoError(t, s.CreateStake(&db.Stake{Owner: "0xlp", Role: "xlp", Amount: "500", SupportedChains: "dest"}))

	require.NoError(t, s.BeginStakeWithdraw("0xlp", "xlp", time.Hour))

	// cooldown still running
	_, err := s.FinalizeStakeWithdraw("0xlp", "xlp")
	assert.Equal(t, ErrStakeNotFound, err)

	// a second withdraw begin fails while the first is in cooldown
	assert.Equal(t, ErrStakeNotFound, s.BeginStakeWithdraw("0xlp", "xlp", time.Hour))
}

func TestStakeWithdrawFinalize(t *testing.T) {
	s := newTestState(t)
	require.NoError(t, s.CreateStake(&db.Stake{Owner: "0xlp", Role: "xlp", Amount: "500", SupportedChains: "dest"}))
	require.NoError(t, s.BeginStakeWithdraw("0xlp", "xlp", 0))

	amount, err := s.FinalizeStakeWithdraw("0xlp", "xlp")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(500), amount)

	_, err = s.GetStake("0xlp", "xlp")
	assert.Equal(t, ErrStakeNotFound, err)
}
