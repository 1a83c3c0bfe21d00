package state

import (
	"testing"

	"github.com/interoplabs/intent-relayer/internal/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordLiability(t *testing.T) {
	s := newTestState(t)

	require.NoError(t, s.RecordLiability(&db.Liability{
		Chain:    "dest",
		Token:    "0xout",
		Debtor:   "0xuser",
		Creditor: "0xsolver",
		Amount:   "990000",
		Reason:   "fill race reversal failed",
	}))

	got, err := s.GetLiabilities("0xsolver")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "0xuser", got[0].Debtor)
	assert.Equal(t, "990000", got[0].Amount)
	assert.False(t, got[0].CreatedAt.IsZero())

	none, err := s.GetLiabilities("0xother")
	require.NoError(t, err)
	assert.Empty(t, none)
}
