package types

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Intent statuses, enforced as a strict forward-only lifecycle.
const (
	INTENT_STATUS_OPEN     = "open"
	INTENT_STATUS_FILLED   = "filled"
	INTENT_STATUS_SETTLED  = "settled"
	INTENT_STATUS_REFUNDED = "refunded"
)

// IntentParams is everything a user commits to when opening an intent.
// The intent id is the keccak hash of the canonical encoding, so any
// change to a field yields a different id.
type IntentParams struct {
	SourceChain     string
	User            common.Address
	InputToken      common.Address
	InputAmount     *big.Int
	DestChain       string
	OutputToken     common.Address
	MinOutputAmount *big.Int
	Deadline        int64
	Nonce           uint64
}

// IntentID computes the content hash identifying an intent.
func IntentID(p IntentParams) common.Hash {
	var buf []byte
	buf = append(buf, []byte(p.SourceChain)...)
	buf = append(buf, p.User.Bytes()...)
	buf = append(buf, p.InputToken.Bytes()...)
	buf = append(buf, common.LeftPadBytes(p.InputAmount.Bytes(), 32)...)
	buf = append(buf, []byte(p.DestChain)...)
	buf = append(buf, p.OutputToken.Bytes()...)
	buf = append(buf, common.LeftPadBytes(p.MinOutputAmount.Bytes(), 32)...)
	buf = append(buf, []byte(strconv.FormatInt(p.Deadline, 10))...)
	buf = append(buf, []byte(strconv.FormatUint(p.Nonce, 10))...)
	return crypto.Keccak256Hash(buf)
}

// FillHash binds a recorded fill to its intent. Attesters sign this hash,
// and the registry verifies attestations against it.
func FillHash(intentID common.Hash, solver common.Address, destTxHash common.Hash, outputAmount *big.Int) common.Hash {
	var buf []byte
	buf = append(buf, intentID.Bytes()...)
	buf = append(buf, solver.Bytes()...)
	buf = append(buf, destTxHash.Bytes()...)
	buf = append(buf, common.LeftPadBytes(outputAmount.Bytes(), 32)...)
	return crypto.Keccak256Hash(buf)
}

// ParseAmount parses a decimal amount column into a big.Int. Amount columns
// are stored as decimal strings since token amounts overflow int64.
func ParseAmount(s string) (*big.Int, bool) {
	if s == "" {
		return nil, false
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, false
	}
	return v, true
}
