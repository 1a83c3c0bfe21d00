package types

import (
	"bytes"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// authorizationPrefix versions the signed payload, the same way the x402
// facilitator prefixes its payment messages.
const authorizationPrefix = "x402:intent:transfer:v1:"

// TransferAuthorization is an off-chain signed, single-use value transfer
// authorization in the EIP-3009 style. The payer signs it once; the bridge
// pulls funds under it without the payer sending any transaction.
type TransferAuthorization struct {
	Payer       common.Address `json:"payer"`
	Payee       common.Address `json:"payee"`
	Token       common.Address `json:"token"`
	Value       *big.Int       `json:"value"`
	ValidAfter  int64          `json:"validAfter"`
	ValidBefore int64          `json:"validBefore"`
	Nonce       common.Hash    `json:"nonce"`
	Signature   []byte         `json:"signature"`
}

// Digest returns the hash the payer signs.
func (a *TransferAuthorization) Digest() common.Hash {
	var buf []byte
	buf = append(buf, []byte(authorizationPrefix)...)
	buf = append(buf, a.Payer.Bytes()...)
	buf = append(buf, a.Payee.Bytes()...)
	buf = append(buf, a.Token.Bytes()...)
	buf = append(buf, common.LeftPadBytes(a.Value.Bytes(), 32)...)
	buf = append(buf, common.LeftPadBytes(big.NewInt(a.ValidAfter).Bytes(), 32)...)
	buf = append(buf, common.LeftPadBytes(big.NewInt(a.ValidBefore).Bytes(), 32)...)
	buf = append(buf, a.Nonce.Bytes()...)
	return crypto.Keccak256Hash(buf)
}

// Sign signs the authorization digest with the payer's key and stores the
// 65-byte signature on the authorization.
func (a *TransferAuthorization) Sign(privKeyHex string) error {
	key, err := crypto.HexToECDSA(privKeyHex)
	if err != nil {
		return err
	}
	sig, err := crypto.Sign(a.Digest().Bytes(), key)
	if err != nil {
		return err
	}
	a.Signature = sig
	return nil
}

// VerifySignature recovers the signer from the signature and checks it
// matches the declared payer.
func (a *TransferAuthorization) VerifySignature() bool {
	if len(a.Signature) != crypto.SignatureLength {
		return false
	}
	pub, err := crypto.SigToPub(a.Digest().Bytes(), a.Signature)
	if err != nil {
		return false
	}
	return bytes.Equal(crypto.PubkeyToAddress(*pub).Bytes(), a.Payer.Bytes())
}
