package db

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// Intent model, the source-chain intent lifecycle
type Intent struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	IntentId        string    `gorm:"not null;uniqueIndex" json:"intent_id"`
	SourceChain     string    `gorm:"not null" json:"source_chain"`
	User            string    `gorm:"not null" json:"user"`
	InputToken      string    `gorm:"not null" json:"input_token"`
	InputAmount     string    `gorm:"not null" json:"input_amount"` // decimal string, token base units
	DestChain       string    `gorm:"not null" json:"dest_chain"`
	OutputToken     string    `gorm:"not null" json:"output_token"`
	MinOutputAmount string    `gorm:"not null" json:"min_output_amount"`
	Deadline        int64     `gorm:"not null" json:"deadline"` // unix seconds
	Nonce           uint64    `gorm:"not null" json:"nonce"`
	Status          string    `gorm:"not null;index" json:"status"` // "open", "filled", "settled", "refunded"
	CreatedAt       time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time `gorm:"not null" json:"updated_at"`
}

// Fill model, at most one accepted fill per intent
type Fill struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	IntentId     string    `gorm:"not null;uniqueIndex" json:"intent_id"`
	Solver       string    `gorm:"not null;index" json:"solver"`
	DestTxHash   string    `gorm:"not null" json:"dest_tx_hash"`
	OutputAmount string    `gorm:"not null" json:"output_amount"`
	FillHash     string    `gorm:"not null;index" json:"fill_hash"`
	FilledAt     time.Time `gorm:"not null" json:"filled_at"`
	UpdatedAt    time.Time `gorm:"not null" json:"updated_at"`
}

// Attestation model, one accepted attestation per intent
type Attestation struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	IntentId   string    `gorm:"not null;uniqueIndex" json:"intent_id"`
	FillHash   string    `gorm:"not null;uniqueIndex" json:"fill_hash"`
	Strategy   string    `gorm:"not null" json:"strategy"` // "quorum", "relayed"
	Proof      []byte    `gorm:"not null" json:"proof"`
	AttestedAt time.Time `gorm:"not null" json:"attested_at"`
}

// AttesterSignature model, individual quorum signatures as they arrive.
// The composite unique index means a duplicate signer never counts twice.
type AttesterSignature struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	FillHash   string    `gorm:"not null;index:unique_fill_signer,unique" json:"fill_hash"`
	Signer     string    `gorm:"not null;index:unique_fill_signer,unique" json:"signer"`
	Signature  []byte    `gorm:"not null" json:"signature"`
	ReceivedAt time.Time `gorm:"not null" json:"received_at"`
}

// EscrowEntry model, escrowed input value held by the registry
type EscrowEntry struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	IntentId  string    `gorm:"not null;uniqueIndex" json:"intent_id"`
	Token     string    `gorm:"not null" json:"token"`
	Amount    string    `gorm:"not null" json:"amount"`
	Holder    string    `gorm:"not null" json:"holder"`       // original depositor, refund target
	Status    string    `gorm:"not null" json:"status"`       // "held", "released", "refunded"
	PaidTo    string    `json:"paid_to"`                      // solver on release
	FeeAmount string    `json:"fee_amount"`                   // protocol fee withheld on release
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

// AuthorizationNonce model, consumed gasless-payment nonces
type AuthorizationNonce struct {
	ID     uint      `gorm:"primaryKey" json:"id"`
	Payer  string    `gorm:"not null;index:unique_payer_nonce,unique" json:"payer"`
	Nonce  string    `gorm:"not null;index:unique_payer_nonce,unique" json:"nonce"`
	UsedAt time.Time `gorm:"not null" json:"used_at"`
}

// Stake model (solver or XLP collateral)
type Stake struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Owner           string    `gorm:"not null;index:unique_owner_role,unique" json:"owner"`
	Role            string    `gorm:"not null;index:unique_owner_role,unique" json:"role"` // "solver", "xlp"
	Amount          string    `gorm:"not null" json:"amount"`
	SupportedChains string    `gorm:"not null" json:"supported_chains"` // comma separated chain names
	Status          string    `gorm:"not null" json:"status"`           // "active", "withdrawing", "slashed"
	CooldownEndsAt  time.Time `json:"cooldown_ends_at"`
	UpdatedAt       time.Time `gorm:"not null" json:"updated_at"`
}

// Voucher model, XLP instant-credit record
type Voucher struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	VoucherId       string     `gorm:"not null;uniqueIndex" json:"voucher_id"`
	Xlp             string     `gorm:"not null;index" json:"xlp"`
	Chain           string     `gorm:"not null" json:"chain"`
	User            string     `gorm:"not null" json:"user"`
	Amount          string     `gorm:"not null" json:"amount"`
	Status          string     `gorm:"not null;index" json:"status"` // "pending", "claimed", "disputed", "slashed"
	MessageId       string     `json:"message_id"`                   // anchor deposit message, set at issue
	IssuedAt        time.Time  `gorm:"not null" json:"issued_at"`
	ClaimedAt       *time.Time `json:"claimed_at"`
	DisputeDeadline time.Time  `gorm:"not null" json:"dispute_deadline"`
	UpdatedAt       time.Time  `gorm:"not null" json:"updated_at"`
}

// SlashEvent model, audit trail of punitive stake reductions
type SlashEvent struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Owner     string    `gorm:"not null;index" json:"owner"`
	Role      string    `gorm:"not null" json:"role"`
	Amount    string    `gorm:"not null" json:"amount"`
	Reason    string    `gorm:"not null" json:"reason"`
	VoucherId string    `json:"voucher_id"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

// CrossDomainMessage model
type CrossDomainMessage struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	MessageId     string     `gorm:"not null;uniqueIndex" json:"message_id"`
	SourceChain   string     `gorm:"not null" json:"source_chain"`
	TargetChain   string     `gorm:"not null" json:"target_chain"`
	Sender        string     `gorm:"not null" json:"sender"`
	Payload       []byte     `gorm:"not null" json:"payload"`
	Status        string     `gorm:"not null;index" json:"status"` // "pending", "delivered", "failed"
	SentAt        time.Time  `gorm:"not null" json:"sent_at"`
	DeliverableAt time.Time  `gorm:"not null" json:"deliverable_at"` // sent_at + finality delay for the chain pair
	DeliveredAt   *time.Time `json:"delivered_at"`
	UpdatedAt     time.Time  `gorm:"not null" json:"updated_at"`
}

// TokenBalance model, the relayer's view of ledger balances it is
// authoritative for (escrow debits/credits, voucher credits)
type TokenBalance struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Chain     string    `gorm:"not null;index:unique_chain_token_owner,unique" json:"chain"`
	Token     string    `gorm:"not null;index:unique_chain_token_owner,unique" json:"token"`
	Owner     string    `gorm:"not null;index:unique_chain_token_owner,unique" json:"owner"`
	Amount    string    `gorm:"not null" json:"amount"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

// Liability model, funds owed after a compensation transfer could not be
// completed. Settled out of band.
type Liability struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Chain     string    `gorm:"not null" json:"chain"`
	Token     string    `gorm:"not null" json:"token"`
	Debtor    string    `gorm:"not null;index" json:"debtor"`
	Creditor  string    `gorm:"not null;index" json:"creditor"`
	Amount    string    `gorm:"not null" json:"amount"`
	Reason    string    `gorm:"not null" json:"reason"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

// ChainSyncStatus model, last scanned block per remote chain
type ChainSyncStatus struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	Chain         string    `gorm:"not null;uniqueIndex" json:"chain"`
	LastSyncBlock uint64    `gorm:"not null" json:"last_sync_block"`
	UpdatedAt     time.Time `gorm:"not null" json:"updated_at"`
}

func (dm *DatabaseManager) autoMigrate() {
	if err := dm.intentDb.AutoMigrate(&Intent{}, &Fill{}, &Attestation{}, &AttesterSignature{}, &EscrowEntry{}, &AuthorizationNonce{}); err != nil {
		log.Fatalf("Failed to migrate intent database: %v", err)
	}
	if err := dm.liquidityDb.AutoMigrate(&Stake{}, &Voucher{}, &SlashEvent{}); err != nil {
		log.Fatalf("Failed to migrate liquidity database: %v", err)
	}
	if err := dm.chainDb.AutoMigrate(&CrossDomainMessage{}, &ChainSyncStatus{}, &TokenBalance{}, &Liability{}); err != nil {
		log.Fatalf("Failed to migrate chain database: %v", err)
	}
}
