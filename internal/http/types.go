package http

// OpenIntentRequest opens an intent with funds already on the source chain.
type OpenIntentRequest struct {
	SourceChain     string `json:"source_chain" binding:"required"`
	User            string `json:"user" binding:"required"`
	InputToken      string `json:"input_token" binding:"required"`
	InputAmount     string `json:"input_amount" binding:"required"`
	DestChain       string `json:"dest_chain" binding:"required"`
	OutputToken     string `json:"output_token" binding:"required"`
	MinOutputAmount string `json:"min_output_amount" binding:"required"`
	Deadline        int64  `json:"deadline" binding:"required"`
	Nonce           uint64 `json:"nonce"`
}

// GaslessIntentRequest opens an intent under a signed transfer
// authorization instead of a user transaction.
type GaslessIntentRequest struct {
	Intent       OpenIntentRequest `json:"intent" binding:"required"`
	Payee        string            `json:"payee" binding:"required"`
	Value        string            `json:"value" binding:"required"`
	ValidAfter   int64             `json:"valid_after"`
	ValidBefore  int64             `json:"valid_before" binding:"required"`
	AuthNonce    string            `json:"auth_nonce" binding:"required"`
	SignatureHex string            `json:"signature" binding:"required"`
}

// StakeRequest registers collateral for a solver or XLP.
type StakeRequest struct {
	Owner  string   `json:"owner" binding:"required"`
	Role   string   `json:"role" binding:"required"`
	Amount string   `json:"amount" binding:"required"`
	Chains []string `json:"chains" binding:"required"`
}

// TopUpRequest adds collateral to an existing stake.
type TopUpRequest struct {
	Amount string `json:"amount" binding:"required"`
}

// VoucherRequest fronts a user instant credit from an XLP.
type VoucherRequest struct {
	Xlp    string `json:"xlp" binding:"required"`
	Chain  string `json:"chain" binding:"required"`
	User   string `json:"user" binding:"required"`
	Token  string `json:"token" binding:"required"`
	Amount string `json:"amount" binding:"required"`
}
