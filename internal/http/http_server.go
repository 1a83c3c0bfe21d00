package http

import (
	"context"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/interoplabs/intent-relayer/internal/chain"
	"github.com/interoplabs/intent-relayer/internal/config"
	"github.com/interoplabs/intent-relayer/internal/db"
	"github.com/interoplabs/intent-relayer/internal/gasless"
	"github.com/interoplabs/intent-relayer/internal/liquidity"
	"github.com/interoplabs/intent-relayer/internal/registry"
	"github.com/interoplabs/intent-relayer/internal/state"
	"github.com/interoplabs/intent-relayer/internal/types"
)

type HTTPServer struct {
	state     *state.State
	registry  *registry.IntentRegistry
	bridge    *gasless.GaslessIntentBridge
	liquidity *liquidity.LiquidityManager
	bank      chain.Bank
}

func NewHTTPServer(st *state.State, reg *registry.IntentRegistry, bridge *gasless.GaslessIntentBridge, lm *liquidity.LiquidityManager, bank chain.Bank) *HTTPServer {
	return &HTTPServer{
		state:     st,
		registry:  reg,
		bridge:    bridge,
		liquidity: lm,
		bank:      bank,
	}
}

func (hs *HTTPServer) Start(ctx context.Context) {
	r := gin.Default()

	v1 := r.Group("/api/v1")
	v1.POST("/intents", hs.handleOpenIntent)
	v1.POST("/intents/gasless", hs.handleGaslessIntent)
	v1.GET("/intents/:id", hs.handleGetIntent)
	v1.POST("/intents/:id/refund", hs.handleRefundIntent)
	v1.POST("/stakes", hs.handleCreateStake)
	v1.POST("/stakes/:owner/topup", hs.handleTopUpStake)
	v1.POST("/vouchers", hs.handleIssueVoucher)
	v1.GET("/vouchers/:id", hs.handleGetVoucher)
	v1.POST("/vouchers/:id/dispute", hs.handleDisputeVoucher)
	v1.GET("/balances/:chain/:token/:owner", hs.handleGetBalance)

	srv := &http.Server{
		Addr:    ":" + config.AppConfig.HTTPPort,
		Handler: r,
	}

	go func() {
		log.Infof("HTTP server is running on port %s", config.AppConfig.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start HTTP server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("HTTP server is stopping...")
	if err := srv.Shutdown(context.Background()); err != nil {
		log.Errorf("HTTP server shutdown error: %v", err)
	}
}

func intentParamsFromRequest(req OpenIntentRequest) (types.IntentParams, bool) {
	inputAmount, ok1 := types.ParseAmount(req.InputAmount)
	minOutput, ok2 := types.ParseAmount(req.MinOutputAmount)
	if !ok1 || !ok2 {
		return types.IntentParams{}, false
	}
	return types.IntentParams{
		SourceChain:     req.SourceChain,
		User:            common.HexToAddress(req.User),
		InputToken:      common.HexToAddress(req.InputToken),
		InputAmount:     inputAmount,
		DestChain:       req.DestChain,
		OutputToken:     common.HexToAddress(req.OutputToken),
		MinOutputAmount: minOutput,
		Deadline:        req.Deadline,
		Nonce:           req.Nonce,
	}, true
}

func (hs *HTTPServer) handleOpenIntent(c *gin.Context) {
	var req OpenIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	params, ok := intentParamsFromRequest(req)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}

	intentId, err := hs.registry.Open(params)
	if err != nil {
		c.JSON(intentErrStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"intent_id": intentId.Hex()})
}

func (hs *HTTPServer) handleGaslessIntent(c *gin.Context) {
	var req GaslessIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	params, ok := intentParamsFromRequest(req.Intent)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}
	value, ok := types.ParseAmount(req.Value)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid authorization value"})
		return
	}
	signature, err := hex.DecodeString(strings.TrimPrefix(req.SignatureHex, "0x"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature encoding"})
		return
	}

	auth := types.TransferAuthorization{
		Payer:       params.User,
		Payee:       common.HexToAddress(req.Payee),
		Token:       params.InputToken,
		Value:       value,
		ValidAfter:  req.ValidAfter,
		ValidBefore: req.ValidBefore,
		Nonce:       common.HexToHash(req.AuthNonce),
		Signature:   signature,
	}

	intentId, err := hs.bridge.SubmitIntent(auth, params)
	if err != nil {
		c.JSON(intentErrStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"intent_id": intentId.Hex()})
}

func (hs *HTTPServer) handleGetIntent(c *gin.Context) {
	intentId := c.Param("id")
	intent, err := hs.state.GetIntentByID(intentId)
	if err != nil {
		c.JSON(intentErrStatus(err), gin.H{"error": err.Error()})
		return
	}

	resp := gin.H{"intent": intent}
	if fill, err := hs.state.GetFillByIntent(intentId); err == nil {
		resp["fill"] = fill
	}
	if att, err := hs.state.GetAttestationByIntent(intentId); err == nil {
		resp["attestation"] = att
	}
	c.JSON(http.StatusOK, resp)
}

func (hs *HTTPServer) handleRefundIntent(c *gin.Context) {
	err := hs.registry.Refund(common.HexToHash(c.Param("id")))
	if err != nil {
		c.JSON(intentErrStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (hs *HTTPServer) handleCreateStake(c *gin.Context) {
	var req StakeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amount, ok := types.ParseAmount(req.Amount)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}

	var err error
	if req.Role == liquidity.ROLE_XLP {
		err = hs.liquidity.Register(req.Owner, req.Chains, amount)
	} else {
		err = hs.state.CreateStake(&db.Stake{
			Owner:           req.Owner,
			Role:            req.Role,
			Amount:          amount.String(),
			SupportedChains: strings.Join(req.Chains, ","),
		})
	}
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "ok"})
}

func (hs *HTTPServer) handleTopUpStake(c *gin.Context) {
	var req TopUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amount, ok := types.ParseAmount(req.Amount)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}
	if err := hs.liquidity.TopUp(c.Param("owner"), amount); err != nil {
		c.JSON(voucherErrStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (hs *HTTPServer) handleIssueVoucher(c *gin.Context) {
	var req VoucherRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amount, ok := types.ParseAmount(req.Amount)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}

	voucherId, err := hs.liquidity.IssueVoucher(req.Xlp, req.Chain, req.User, req.Token, amount)
	if err != nil {
		c.JSON(voucherErrStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"voucher_id": voucherId})
}

func (hs *HTTPServer) handleGetVoucher(c *gin.Context) {
	voucher, err := hs.state.GetVoucherByID(c.Param("id"))
	if err != nil {
		c.JSON(voucherErrStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"voucher": voucher})
}

func (hs *HTTPServer) handleDisputeVoucher(c *gin.Context) {
	if err := hs.liquidity.Dispute(c.Param("id")); err != nil {
		c.JSON(voucherErrStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (hs *HTTPServer) handleGetBalance(c *gin.Context) {
	balance, err := hs.bank.Balance(c.Param("chain"), c.Param("token"), c.Param("owner"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": balance.String()})
}

func intentErrStatus(err error) int {
	switch err {
	case registry.ErrInvalidIntent, gasless.ErrInvalidSignature, gasless.ErrValueMismatch:
		return http.StatusBadRequest
	case registry.ErrInsufficientFunds:
		return http.StatusPaymentRequired
	case state.ErrIntentNotFound:
		return http.StatusNotFound
	case state.ErrAlreadyFilled, state.ErrAlreadySettled, state.ErrIntentNotOpen,
		registry.ErrIntentExpired, registry.ErrIntentNotExpired,
		gasless.ErrAuthorizationReplayed, gasless.ErrAuthorizationExpired:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func voucherErrStatus(err error) int {
	switch err {
	case state.ErrVoucherNotFound, state.ErrStakeNotFound:
		return http.StatusNotFound
	case liquidity.ErrXLPNotStaked, liquidity.ErrChainNotCovered, liquidity.ErrBelowMinStake:
		return http.StatusForbidden
	case liquidity.ErrVoucherCapExceeded:
		return http.StatusPaymentRequired
	case state.ErrVoucherNotPending, liquidity.ErrDisputeWindowClosed:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
