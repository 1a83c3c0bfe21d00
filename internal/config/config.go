package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

var AppConfig Config

func InitConfig() {
	// .env is optional, environment variables win
	_ = godotenv.Load()
	viper.AutomaticEnv()

	// Default config
	viper.SetDefault("HTTP_PORT", "8080")
	viper.SetDefault("LIBP2P_PORT", 4001)
	viper.SetDefault("LIBP2P_BOOT_NODES", "")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("DB_DIR", "/app/db")
	viper.SetDefault("SOURCE_CHAIN", "source")
	viper.SetDefault("DEST_CHAIN", "dest")
	viper.SetDefault("ANCHOR_CHAIN", "anchor")
	viper.SetDefault("REMOTE_RPC", "")
	viper.SetDefault("REMOTE_CHAIN", "")
	viper.SetDefault("REMOTE_REGISTRY_CONTRACT", "")
	viper.SetDefault("REMOTE_START_HEIGHT", 0)
	viper.SetDefault("REMOTE_CONFIRMATIONS", 3)
	viper.SetDefault("REMOTE_MAX_BLOCK_RANGE", 500)
	viper.SetDefault("REMOTE_REQUEST_INTERVAL", "10s")
	viper.SetDefault("ORACLE_STRATEGY", "quorum")
	viper.SetDefault("ATTESTER_SET", "")
	viper.SetDefault("ATTESTER_QUORUM", 2)
	viper.SetDefault("ATTESTER_PRIVATE_KEY", "")
	viper.SetDefault("MESSENGER_FINALITY_DELAY", "30s")
	viper.SetDefault("MESSENGER_TRUSTED_SENDER", "")
	viper.SetDefault("MESSENGER_DELIVERY_INTERVAL", "5s")
	viper.SetDefault("MIN_STAKE", "1000000000000000000")
	viper.SetDefault("STAKE_COOLDOWN", "72h")
	viper.SetDefault("XLP_VOUCHER_CAP_MULTIPLE", 5)
	viper.SetDefault("VOUCHER_DISPUTE_WINDOW", "1h")
	viper.SetDefault("PROTOCOL_FEE_BPS", 10)
	viper.SetDefault("SOLVER_PRIVATE_KEY", "")
	viper.SetDefault("SOLVER_MIN_MARGIN_BPS", 30)
	viper.SetDefault("SOLVER_POLL_INTERVAL", "5s")
	viper.SetDefault("SOLVER_CLAIM_INTERVAL", "10s")
	viper.SetDefault("SOLVER_GAS_COST", "0")
	viper.SetDefault("RETENTION_WINDOW", "720h")
	viper.SetDefault("PRUNE_INTERVAL", "1h")
	viper.SetDefault("ENABLE_SOLVER", true)
	viper.SetDefault("ENABLE_ATTESTER", true)
	viper.SetDefault("ENABLE_HTTP", true)
	viper.SetDefault("ENABLE_P2P", false)

	logLevel, err := logrus.ParseLevel(strings.ToLower(viper.GetString("LOG_LEVEL")))
	if err != nil {
		logrus.Fatalf("Invalid log level: %v", err)
	}

	feeBps := viper.GetInt("PROTOCOL_FEE_BPS")
	if feeBps < 0 || feeBps > 1000 {
		logrus.Fatalf("Invalid protocol fee %d bps, must be within [0, 1000]", feeBps)
	}

	AppConfig = Config{
		HTTPPort:              viper.GetString("HTTP_PORT"),
		Libp2pPort:            viper.GetInt("LIBP2P_PORT"),
		Libp2pBootNodes:       viper.GetString("LIBP2P_BOOT_NODES"),
		DbDir:                 viper.GetString("DB_DIR"),
		LogLevel:              logLevel,
		SourceChain:           viper.GetString("SOURCE_CHAIN"),
		DestChain:             viper.GetString("DEST_CHAIN"),
		AnchorChain:           viper.GetString("ANCHOR_CHAIN"),
		RemoteRPC:             viper.GetString("REMOTE_RPC"),
		RemoteChain:           viper.GetString("REMOTE_CHAIN"),
		RemoteRegistry:        viper.GetString("REMOTE_REGISTRY_CONTRACT"),
		RemoteStartHeight:     viper.GetUint64("REMOTE_START_HEIGHT"),
		RemoteConfirmations:   viper.GetUint64("REMOTE_CONFIRMATIONS"),
		RemoteMaxBlockRange:   viper.GetUint64("REMOTE_MAX_BLOCK_RANGE"),
		RemoteRequestInterval: viper.GetDuration("REMOTE_REQUEST_INTERVAL"),
		OracleStrategy:        viper.GetString("ORACLE_STRATEGY"),
		AttesterSet:           splitNonEmpty(viper.GetString("ATTESTER_SET")),
		AttesterQuorum:        viper.GetInt("ATTESTER_QUORUM"),
		AttesterPriKey:        viper.GetString("ATTESTER_PRIVATE_KEY"),
		MessengerDelay:        viper.GetDuration("MESSENGER_FINALITY_DELAY"),
		TrustedSender:         viper.GetString("MESSENGER_TRUSTED_SENDER"),
		MessengerInterval:     viper.GetDuration("MESSENGER_DELIVERY_INTERVAL"),
		MinStake:              viper.GetString("MIN_STAKE"),
		StakeCooldown:         viper.GetDuration("STAKE_COOLDOWN"),
		VoucherCapMultiple:    viper.GetInt64("XLP_VOUCHER_CAP_MULTIPLE"),
		VoucherDisputeWindow:  viper.GetDuration("VOUCHER_DISPUTE_WINDOW"),
		ProtocolFeeBps:        int64(feeBps),
		SolverPriKey:          viper.GetString("SOLVER_PRIVATE_KEY"),
		SolverMinMarginBps:    viper.GetInt64("SOLVER_MIN_MARGIN_BPS"),
		SolverPollInterval:    viper.GetDuration("SOLVER_POLL_INTERVAL"),
		SolverClaimInterval:   viper.GetDuration("SOLVER_CLAIM_INTERVAL"),
		SolverGasCost:         viper.GetString("SOLVER_GAS_COST"),
		RetentionWindow:       viper.GetDuration("RETENTION_WINDOW"),
		PruneInterval:         viper.GetDuration("PRUNE_INTERVAL"),
		EnableSolver:          viper.GetBool("ENABLE_SOLVER"),
		EnableAttester:        viper.GetBool("ENABLE_ATTESTER"),
		EnableHTTP:            viper.GetBool("ENABLE_HTTP"),
		EnableP2P:             viper.GetBool("ENABLE_P2P"),
	}

	logrus.Infof("Init config, oracle strategy %s, quorum %d/%d, dispute window %v",
		AppConfig.OracleStrategy, AppConfig.AttesterQuorum, len(AppConfig.AttesterSet), AppConfig.VoucherDisputeWindow)

	logrus.SetOutput(os.Stdout)
	logrus.SetLevel(AppConfig.LogLevel)
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

type Config struct {
	HTTPPort              string
	Libp2pPort            int
	Libp2pBootNodes       string
	DbDir                 string
	LogLevel              logrus.Level
	SourceChain           string
	DestChain             string
	AnchorChain           string
	RemoteRPC             string
	RemoteChain           string
	RemoteRegistry        string
	RemoteStartHeight     uint64
	RemoteConfirmations   uint64
	RemoteMaxBlockRange   uint64
	RemoteRequestInterval time.Duration
	OracleStrategy        string
	AttesterSet           []string
	AttesterQuorum        int
	AttesterPriKey        string
	MessengerDelay        time.Duration
	TrustedSender         string
	MessengerInterval     time.Duration
	MinStake              string
	StakeCooldown         time.Duration
	VoucherCapMultiple    int64
	VoucherDisputeWindow  time.Duration
	ProtocolFeeBps        int64
	SolverPriKey          string
	SolverMinMarginBps    int64
	SolverPollInterval    time.Duration
	SolverClaimInterval   time.Duration
	SolverGasCost         string
	RetentionWindow       time.Duration
	PruneInterval         time.Duration
	EnableSolver          bool
	EnableAttester        bool
	EnableHTTP            bool
	EnableP2P             bool
}
