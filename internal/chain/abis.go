package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// RegistryContractABI covers the events an on-chain intent registry
// deployment emits. Only the fields the relayer consumes are declared.
const RegistryContractABI = `[
  {"type":"event","name":"IntentOpened","inputs":[
    {"name":"intentId","type":"bytes32","indexed":true},
    {"name":"user","type":"address","indexed":false},
    {"name":"inputToken","type":"address","indexed":false},
    {"name":"inputAmount","type":"uint256","indexed":false},
    {"name":"destChain","type":"string","indexed":false},
    {"name":"outputToken","type":"address","indexed":false},
    {"name":"minOutputAmount","type":"uint256","indexed":false},
    {"name":"deadline","type":"uint256","indexed":false},
    {"name":"nonce","type":"uint64","indexed":false}]},
  {"type":"event","name":"IntentFilled","inputs":[
    {"name":"intentId","type":"bytes32","indexed":true},
    {"name":"solver","type":"address","indexed":false},
    {"name":"outputAmount","type":"uint256","indexed":false}]},
  {"type":"event","name":"IntentSettled","inputs":[
    {"name":"intentId","type":"bytes32","indexed":true},
    {"name":"solver","type":"address","indexed":false}]},
  {"type":"event","name":"IntentRefunded","inputs":[
    {"name":"intentId","type":"bytes32","indexed":true}]}
]`

type RegistryIntentOpened struct {
	User            common.Address
	InputToken      common.Address
	InputAmount     *big.Int
	DestChain       string
	OutputToken     common.Address
	MinOutputAmount *big.Int
	Deadline        *big.Int
	Nonce           uint64
}

type RegistryIntentFilled struct {
	Solver       common.Address
	OutputAmount *big.Int
}

type RegistryIntentSettled struct {
	Solver common.Address
}
