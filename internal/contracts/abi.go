package contracts

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const factoryABIJSON = `[
	{"type":"event","name":"CreateToken","anonymous":false,"inputs":[
		{"name":"token","type":"address","indexed":false}
	]}
]`

const kpiTokenABIJSON = `[
	{"type":"function","name":"oracles","stateMutability":"view","inputs":[],"outputs":[
		{"name":"","type":"address[]"}
	]}
]`

const oracleABIJSON = `[
	{"type":"function","name":"finalized","stateMutability":"view","inputs":[],"outputs":[
		{"name":"","type":"bool"}
	]},
	{"type":"function","name":"template","stateMutability":"view","inputs":[],"outputs":[
		{"name":"","type":"tuple","components":[
			{"name":"addrezz","type":"address"},
			{"name":"version","type":"uint128"},
			{"name":"id","type":"uint256"},
			{"name":"specification","type":"string"}
		]}
	]},
	{"type":"function","name":"specification","stateMutability":"view","inputs":[],"outputs":[
		{"name":"","type":"string"}
	]},
	{"type":"function","name":"measurementTimestamp","stateMutability":"view","inputs":[],"outputs":[
		{"name":"","type":"uint256"}
	]},
	{"type":"function","name":"finalize","stateMutability":"nonpayable","inputs":[
		{"name":"result","type":"uint256"}
	],"outputs":[]}
]`

const multicallABIJSON = `[
	{"type":"function","name":"aggregate3","stateMutability":"payable","inputs":[
		{"name":"calls","type":"tuple[]","components":[
			{"name":"target","type":"address"},
			{"name":"allowFailure","type":"bool"},
			{"name":"callData","type":"bytes"}
		]}
	],"outputs":[
		{"name":"returnData","type":"tuple[]","components":[
			{"name":"success","type":"bool"},
			{"name":"returnData","type":"bytes"}
		]}
	]}
]`

var (
	FactoryABI   = mustParseABI(factoryABIJSON)
	KPITokenABI  = mustParseABI(kpiTokenABIJSON)
	OracleABI    = mustParseABI(oracleABIJSON)
	MulticallABI = mustParseABI(multicallABIJSON)
)

// Template mirrors the template tuple returned by oracle contracts.
type Template struct {
	Addrezz       common.Address
	Version       *big.Int
	Id            *big.Int
	Specification string
}

type Call3 struct {
	Target       common.Address
	AllowFailure bool
	CallData     []byte
}

type Call3Result struct {
	Success    bool
	ReturnData []byte
}

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}

	return parsed
}

// CreateTokenTopic is the topic0 of factory token creation logs.
func CreateTokenTopic() common.Hash {
	return FactoryABI.Events["CreateToken"].ID
}
