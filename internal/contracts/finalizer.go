package contracts

import (
	"context"
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/flare-foundation/go-flare-common/pkg/logger"
	"github.com/pkg/errors"
)

type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// Finalizer submits oracle answers signed with the chain's answerer key.
// Calls must not be made concurrently, they share the signer's nonce.
type Finalizer struct {
	backend Backend
	key     *ecdsa.PrivateKey
	chainID *big.Int
}

func NewFinalizer(backend Backend, key *ecdsa.PrivateKey, chainID uint64) *Finalizer {
	return &Finalizer{
		backend: backend,
		key:     key,
		chainID: new(big.Int).SetUint64(chainID),
	}
}

func (f *Finalizer) Finalized(ctx context.Context, oracle common.Address) (bool, error) {
	contract := bind.NewBoundContract(oracle, OracleABI, f.backend, f.backend, f.backend)

	var out []interface{}
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, "finalized"); err != nil {
		return false, errors.Wrapf(err, "could not read finalized flag of oracle %s", oracle)
	}

	return out[0].(bool), nil
}

// Finalize sends finalize(result) to the oracle and waits for it to be mined.
func (f *Finalizer) Finalize(ctx context.Context, oracle common.Address, result *big.Int) error {
	opts, err := bind.NewKeyedTransactorWithChainID(f.key, f.chainID)
	if err != nil {
		return err
	}
	opts.Context = ctx

	contract := bind.NewBoundContract(oracle, OracleABI, f.backend, f.backend, f.backend)

	tx, err := contract.Transact(opts, "finalize", result)
	if err != nil {
		return errors.Wrapf(err, "could not submit finalization of oracle %s", oracle)
	}

	logger.Infof("finalization of oracle %s submitted in tx %s", oracle, tx.Hash())

	receipt, err := bind.WaitMined(ctx, f.backend, tx)
	if err != nil {
		return errors.Wrapf(err, "could not confirm finalization tx %s", tx.Hash())
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return errors.Errorf("finalization tx %s of oracle %s reverted", tx.Hash(), oracle)
	}

	return nil
}
