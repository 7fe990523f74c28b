// Package chainReader wraps the read-only JSON-RPC surface the engine needs.
// Every operation fails with a classified EngineError; raw provider error text
// never leaks past this package.
package chainReader

import (
	"context"
	"errors"
	"math/big"

	"github.com/echofm-labs/scrobble-engine-go/pkg/feeBidder"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// IChainReader provides read-only chain operations.
type IChainReader interface {
	// Call executes eth_call against to with the given calldata.
	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)

	// EstimateGas estimates the gas limit for a call.
	EstimateGas(ctx context.Context, from common.Address, to common.Address, data []byte) (uint64, error)

	// GetCode returns the deployed bytecode at addr.
	GetCode(ctx context.Context, addr common.Address) ([]byte, error)

	// GetChainID returns the endpoint's chain id.
	GetChainID(ctx context.Context) (uint64, error)

	// GetTransactionReceipt returns the receipt for hash, or nil when the
	// transaction has not been included yet.
	GetTransactionReceipt(ctx context.Context, hash common.Hash) (*gethtypes.Receipt, error)

	// HasTransaction reports whether the network still knows the transaction
	// at all (pending or mined).
	HasTransaction(ctx context.Context, hash common.Hash) (bool, error)

	// SuggestFees returns the network-suggested EIP-1559 fee pair.
	SuggestFees(ctx context.Context) (feeBidder.Eip1559Fees, error)
}

// baseFeeMultiplier buffers the suggested max fee against base-fee spikes
// between suggestion and inclusion.
const baseFeeMultiplier = 2

// ChainReader implements IChainReader over an ethclient.
type ChainReader struct {
	client *ethclient.Client
	logger *zap.Logger
}

var _ IChainReader = (*ChainReader)(nil)

// NewChainReader dials the RPC endpoint and wraps it.
func NewChainReader(rpcUrl string, logger *zap.Logger) (*ChainReader, error) {
	client, err := ethclient.Dial(rpcUrl)
	if err != nil {
		return nil, classifyError("dial", err)
	}
	return NewChainReaderFromClient(client, logger), nil
}

// NewChainReaderFromClient wraps an existing client.
func NewChainReaderFromClient(client *ethclient.Client, logger *zap.Logger) *ChainReader {
	return &ChainReader{
		client: client,
		logger: logger,
	}
}

func (r *ChainReader) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	out, err := r.client.CallContract(ctx, ethereum.CallMsg{
		To:   &to,
		Data: data,
	}, nil)
	if err != nil {
		return nil, classifyError("eth_call", err)
	}
	return out, nil
}

func (r *ChainReader) EstimateGas(ctx context.Context, from common.Address, to common.Address, data []byte) (uint64, error) {
	gas, err := r.client.EstimateGas(ctx, ethereum.CallMsg{
		From: from,
		To:   &to,
		Data: data,
	})
	if err != nil {
		return 0, classifyError("eth_estimateGas", err)
	}
	return gas, nil
}

func (r *ChainReader) GetCode(ctx context.Context, addr common.Address) ([]byte, error) {
	code, err := r.client.CodeAt(ctx, addr, nil)
	if err != nil {
		return nil, classifyError("eth_getCode", err)
	}
	return code, nil
}

func (r *ChainReader) GetChainID(ctx context.Context) (uint64, error) {
	id, err := r.client.ChainID(ctx)
	if err != nil {
		return 0, classifyError("eth_chainId", err)
	}
	return id.Uint64(), nil
}

func (r *ChainReader) GetTransactionReceipt(ctx context.Context, hash common.Hash) (*gethtypes.Receipt, error) {
	receipt, err := r.client.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, classifyError("eth_getTransactionReceipt", err)
	}
	return receipt, nil
}

func (r *ChainReader) HasTransaction(ctx context.Context, hash common.Hash) (bool, error) {
	_, _, err := r.client.TransactionByHash(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return false, nil
	}
	if err != nil {
		return false, classifyError("eth_getTransactionByHash", err)
	}
	return true, nil
}

func (r *ChainReader) SuggestFees(ctx context.Context) (feeBidder.Eip1559Fees, error) {
	tip, err := r.client.SuggestGasTipCap(ctx)
	if err != nil {
		return feeBidder.Eip1559Fees{}, classifyError("eth_maxPriorityFeePerGas", err)
	}

	header, err := r.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return feeBidder.Eip1559Fees{}, classifyError("eth_getBlockByNumber", err)
	}

	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee = new(big.Int)
	}
	maxFee := feeBidder.SaturatingAdd(
		feeBidder.SaturatingMul(baseFee, big.NewInt(baseFeeMultiplier)),
		tip,
	)

	r.logger.Sugar().Debugw("SuggestFees",
		"gasTipCap", tip.String(),
		"baseFee", baseFee.String(),
		"maxFeePerGas", maxFee.String(),
	)

	return feeBidder.Eip1559Fees{
		MaxPriorityFeePerGas: tip,
		MaxFeePerGas:         maxFee,
	}, nil
}
