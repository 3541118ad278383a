package ledger

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"

	"github.com/BrandonDHaskell/poap-dispenser/internal/dispenser/types"
)

// DefaultLogSignature is used when an event does not configure one.
const DefaultLogSignature = "Transfer(address,address,uint256)"

// EVMClient is the subset of the Ethereum RPC the log probe needs.
type EVMClient interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]gethtypes.Log, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error)
}

// DialEVMClient initialises an EVM RPC client for the provided endpoint.
func DialEVMClient(ctx context.Context, endpoint string) (*ethclient.Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("evm endpoint required")
	}
	return ethclient.DialContext(ctx, trimmed)
}

// EVMProbe finds logs emitted by the qualifying contract that carry the
// wallet in an indexed topic.
type EVMProbe struct {
	client EVMClient
}

func NewEVMProbe(client EVMClient) *EVMProbe {
	return &EVMProbe{client: client}
}

// WalletTopics builds the topic filter for sig with wallet at position
// walletTopic. Positions in between are wildcards.
func WalletTopics(sig string, walletTopic int, wallet common.Address) ([][]common.Hash, error) {
	if walletTopic < 1 || walletTopic > 3 {
		return nil, fmt.Errorf("wallet topic must be 1-3, got %d", walletTopic)
	}
	if strings.TrimSpace(sig) == "" {
		sig = DefaultLogSignature
	}
	topics := make([][]common.Hash, walletTopic+1)
	topics[0] = []common.Hash{gethcrypto.Keccak256Hash([]byte(sig))}
	topics[walletTopic] = []common.Hash{common.BytesToHash(wallet.Bytes())}
	return topics, nil
}

func (p *EVMProbe) Probe(ctx context.Context, q Query) (types.Evidence, error) {
	if !common.IsHexAddress(q.Contract) {
		return types.Evidence{}, fmt.Errorf("evm probe: contract %q is not an address", q.Contract)
	}
	wallet := common.HexToAddress(q.WalletAddress)

	walletTopic := q.WalletTopic
	if walletTopic == 0 {
		walletTopic = 1
	}
	topics, err := WalletTopics(q.LogSignature, walletTopic, wallet)
	if err != nil {
		return types.Evidence{}, err
	}

	head, err := p.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return types.Evidence{}, fmt.Errorf("fetch head: %w", err)
	}
	if head == nil || head.Number == nil {
		return types.Evidence{}, fmt.Errorf("%w: head header missing", ErrMalformed)
	}

	filter := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(q.FromBlock),
		Addresses: []common.Address{common.HexToAddress(q.Contract)},
		Topics:    topics,
	}
	if q.ToBlock > 0 {
		filter.ToBlock = new(big.Int).SetUint64(q.ToBlock)
	}

	logs, err := p.client.FilterLogs(ctx, filter)
	if err != nil {
		return types.Evidence{}, fmt.Errorf("filter logs: %w", err)
	}

	headNum := head.Number.Uint64()
	blockTimes := make(map[uint64]time.Time)
	txs := make([]types.Transaction, 0, len(logs))
	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		at, ok := blockTimes[lg.BlockNumber]
		if !ok {
			h, err := p.client.HeaderByNumber(ctx, new(big.Int).SetUint64(lg.BlockNumber))
			if err != nil {
				return types.Evidence{}, fmt.Errorf("fetch header %d: %w", lg.BlockNumber, err)
			}
			if h == nil {
				return types.Evidence{}, fmt.Errorf("%w: header %d missing", ErrMalformed, lg.BlockNumber)
			}
			at = time.Unix(int64(h.Time), 0).UTC()
			blockTimes[lg.BlockNumber] = at
		}

		var confirmations uint64
		if headNum >= lg.BlockNumber {
			confirmations = headNum - lg.BlockNumber + 1
		}

		tx := types.Transaction{
			TxHash:        lg.TxHash.Hex(),
			Target:        lg.Address.Hex(),
			ObservedAt:    at,
			BlockNumber:   lg.BlockNumber,
			Confirmations: confirmations,
		}
		if len(lg.Data) >= 32 {
			tx.Value = new(uint256.Int).SetBytes(lg.Data[:32])
		}
		txs = append(txs, tx)
	}
	return evidenceFor(q, txs), nil
}
