package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/settlus/settlegate/internal/currency"
	"github.com/settlus/settlegate/internal/ownership"
	"github.com/settlus/settlegate/internal/pkg/logger"
)

// ClientOptions configures a JSON-RPC backed chain client.
type ClientOptions struct {
	RPCURL        string
	ChainID       int64
	OperatorKey   string
	CallTimeout   time.Duration
	CallRetries   int
	GasMultiplier uint64
}

// Client is the on-chain Backend. Every tenant treasury is the operator
// account; transfers from any other account are refused.
type Client struct {
	eth        *ethclient.Client
	chainID    *big.Int
	key        *ecdsa.PrivateKey
	operator   common.Address
	nonces     *NonceManager
	resolver   *ownership.ERC721Resolver
	gasMul     uint64
	timeout    time.Duration
	sendMu     sync.Mutex
	contractMu sync.Mutex
	contracts  map[common.Address]*bind.BoundContract
}

func Dial(ctx context.Context, opts ClientOptions) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, opts.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to eth client: %w", err)
	}
	c, err := NewClient(ctx, eth, opts)
	if err != nil {
		eth.Close()
		return nil, err
	}
	return c, nil
}

func NewClient(ctx context.Context, eth *ethclient.Client, opts ClientOptions) (*Client, error) {
	key, err := ParsePrivateKey(opts.OperatorKey)
	if err != nil {
		return nil, err
	}

	remoteID, err := eth.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query chain id: %w", err)
	}
	if opts.ChainID != 0 && remoteID.Int64() != opts.ChainID {
		return nil, fmt.Errorf("chain id mismatch: configured %d, rpc reports %s", opts.ChainID, remoteID)
	}

	gasMul := opts.GasMultiplier
	if gasMul == 0 {
		gasMul = 1
	}
	timeout := opts.CallTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Client{
		eth:       eth,
		chainID:   remoteID,
		key:       key,
		operator:  crypto.PubkeyToAddress(key.PublicKey),
		nonces:    NewNonceManager(eth),
		resolver:  ownership.NewERC721ResolverWithCaller(eth, timeout, opts.CallRetries),
		gasMul:    gasMul,
		timeout:   timeout,
		contracts: make(map[common.Address]*bind.BoundContract),
	}, nil
}

func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, fmt.Errorf("private key is required")
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return key, nil
}

func (c *Client) Eth() *ethclient.Client {
	return c.eth
}

func (c *Client) Operator() common.Address {
	return c.operator
}

func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

func (c *Client) Close() {
	c.eth.Close()
}

func (c *Client) AllocateTreasury(_ context.Context, _ string) (common.Address, error) {
	return c.operator, nil
}

func (c *Client) OwnerOf(ctx context.Context, contract common.Address, tokenID *big.Int) (common.Address, error) {
	return c.resolver.OwnerOf(ctx, contract, tokenID)
}

func (c *Client) NativeBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.eth.BalanceAt(ctx, account, nil)
}

func (c *Client) NativeTransfer(ctx context.Context, from, to common.Address, amount *big.Int) error {
	if err := c.requireOperator(from); err != nil {
		return err
	}
	_, err := c.SendAndWait(ctx, to, amount, nil)
	return payoutErr(err)
}

func (c *Client) TokenBalance(ctx context.Context, token, account common.Address) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	var out []interface{}
	if err := c.bound(token).Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", account); err != nil {
		return nil, fmt.Errorf("balanceOf %s: %w", token.Hex(), err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("balanceOf %s: unexpected result", token.Hex())
	}
	bal, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("balanceOf %s: unexpected result type %T", token.Hex(), out[0])
	}
	return bal, nil
}

func (c *Client) TokenTransfer(ctx context.Context, token, from, to common.Address, amount *big.Int) error {
	if err := c.requireOperator(from); err != nil {
		return err
	}
	data, err := erc20ABI.Pack("transfer", to, amount)
	if err != nil {
		return fmt.Errorf("failed to pack transfer: %w", err)
	}
	_, err = c.SendAndWait(ctx, token, nil, data)
	return payoutErr(err)
}

func (c *Client) TokenMint(ctx context.Context, token, minter, to common.Address, amount *big.Int) error {
	if minter != c.operator {
		return fmt.Errorf("%w: %s", currency.ErrNotMinter, minter.Hex())
	}
	data, err := erc20ABI.Pack("mint", to, amount)
	if err != nil {
		return fmt.Errorf("failed to pack mint: %w", err)
	}
	_, err = c.SendAndWait(ctx, token, nil, data)
	return payoutErr(err)
}

// DeployToken is not offered over RPC; tenants on a live chain must name an
// existing token contract.
func (c *Client) DeployToken(_ context.Context, _ currency.TokenSpec) (common.Address, error) {
	return common.Address{}, fmt.Errorf("deploy token: %w", currency.ErrUnsupported)
}

// SendTx signs and broadcasts a legacy transaction from the operator.
func (c *Client) SendTx(ctx context.Context, to common.Address, value *big.Int, data []byte) (*types.Transaction, error) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if value == nil {
		value = new(big.Int)
	}
	nonce, err := c.nonces.Next(ctx, c.operator)
	if err != nil {
		return nil, err
	}
	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to suggest gas price: %w", err)
	}
	gas, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{
		From:  c.operator,
		To:    &to,
		Value: value,
		Data:  data,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to estimate gas: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gas * c.gasMul,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign tx: %w", err)
	}
	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		if IsNonceError(err) {
			if rerr := c.nonces.Reset(ctx, c.operator); rerr != nil {
				logger.Warn("nonce reset failed", "error", rerr)
			}
		}
		return nil, fmt.Errorf("failed to send tx: %w", err)
	}
	c.nonces.Increment(c.operator)
	return signed, nil
}

// SendAndWait broadcasts and blocks until the receipt is available.
// A reverted receipt is returned together with an error. Once the tx has been
// broadcast, a failed wait is reported as *PendingTxError.
func (c *Client) SendAndWait(ctx context.Context, to common.Address, value *big.Int, data []byte) (*types.Receipt, error) {
	tx, err := c.SendTx(ctx, to, value, data)
	if err != nil {
		return nil, err
	}
	receipt, err := bind.WaitMined(ctx, c.eth, tx)
	if err != nil {
		return nil, &PendingTxError{Hash: tx.Hash(), Err: err}
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("tx %s reverted", tx.Hash().Hex())
	}
	return receipt, nil
}

// PendingTxError means the tx is in the node's hands and may still be mined.
type PendingTxError struct {
	Hash common.Hash
	Err  error
}

func (e *PendingTxError) Error() string {
	return fmt.Sprintf("wait mined %s: %v", e.Hash.Hex(), e.Err)
}

func (e *PendingTxError) Unwrap() error {
	return e.Err
}

func payoutErr(err error) error {
	var pending *PendingTxError
	if errors.As(err, &pending) {
		return &currency.SubmittedError{TxHash: pending.Hash, Err: pending.Err}
	}
	return err
}

// TxStatus reads back the receipt of a previously broadcast tx. A tx the node
// has no receipt for is still pending; dropping it is left to the operator.
func (c *Client) TxStatus(ctx context.Context, hash common.Hash) (currency.TxState, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	receipt, err := c.eth.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return currency.TxPending, nil
	}
	if err != nil {
		return currency.TxPending, fmt.Errorf("receipt %s: %w", hash.Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return currency.TxReverted, nil
	}
	return currency.TxConfirmed, nil
}

func (c *Client) requireOperator(from common.Address) error {
	if from != c.operator {
		return errors.New("only the operator account can send from " + from.Hex())
	}
	return nil
}

func (c *Client) bound(token common.Address) *bind.BoundContract {
	c.contractMu.Lock()
	defer c.contractMu.Unlock()
	if bc, ok := c.contracts[token]; ok {
		return bc
	}
	bc := bind.NewBoundContract(token, erc20ABI, c.eth, c.eth, c.eth)
	c.contracts[token] = bc
	return bc
}
