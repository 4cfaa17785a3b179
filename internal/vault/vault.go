/*

This file contains the vault ledger aggregate and its transaction boundary.

Every public operation runs through execute: it takes the exclusive lock, marks the context handed to
strategies and the swap router, checkpoints every stateful component, and restores them all if the
operation fails. A call arriving with a marked context is a callback from inside a running operation
and is rejected before it can touch the lock. So is any call arriving while the operation waits on a strategy
or the swap router, whatever context it carries.

*/

package vault

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"

	"github.com/elys-network/pegvault/internal/access"
	"github.com/elys-network/pegvault/internal/bank"
	"github.com/elys-network/pegvault/internal/buffer"
	"github.com/elys-network/pegvault/internal/exchange"
	"github.com/elys-network/pegvault/internal/logger"
	"github.com/elys-network/pegvault/internal/oracle"
	"github.com/elys-network/pegvault/internal/pegtoken"
	"github.com/elys-network/pegvault/internal/strategy"
	"github.com/elys-network/pegvault/internal/types"
)

var vaultLogger = logger.GetForComponent("vault")

// OperationObserver is notified after every ledger operation, successful or not.
type OperationObserver interface {
	ObserveOperation(op string, duration time.Duration, err error)
}

// Config holds everything needed to create a vault ledger.
type Config struct {
	Address         string // custody account of the vault pool and minter of the share token
	BufferAddress   string // custody account of the deposit buffer
	TreasuryAddress string // receives trustee fees
	TokenName       string
	TokenSymbol     string

	Bank     *bank.Bank
	Oracle   oracle.PriceOracle
	Router   exchange.SwapRouter // optional; required to lend assets a strategy does not want
	Access   *access.Control
	Params   types.VaultParameters
	Observer OperationObserver // optional
	Now      func() time.Time  // optional
}

type strategyEntry struct {
	params types.StrategyParams
	impl   strategy.Strategy
}

// adjustCycle is the bookkeeping of one Adjusting window.
type adjustCycle struct {
	prices          map[string]sdkmath.LegacyDec // frozen for the whole window
	startTotalValue sdkmath.Int
	transferValue   sdkmath.Int
	lends           []types.LendAction
	redeems         []types.RedeemResult
}

// Vault is the ledger aggregate: asset registry, strategy registry, debt, the share token and the buffer.
type Vault struct {
	mu sync.RWMutex

	address  string
	treasury string
	bank     *bank.Bank
	token    *pegtoken.Token
	buffer   *buffer.Buffer
	oracle   oracle.PriceOracle
	router   exchange.SwapRouter
	access   *access.Control
	observer OperationObserver
	now      func() time.Time

	params          types.VaultParameters
	assets          map[string]types.Asset
	strategies      map[string]*strategyEntry
	withdrawalQueue []string
	totalDebt       sdkmath.Int

	cycle *adjustCycle // non-nil while Adjusting

	callOuts      atomic.Int32 // calls into strategies or the router in progress
	callOutTarget atomic.Pointer[string]
}

// New creates a vault ledger with an empty share token and buffer.
func New(cfg Config) (*Vault, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("vault configuration validation failed: %w", err)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	token := pegtoken.New(cfg.TokenName, cfg.TokenSymbol, cfg.Address)
	v := &Vault{
		address:    cfg.Address,
		treasury:   cfg.TreasuryAddress,
		bank:       cfg.Bank,
		token:      token,
		buffer:     buffer.New(cfg.BufferAddress, cfg.Address, cfg.Bank, token),
		oracle:     cfg.Oracle,
		router:     cfg.Router,
		access:     cfg.Access,
		observer:   cfg.Observer,
		now:        now,
		params:     cfg.Params,
		assets:     make(map[string]types.Asset),
		strategies: make(map[string]*strategyEntry),
		totalDebt:  sdkmath.ZeroInt(),
	}

	vaultLogger.Info().
		Str("address", v.address).
		Str("buffer", cfg.BufferAddress).
		Str("token", cfg.TokenSymbol).
		Msg("Vault ledger created")
	return v, nil
}

// validateConfig validates the vault configuration
func validateConfig(cfg Config) error {
	if cfg.Address == "" || cfg.BufferAddress == "" || cfg.TreasuryAddress == "" {
		return fmt.Errorf("vault, buffer and treasury addresses are required")
	}
	if cfg.Address == cfg.BufferAddress || cfg.Address == cfg.TreasuryAddress || cfg.BufferAddress == cfg.TreasuryAddress {
		return fmt.Errorf("vault, buffer and treasury addresses must differ")
	}
	if cfg.Bank == nil {
		return fmt.Errorf("bank cannot be nil")
	}
	if cfg.Oracle == nil {
		return fmt.Errorf("price oracle cannot be nil")
	}
	if cfg.Access == nil {
		return fmt.Errorf("access control cannot be nil")
	}
	if cfg.TokenSymbol == "" {
		return fmt.Errorf("token symbol cannot be empty")
	}
	return cfg.Params.Validate()
}

// Address is the vault's custody account.
func (v *Vault) Address() string { return v.address }

// BufferAddress is the deposit buffer's custody account.
func (v *Vault) BufferAddress() string { return v.buffer.Address() }

// TreasuryAddress receives trustee fees.
func (v *Vault) TreasuryAddress() string { return v.treasury }

type opMarker struct{}

type runningOp struct {
	vault *Vault
	name  string
	id    string
}

// inOperation returns the operation already running on this vault in ctx, if any.
func (v *Vault) inOperation(ctx context.Context) (runningOp, bool) {
	op, ok := ctx.Value(opMarker{}).(runningOp)
	return op, ok && op.vault == v
}

// execute runs fn as one atomic, serialized ledger operation.
func (v *Vault) execute(ctx context.Context, name string, fn func(ctx context.Context) error) (err error) {
	if err := v.checkReentry(ctx, name); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	op := runningOp{vault: v, name: name, id: uuid.New().String()}
	opLogger := vaultLogger.With().Str("op", name).Str("op_id", op.id).Logger()
	ctx = context.WithValue(ctx, opMarker{}, op)
	start := time.Now()
	restore := v.checkpoint()

	defer func() {
		if r := recover(); r != nil {
			restore()
			opLogger.Error().Interface("panic", r).Msg("Operation panicked, state restored")
			err = fmt.Errorf("%s panicked: %v", name, r)
		}
		if v.observer != nil {
			v.observer.ObserveOperation(name, time.Since(start), err)
		}
	}()

	if err = fn(ctx); err != nil {
		restore()
		opLogger.Warn().Err(err).Msg("Operation rejected, state restored")
		return err
	}
	opLogger.Debug().Dur("took", time.Since(start)).Msg("Operation committed")
	return nil
}

// query runs fn under the read lock. Reads from inside a running operation are rejected like writes, and so
// are callbacks made from inside the query.
func (v *Vault) query(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	if err := v.checkReentry(ctx, name); err != nil {
		return err
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	return fn(context.WithValue(ctx, opMarker{}, runningOp{vault: v, name: name}))
}

// checkpoint captures every component that an operation may mutate.
func (v *Vault) checkpoint() func() {
	restores := []func(){
		v.bank.Checkpoint(),
		v.token.Checkpoint(),
		v.buffer.Checkpoint(),
		v.checkpointLedger(),
	}
	for _, addr := range v.sortedStrategies() {
		if cp, ok := v.strategies[addr].impl.(types.Checkpointer); ok {
			restores = append(restores, cp.Checkpoint())
		}
	}
	return func() {
		for i := len(restores) - 1; i >= 0; i-- {
			restores[i]()
		}
	}
}

func (v *Vault) checkpointLedger() func() {
	params := v.params
	assets := make(map[string]types.Asset, len(v.assets))
	for k, a := range v.assets {
		assets[k] = a
	}
	strategies := make(map[string]*strategyEntry, len(v.strategies))
	for k, e := range v.strategies {
		cp := *e
		strategies[k] = &cp
	}
	queue := append([]string(nil), v.withdrawalQueue...)
	totalDebt := v.totalDebt
	var cycle *adjustCycle
	if v.cycle != nil {
		c := *v.cycle
		c.prices = make(map[string]sdkmath.LegacyDec, len(v.cycle.prices))
		for k, p := range v.cycle.prices {
			c.prices[k] = p
		}
		c.lends = append([]types.LendAction(nil), v.cycle.lends...)
		c.redeems = append([]types.RedeemResult(nil), v.cycle.redeems...)
		cycle = &c
	}

	return func() {
		v.params = params
		v.assets = assets
		v.strategies = strategies
		v.withdrawalQueue = queue
		v.totalDebt = totalDebt
		v.cycle = cycle
	}
}

func (v *Vault) sortedAssets() []string {
	out := make([]string, 0, len(v.assets))
	for a := range v.assets {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

func (v *Vault) sortedStrategies() []string {
	out := make([]string, 0, len(v.strategies))
	for s := range v.strategies {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (v *Vault) requireIdle(op string) error {
	if v.cycle != nil {
		return errorsmod.Wrapf(types.ErrState, "%s is not allowed while adjusting positions", op)
	}
	return nil
}

func (v *Vault) requireAdjusting(op string) error {
	if v.cycle == nil {
		return errorsmod.Wrapf(types.ErrState, "%s is only allowed while adjusting positions", op)
	}
	return nil
}
