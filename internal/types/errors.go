package types

import (
	errorsmod "cosmossdk.io/errors"
)

// Codespace of every error registered by the vault.
const Codespace = "pegvault"

var (
	ErrUnsupportedAsset      = errorsmod.Register(Codespace, 2, "unsupported asset")
	ErrStrategyDisabled      = errorsmod.Register(Codespace, 3, "strategy disabled")
	ErrInsufficientBalance   = errorsmod.Register(Codespace, 4, "insufficient balance")
	ErrInsufficientLiquidity = errorsmod.Register(Codespace, 5, "insufficient liquidity")
	ErrSlippageExceeded      = errorsmod.Register(Codespace, 6, "slippage exceeded")
	ErrInvalidSupplyChange   = errorsmod.Register(Codespace, 7, "invalid change in supply")
	ErrState                 = errorsmod.Register(Codespace, 8, "operation not allowed in current state")
	ErrLossLimitExceeded     = errorsmod.Register(Codespace, 9, "loss limit exceeded")
	ErrUnauthorized          = errorsmod.Register(Codespace, 10, "unauthorized")

	ErrProfitLimitExceeded   = errorsmod.Register(Codespace, 11, "profit limit exceeded")
	ErrAssetNotEmpty         = errorsmod.Register(Codespace, 12, "asset tracked balance must be zero")
	ErrAssetInUse            = errorsmod.Register(Codespace, 13, "asset wanted by an active strategy")
	ErrStrategyNotFound      = errorsmod.Register(Codespace, 14, "strategy not found")
	ErrStrategyHasDebt       = errorsmod.Register(Codespace, 15, "strategy has outstanding debt")
	ErrStalePrice            = errorsmod.Register(Codespace, 16, "stale price")
	ErrStaleReport           = errorsmod.Register(Codespace, 17, "stale strategy report")
	ErrReentrantCall         = errorsmod.Register(Codespace, 18, "reentrant call")
	ErrInvalidRequest        = errorsmod.Register(Codespace, 19, "invalid request")
	ErrPaused                = errorsmod.Register(Codespace, 20, "no operate during pause")
	ErrInsufficientAllowance = errorsmod.Register(Codespace, 21, "insufficient allowance")
)
