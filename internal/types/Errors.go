package types

import (
	errorsmod "cosmossdk.io/errors"
)

// ModuleName is the codespace of every error registered by the asset manager.
const ModuleName = "assetmanager"

var (
	ErrInvalidPoolConfig     = errorsmod.Register(ModuleName, 2, "invalid pool config")
	ErrUnauthorized          = errorsmod.Register(ModuleName, 3, "caller is not the pool controller")
	ErrInsufficientBalance   = errorsmod.Register(ModuleName, 4, "insufficient balance")
	ErrSenderNotAssetManager = errorsmod.Register(ModuleName, 5, "Asset Manager must be sender")
	ErrWrongSwapAsset        = errorsmod.Register(ModuleName, 6, "Must swap asset manager's token")
	ErrInternalBalanceUse    = errorsmod.Register(ModuleName, 7, "Can't use Asset Manager's internal balance")
	ErrPoolNotFound          = errorsmod.Register(ModuleName, 8, "pool not found")
	ErrPoolNotConfigured     = errorsmod.Register(ModuleName, 9, "pool has no config")
	ErrInvalidAmount         = errorsmod.Register(ModuleName, 10, "invalid amount")
	ErrInvalidSwap           = errorsmod.Register(ModuleName, 11, "invalid swap")
	ErrSwapLimitExceeded     = errorsmod.Register(ModuleName, 12, "swap limit exceeded")
	ErrSwapDeadline          = errorsmod.Register(ModuleName, 13, "swap deadline passed")
	ErrUnknownAsset          = errorsmod.Register(ModuleName, 14, "unknown asset")
	ErrPoolAlreadyRegistered = errorsmod.Register(ModuleName, 15, "pool already registered")
	ErrStaleLedgerState      = errorsmod.Register(ModuleName, 16, "pool changed since the plan was computed")
)
