package ledger

import "github.com/rafaelminatto1/dudufisio-AI-sub004/types"

// Re-export common types for convenience so users don't have to import types package.

// Money is re-exported from types package.
type Money = types.Money

// Entity is re-exported from types package.
type Entity = types.Entity

// Re-export Money constructors
var (
	BRL        = types.BRL
	Zero       = types.Zero
	Sum        = types.Sum
	ParseMoney = types.ParseMoney
)
