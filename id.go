package ledger

import "github.com/rafaelminatto1/dudufisio-AI-sub004/id"

// ID is the primary identifier type for all ledger entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
