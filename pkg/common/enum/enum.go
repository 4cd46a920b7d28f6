package enum

type KVStoreType string

const (
	KVStoreTypeBadger KVStoreType = "badger"
	KVStoreTypeConsul KVStoreType = "consul"
)

type IndexBackend string

const (
	IndexBackendInMemory IndexBackend = "in_memory"
	IndexBackendRedis    IndexBackend = "redis"
)

// NetworkKind selects the RPC dialect used to talk to a network. All
// supported networks currently speak the EVM JSON-RPC dialect.
type NetworkKind string

const (
	NetworkKindEVM NetworkKind = "evm"
)

type LedgerEntryType string

const (
	LedgerEntryCredit LedgerEntryType = "credit"
	LedgerEntryDebit  LedgerEntryType = "debit"
)
