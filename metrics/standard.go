package metrics

// Pre-defined metrics for the execution engine. All metrics live in
// DefaultRegistry so they are globally accessible without passing a
// registry around.

var (
	// ---- Trie metrics ----

	// TrieEntries tracks the number of entries reachable from the trie most
	// recently committed.
	TrieEntries = DefaultRegistry.Gauge("trie.entries")
	// TrieCommitTime records trie commit duration in milliseconds.
	TrieCommitTime = DefaultRegistry.Histogram("trie.commit_ms")
	// TrieCommits counts completed trie commits.
	TrieCommits = DefaultRegistry.Counter("trie.commits")
	// TrieNodeCollapses counts single-child node collapses performed after
	// a delete.
	TrieNodeCollapses = DefaultRegistry.Counter("trie.node_collapses")

	// ---- Tracking copy journal metrics ----

	// JournalPendingWrites tracks the number of writes staged in a tracking
	// copy's journal but not yet committed.
	JournalPendingWrites = DefaultRegistry.Gauge("journal.pending_writes")
	// JournalPendingAdds tracks the number of pending commutative adds
	// staged in a tracking copy's journal.
	JournalPendingAdds = DefaultRegistry.Gauge("journal.pending_adds")
	// JournalCommits counts tracking copy commits applied to a source.
	JournalCommits = DefaultRegistry.Counter("journal.commits")
	// JournalCommitFailures counts tracking copy commits that failed to
	// fold onto their source.
	JournalCommitFailures = DefaultRegistry.Counter("journal.commit_failures")

	// ---- Capability metrics ----

	// CapabilitiesWarm tracks the number of URef addresses validated warm
	// in the current invocation's capability set.
	CapabilitiesWarm = DefaultRegistry.Gauge("capabilities.warm")

	// ---- Host-call metrics ----

	// HostCallsTotal counts host import invocations charged gas through
	// chargeHostCall, across all running modules.
	HostCallsTotal = DefaultRegistry.Counter("hostcalls.total")
	// HostCallsFailed counts charged host import invocations refused for
	// running out of gas; other host-call errors are not counted.
	HostCallsFailed = DefaultRegistry.Counter("hostcalls.failed")

	// ---- Raw store metrics ----

	// StoreGets counts reads issued against a PebbleStore; MemoryDB reads
	// are not counted.
	StoreGets = DefaultRegistry.Counter("store.gets")
	// StoreGetErrors counts PebbleStore reads that returned an error other
	// than a missing key.
	StoreGetErrors = DefaultRegistry.Counter("store.get_errors")
	// StoreLatency records PebbleStore read latency in milliseconds.
	StoreLatency = DefaultRegistry.Histogram("store.latency_ms")

	// ---- Deploy metrics ----

	// DeployExecutions counts top-level deploys run by the CLI's run command
	// that finished without error; sub-call executions are not counted.
	DeployExecutions = DefaultRegistry.Counter("deploy.executions")
	// DeployGasUsed counts total gas consumed across all executions.
	DeployGasUsed = DefaultRegistry.Counter("deploy.gas_used")
	// DeployCalls counts top-level deploys started by the CLI's run
	// command; sub-calls triggered from within a deploy are not counted.
	DeployCalls = DefaultRegistry.Counter("deploy.calls")
	// DeployReverts counts top-level deploys that ended in a Revert.
	DeployReverts = DefaultRegistry.Counter("deploy.reverts")
)
