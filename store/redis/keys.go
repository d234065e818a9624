package redis

// Redis key naming conventions for engine data.
// All keys are prefixed with "pulse:" to avoid collisions.

const keyPrefix = "pulse:"

// ── Playbook keys ──

// playbookKey returns the key for a playbook entity: pulse:playbook:{id}
func playbookKey(id string) string { return keyPrefix + "playbook:" + id }

// playbookIDsKey is the Set tracking all playbook IDs for enumeration.
const playbookIDsKey = keyPrefix + "playbook_ids"

// ── Signal keys ──

// signalKey returns the key for a signal entity: pulse:signal:{id}
func signalKey(id string) string { return keyPrefix + "signal:" + id }

// signalIDsKey is the Set tracking all signal IDs for enumeration.
const signalIDsKey = keyPrefix + "signal_ids"

// ── Run keys ──

// runKey returns the key for a run entity: pulse:run:{id}
func runKey(id string) string { return keyPrefix + "run:" + id }

// runIDsKey is the Set tracking all run IDs for enumeration.
const runIDsKey = keyPrefix + "run_ids"

// openRunKey guards the one-open-run invariant for a (playbook, customer)
// pair: pulse:open_run:{playbookID}:{customerID} → runID
func openRunKey(playbookID, customerID string) string {
	return keyPrefix + "open_run:" + playbookID + ":" + customerID
}

// approvedKey is the Sorted Set of approved runs awaiting claim,
// scored by approval time for FIFO dispatch.
const approvedKey = keyPrefix + "approved"

// ── Audit keys ──

// auditKey returns the key for an audit event entity: pulse:audit:{id}
func auditKey(id string) string { return keyPrefix + "audit:" + id }

// auditLogKey is the Sorted Set ordering audit events by creation time.
const auditLogKey = keyPrefix + "audit_log"

// ── Cluster keys ──

// workerKey returns the key for a worker entity: pulse:worker:{id}
func workerKey(id string) string { return keyPrefix + "worker:" + id }

// workerIDsKey is the Set tracking all worker IDs for enumeration.
const workerIDsKey = keyPrefix + "worker_ids"

// leaderKey stores the current leader worker ID with a TTL lease.
const leaderKey = keyPrefix + "leader"
