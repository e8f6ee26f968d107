package redis

// Redis key naming conventions for conveyor data.
// All keys are prefixed with "conveyor:" to avoid collisions.

const keyPrefix = "conveyor:"

// ── Job keys ──

// jobKey returns the key for a job entity: conveyor:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// tenantJobsKey is the Set tracking a tenant's job IDs for enumeration:
// conveyor:tenant:{id}:jobs
func tenantJobsKey(tenantID string) string { return keyPrefix + "tenant:" + tenantID + ":jobs" }

// tenantEligibleKey is the Sorted Set of a tenant's pending and queued job
// IDs, scored for dequeue order: conveyor:tenant:{id}:eligible
func tenantEligibleKey(tenantID string) string {
	return keyPrefix + "tenant:" + tenantID + ":eligible"
}

// tenantsKey is the Set tracking all tenant IDs.
const tenantsKey = keyPrefix + "tenants"

// ── Dead letter keys ──

// deadLetterKey returns the key for a dead letter entity: conveyor:dl:{id}
func deadLetterKey(id string) string { return keyPrefix + "dl:" + id }

// tenantDeadLettersKey is the Sorted Set of a tenant's dead letter entry
// IDs scored by failure time: conveyor:tenant:{id}:dead_letters
func tenantDeadLettersKey(tenantID string) string {
	return keyPrefix + "tenant:" + tenantID + ":dead_letters"
}
