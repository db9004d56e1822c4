package redis

// Key prefixes for primary entity storage.
const (
	prefixEndpoint = "courier:ep:"
	prefixLog      = "courier:log:"
)

// Key prefixes for unique indexes.
const (
	uniqueLogKey = "courier:u:log:" // + endpoint ID + ":" + payload ID
)

// Key prefixes for sorted set indexes.
const (
	zEndpointOwner = "courier:z:ep:owner:" // + owner ID
	zLogEndpoint   = "courier:z:log:ep:"   // + endpoint ID
	zLogRetry      = "courier:z:log:retry"
	zLogPending    = "courier:z:log:pending"
	zLogTerminal   = "courier:z:log:terminal"
)

// Key prefixes for set and hash indexes.
const (
	sEndpointActive = "courier:s:ep:owner:" // + owner ID + ":active"
	hLogStatus      = "courier:h:log:status"
)

// Log hash fields.
const (
	fieldJSON       = "json"
	fieldVersion    = "version"
	fieldStatus     = "status"
	fieldEndpointID = "endpoint_id"
	fieldPayloadID  = "payload_id"
)

// entityKey returns the primary key for an entity.
func entityKey(prefix, id string) string {
	return prefix + id
}

// activeSetKey returns the set key for active endpoints of an owner.
func activeSetKey(ownerID string) string {
	return sEndpointActive + ownerID + ":active"
}

// logUniqueKey returns the key guarding one log per endpoint and payload.
func logUniqueKey(endpointID, payloadID string) string {
	return uniqueLogKey + endpointID + ":" + payloadID
}
