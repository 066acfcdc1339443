package storage

const (
	// TableName is the name of the DynamoDB table for MUC properties and snapshots
	TableName = "muc-properties"

	// Attribute names
	AttrNamespace = "Namespace"
	AttrKey       = "Key"
	AttrValue     = "Value"
	AttrBlob      = "Blob"
	AttrUpdatedAt = "UpdatedAt"

	// GlobalNamespace is the partition used for properties with an empty
	// namespace; DynamoDB key attributes cannot be empty strings.
	GlobalNamespace = "_global"

	// SnapshotNamespace is the partition that holds room snapshots
	SnapshotNamespace = "_snapshots"
)

// TableSchema returns the DynamoDB table creation parameters
type TableSchema struct {
	TableName string
	// Primary key
	PartitionKey string
	SortKey      string
}

// GetTableSchema returns the schema configuration for the properties table
func GetTableSchema() TableSchema {
	return TableSchema{
		TableName:    TableName,
		PartitionKey: AttrNamespace,
		SortKey:      AttrKey,
	}
}

// partition maps a property namespace onto its DynamoDB partition key
func partition(namespace string) string {
	if namespace == "" {
		return GlobalNamespace
	}
	return namespace
}
